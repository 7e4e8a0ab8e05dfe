package services

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

func TestNewTransferFileDerivesFields(t *testing.T) {
	tf, err := NewTransferFile(bytes.NewReader([]byte("hello")), "greeting.txt", "", 9)
	require.NoError(t, err)

	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", tf.SHA256)
	assert.Equal(t, int64(5), tf.Size)
	assert.Equal(t, "text/plain", tf.MIMEDetected)
	assert.Equal(t, "text/plain; charset=utf-8", tf.MIME)
	assert.Equal(t, ".txt", tf.Ext)

	// body is rewound for the store
	b, err := io.ReadAll(tf.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))
}

func TestResolveMIMEPrefersDeclared(t *testing.T) {
	assert.Equal(t, "image/webp", resolveMIME("image/webp", "image/png"))
	assert.Equal(t, "image/png", resolveMIME("application/octet-stream", "image/png"))
	assert.Equal(t, "image/png", resolveMIME("garbage", "image/png"))
	assert.Equal(t, "text/csv; charset=latin1", resolveMIME("text/csv; charset=latin1", "text/plain"))
	assert.Equal(t, "text/html; charset=utf-8", resolveMIME("text/html", "text/plain"))
}

func TestPickExt(t *testing.T) {
	cases := []struct {
		name, mime, want string
	}{
		{"archive.tar.gz", "application/gzip", ".tar.gz"},
		{"a.b.c.d", "text/plain", ".c.d"},
		{"backup.verylongext.gz", "application/gzip", ".gz"},
		{"noext", "image/jpeg", ".jpg"},
		{"noext", "image/png", ".png"},
		{".bashrc", "text/plain; charset=utf-8", ".txt"},
		{"", "application/x-unknown-thing", ".bin"},
		{"x.abcdefghijkl", "text/plain", ".abcdefgh"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, pickExt(tc.name, tc.mime, 9), "%s %s", tc.name, tc.mime)
	}
}

func TestTransferSniffsWhenUndeclared(t *testing.T) {
	tf, err := NewTransferFile(bytes.NewReader(pngHeader), "", "application/octet-stream", 9)
	require.NoError(t, err)
	assert.Equal(t, "image/png", tf.MIMEDetected)
	assert.Equal(t, "image/png", tf.MIME)
	assert.Equal(t, ".png", tf.Ext)
}

func TestTransferSanitizesName(t *testing.T) {
	tf, err := NewTransferFile(bytes.NewReader([]byte("x")), "../../etc/<b>pass</b>wd.txt", "text/plain", 9)
	require.NoError(t, err)
	assert.Equal(t, "passwd.txt", tf.Name)
}
