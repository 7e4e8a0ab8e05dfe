package services

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClamd accepts one INSTREAM session per connection and reports FOUND
// when the streamed bytes contain "EVIL".
func fakeClamd(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				r := bufio.NewReader(c)
				cmd, err := r.ReadString(0)
				if err != nil || cmd != "zINSTREAM\x00" {
					c.Write([]byte("UNKNOWN COMMAND\x00"))
					return
				}
				var body strings.Builder
				for {
					var size [4]byte
					if _, err := io.ReadFull(r, size[:]); err != nil {
						return
					}
					n := binary.BigEndian.Uint32(size[:])
					if n == 0 {
						break
					}
					chunk := make([]byte, n)
					if _, err := io.ReadFull(r, chunk); err != nil {
						return
					}
					body.Write(chunk)
				}
				if strings.Contains(body.String(), "EVIL") {
					c.Write([]byte("stream: Win.Test.EVIL FOUND\x00"))
					return
				}
				c.Write([]byte("stream: OK\x00"))
			}(conn)
		}
	}()
	return "tcp://" + ln.Addr().String()
}

func TestClamdScanner(t *testing.T) {
	s, err := NewClamdScanner(fakeClamd(t))
	require.NoError(t, err)
	ctx := context.Background()

	res, err := s.Scan(ctx, strings.NewReader("harmless"))
	require.NoError(t, err)
	assert.Equal(t, ScanOK, res.Status)

	big := strings.Repeat("a", 3*clamdChunkSize) + "EVIL"
	res, err = s.Scan(ctx, strings.NewReader(big))
	require.NoError(t, err)
	assert.Equal(t, ScanFound, res.Status)
	assert.Equal(t, "Win.Test.EVIL", res.Signature)
}

func TestParseClamdReply(t *testing.T) {
	res, err := parseClamdReply("stream: OK\x00")
	require.NoError(t, err)
	assert.Equal(t, ScanOK, res.Status)

	_, err = parseClamdReply("INSTREAM size limit exceeded. ERROR\x00")
	assert.Error(t, err)
}

func TestNewClamdScannerAddresses(t *testing.T) {
	s, err := NewClamdScanner("unix:///run/clamav/clamd.ctl")
	require.NoError(t, err)
	assert.Equal(t, "unix", s.network)
	assert.Equal(t, "/run/clamav/clamd.ctl", s.address)

	_, err = NewClamdScanner("clamd.example:3310")
	assert.Error(t, err)
}
