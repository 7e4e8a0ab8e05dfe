package services

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/cppla/fhost/utils"
)

// extOverride pins extensions for types where the sniffing library's
// default choice is not the one users expect.
var extOverride = map[string]string{
	"audio/flac":               ".flac",
	"image/gif":                ".gif",
	"image/jpeg":               ".jpg",
	"image/png":                ".png",
	"image/svg+xml":            ".svg",
	"video/webm":               ".webm",
	"video/x-matroska":         ".mkv",
	"application/octet-stream": ".bin",
	"text/plain":               ".txt",
	"text/x-diff":              ".diff",
}

// TransferFile is an upload being processed. Every derived field is computed
// once at construction.
type TransferFile struct {
	Body         io.ReadSeeker
	Name         string
	SHA256       string
	Size         int64
	MIME         string
	MIMEDetected string
	Ext          string
}

// NewTransferFile hashes and sniffs body, then rewinds it.
func NewTransferFile(body io.ReadSeeker, name, contentType string, maxExtLen int) (*TransferFile, error) {
	h := sha256.New()
	size, err := io.Copy(h, body)
	if err != nil {
		return nil, fmt.Errorf("hash upload: %w", err)
	}
	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind upload: %w", err)
	}
	sniffed, err := mimetype.DetectReader(body)
	if err != nil {
		return nil, fmt.Errorf("detect mime: %w", err)
	}
	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind upload: %w", err)
	}

	tf := &TransferFile{
		Body:         body,
		Name:         utils.SanitizeFilename(name),
		SHA256:       hex.EncodeToString(h.Sum(nil)),
		Size:         size,
		MIMEDetected: baseMIME(sniffed.String()),
	}
	tf.MIME = resolveMIME(contentType, tf.MIMEDetected)
	tf.Ext = pickExt(tf.Name, tf.MIME, maxExtLen)
	return tf, nil
}

func baseMIME(m string) string {
	m, _, _ = strings.Cut(m, ";")
	return strings.TrimSpace(m)
}

// resolveMIME trusts the declared type unless it is missing or generic.
func resolveMIME(declared, detected string) string {
	declared = strings.TrimSpace(declared)
	mime := declared
	if declared == "" || !strings.Contains(declared, "/") || declared == "application/octet-stream" {
		mime = detected
	}
	if strings.HasPrefix(mime, "text/") && !strings.Contains(mime, "charset") {
		mime += "; charset=utf-8"
	}
	return mime
}

// suffixes returns the dotted suffixes of a file name, ".tar.gz" style.
// Leading dots do not start a suffix and a trailing dot yields none.
func suffixes(name string) []string {
	if name == "" || strings.HasSuffix(name, ".") {
		return nil
	}
	parts := strings.Split(strings.TrimLeft(name, "."), ".")
	out := make([]string, 0, len(parts)-1)
	for _, p := range parts[1:] {
		out = append(out, "."+p)
	}
	return out
}

func pickExt(name, mime string, maxLen int) string {
	sfx := suffixes(name)
	if len(sfx) > 2 {
		sfx = sfx[len(sfx)-2:]
	}
	ext := strings.Join(sfx, "")
	if len([]rune(ext)) > maxLen {
		ext = sfx[len(sfx)-1]
	}

	if ext == "" {
		gmime := baseMIME(mime)
		if o, ok := extOverride[gmime]; ok {
			ext = o
		} else if m := mimetype.Lookup(gmime); m != nil {
			ext = m.Extension()
		}
	}

	if r := []rune(ext); len(r) > maxLen {
		ext = string(r[:maxLen])
	}
	if ext == "" {
		return ".bin"
	}
	return ext
}
