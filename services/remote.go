package services

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/cppla/fhost/config"
)

// Fetcher downloads remote files for storage.
type Fetcher struct {
	client    *http.Client
	maxLength int64
	maxExtLen int
	tmpDir    string
}

func NewFetcher(cfg config.AppConfig) *Fetcher {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DisableCompression = true
	if cfg.RemoteInsecureSkipVerify {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // operator opt-in
	}
	return &Fetcher{
		client: &http.Client{
			Transport: tr,
			Timeout:   time.Duration(cfg.RemoteTimeoutSec) * time.Second,
		},
		maxLength: cfg.MaxContentLength,
		maxExtLen: cfg.MaxExtLength,
	}
}

// WithClient replaces the HTTP client.
func (f *Fetcher) WithClient(c *http.Client) *Fetcher {
	f.client = c
	return f
}

// Fetch downloads target into a temporary file and describes it. The caller
// must call the returned cleanup func once done with the TransferFile.
func (f *Fetcher) Fetch(ctx context.Context, target string) (*TransferFile, func(), error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, &RemoteError{Status: resp.StatusCode, URL: target}
	}
	if resp.ContentLength < 0 {
		return nil, nil, ErrLengthRequired
	}
	if resp.ContentLength > f.maxLength {
		return nil, nil, ErrTooLarge
	}

	tmp, err := os.CreateTemp(f.tmpDir, "fhost-remote-*")
	if err != nil {
		return nil, nil, fmt.Errorf("create temp file: %w", err)
	}
	cleanup := func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}

	n, err := io.Copy(tmp, io.LimitReader(resp.Body, resp.ContentLength))
	if err == nil && n < resp.ContentLength {
		err = io.ErrUnexpectedEOF
	}
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("download %s: %w", target, err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return nil, nil, err
	}

	tf, err := NewTransferFile(tmp, "", resp.Header.Get("Content-Type"), f.maxExtLen)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return tf, cleanup, nil
}
