package services

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

// ScanStatus is the verdict for one file.
type ScanStatus string

const (
	ScanOK           ScanStatus = "OK"
	ScanFound        ScanStatus = "FOUND"
	ScanFailed       ScanStatus = "SCAN FAILED"
	ScanFileNotFound ScanStatus = "FILE NOT FOUND"
)

// ScanResult is a verdict plus the signature name for ScanFound.
type ScanResult struct {
	Status    ScanStatus
	Signature string
}

// Scanner inspects a byte stream for malware.
type Scanner interface {
	Scan(ctx context.Context, r io.Reader) (ScanResult, error)
}

const clamdChunkSize = 64 * 1024

// ClamdScanner talks to clamd with the INSTREAM command.
type ClamdScanner struct {
	network string
	address string
	timeout time.Duration
}

// NewClamdScanner accepts unix:///path/to/socket, tcp://host:port, or a bare
// socket path.
func NewClamdScanner(addr string) (*ClamdScanner, error) {
	s := &ClamdScanner{timeout: 5 * time.Minute}
	switch {
	case strings.HasPrefix(addr, "unix://"):
		s.network, s.address = "unix", strings.TrimPrefix(addr, "unix://")
	case strings.HasPrefix(addr, "tcp://"):
		s.network, s.address = "tcp", strings.TrimPrefix(addr, "tcp://")
	case strings.HasPrefix(addr, "/"):
		s.network, s.address = "unix", addr
	default:
		return nil, fmt.Errorf("unsupported clamd address %q", addr)
	}
	return s, nil
}

func (s *ClamdScanner) Scan(ctx context.Context, r io.Reader) (ScanResult, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, s.network, s.address)
	if err != nil {
		return ScanResult{}, fmt.Errorf("dial clamd: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(s.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)

	if _, err := conn.Write([]byte("zINSTREAM\x00")); err != nil {
		return ScanResult{}, fmt.Errorf("send command: %w", err)
	}

	buf := make([]byte, clamdChunkSize)
	var size [4]byte
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			binary.BigEndian.PutUint32(size[:], uint32(n))
			if _, err := conn.Write(size[:]); err != nil {
				return ScanResult{}, fmt.Errorf("send chunk: %w", err)
			}
			if _, err := conn.Write(buf[:n]); err != nil {
				return ScanResult{}, fmt.Errorf("send chunk: %w", err)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return ScanResult{}, fmt.Errorf("read file: %w", rerr)
		}
	}
	binary.BigEndian.PutUint32(size[:], 0)
	if _, err := conn.Write(size[:]); err != nil {
		return ScanResult{}, fmt.Errorf("terminate stream: %w", err)
	}

	reply, err := bufio.NewReader(conn).ReadString(0)
	if err != nil && err != io.EOF {
		return ScanResult{}, fmt.Errorf("read reply: %w", err)
	}
	return parseClamdReply(reply)
}

// parseClamdReply handles "stream: OK", "stream: <sig> FOUND" and
// "<message> ERROR".
func parseClamdReply(reply string) (ScanResult, error) {
	reply = strings.TrimRight(reply, "\x00\r\n ")
	_, verdict, ok := strings.Cut(reply, ": ")
	if !ok {
		verdict = reply
	}
	switch {
	case verdict == "OK":
		return ScanResult{Status: ScanOK}, nil
	case strings.HasSuffix(verdict, " FOUND"):
		return ScanResult{Status: ScanFound, Signature: strings.TrimSuffix(verdict, " FOUND")}, nil
	default:
		return ScanResult{}, fmt.Errorf("clamd: %s", reply)
	}
}
