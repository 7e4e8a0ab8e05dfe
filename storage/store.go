// Package storage keeps uploaded bytes on local disk, addressed by content digest.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// ContentStore is a flat directory of files named by their hex SHA-256 digest.
// A file is written at most once; later writers of the same digest are no-ops.
type ContentStore struct {
	dir  string
	once sync.Once
	err  error
}

// New returns a store rooted at dir. The directory is created lazily.
func New(dir string) *ContentStore {
	return &ContentStore{dir: dir}
}

// PathFor maps a digest to its on-disk location.
func (s *ContentStore) PathFor(digest string) string {
	return filepath.Join(s.dir, digest)
}

func (s *ContentStore) ensureDir() error {
	s.once.Do(func() {
		if err := os.MkdirAll(s.dir, 0o750); err != nil {
			s.err = fmt.Errorf("create storage dir %s: %w", s.dir, err)
		}
	})
	return s.err
}

// Exists reports whether bytes for digest are on disk.
func (s *ContentStore) Exists(digest string) bool {
	_, err := os.Stat(s.PathFor(digest))
	return err == nil
}

// Save persists r under digest unless a file is already there.
// The data goes to a temp file that is fsynced and then linked into place,
// so readers never observe a partial file and a concurrent writer that got
// there first wins.
func (s *ContentStore) Save(r io.Reader, digest string) error {
	if err := s.ensureDir(); err != nil {
		return err
	}
	dst := s.PathFor(digest)
	if _, err := os.Stat(dst); err == nil {
		return nil
	}

	tmp, err := os.CreateTemp(s.dir, "."+digest+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", digest, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsync %s: %w", digest, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", digest, err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", digest, err)
	}

	if err := os.Link(tmpPath, dst); err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil
		}
		return fmt.Errorf("link %s: %w", digest, err)
	}
	return nil
}

// Open opens the stored file for reading. The caller closes it.
func (s *ContentStore) Open(digest string) (*os.File, error) {
	return os.Open(s.PathFor(digest))
}

// Delete unlinks the file. A missing file is not an error.
func (s *ContentStore) Delete(digest string) error {
	err := os.Remove(s.PathFor(digest))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", digest, err)
	}
	return nil
}

// Quarantine moves the file for digest to dir/name.
func (s *ContentStore) Quarantine(digest, dir, name string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create quarantine dir %s: %w", dir, err)
	}
	if err := os.Rename(s.PathFor(digest), filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("quarantine %s: %w", digest, err)
	}
	return nil
}
