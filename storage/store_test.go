package storage

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const digest = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

func TestPathForIsPure(t *testing.T) {
	s := New("/srv/up")
	assert.Equal(t, filepath.Join("/srv/up", digest), s.PathFor(digest))
	assert.Equal(t, s.PathFor(digest), s.PathFor(digest))
}

func TestSaveCreatesDirAndWritesOnce(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "up")
	s := New(dir)

	require.NoError(t, s.Save(strings.NewReader("hello"), digest))
	assert.True(t, s.Exists(digest))

	// a second save never overwrites
	require.NoError(t, s.Save(strings.NewReader("different"), digest))
	b, err := os.ReadFile(s.PathFor(digest))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must be cleaned up")
}

func TestConcurrentSaveSameDigest(t *testing.T) {
	s := New(t.TempDir())

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Save(strings.NewReader("hello"), digest)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	b, err := os.ReadFile(s.PathFor(digest))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))
}

func TestDeleteToleratesMissing(t *testing.T) {
	s := New(t.TempDir())
	assert.NoError(t, s.Delete(digest))

	require.NoError(t, s.Save(strings.NewReader("x"), digest))
	require.NoError(t, s.Delete(digest))
	assert.False(t, s.Exists(digest))
}

func TestQuarantineMovesFile(t *testing.T) {
	s := New(t.TempDir())
	q := filepath.Join(t.TempDir(), "quarantine")
	require.NoError(t, s.Save(strings.NewReader("evil"), digest))

	require.NoError(t, s.Quarantine(digest, q, "Eb"))
	assert.False(t, s.Exists(digest))
	b, err := os.ReadFile(filepath.Join(q, "Eb"))
	require.NoError(t, err)
	assert.Equal(t, "evil", string(b))
}
