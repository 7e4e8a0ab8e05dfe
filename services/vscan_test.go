package services

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cppla/fhost/models"
)

// fakeScanner decides by file content.
type fakeScanner struct{}

func (fakeScanner) Scan(_ context.Context, r io.Reader) (ScanResult, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return ScanResult{}, err
	}
	switch {
	case strings.HasPrefix(string(b), "virus"):
		return ScanResult{Status: ScanFound, Signature: "Win.Test.Nasty"}, nil
	case strings.HasPrefix(string(b), "eicar"):
		return ScanResult{Status: ScanFound, Signature: "Eicar-Test-Signature"}, nil
	case strings.HasPrefix(string(b), "broken"):
		return ScanResult{}, errors.New("clamd went away")
	}
	return ScanResult{Status: ScanOK}, nil
}

func TestVirusScanOutcomes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	store := func(content string) uint64 {
		rec, _, err := env.ledger.Store(ctx, env.transfer(t, content, "", "text/plain"), nil, testAddr, "", false)
		require.NoError(t, err)
		return rec.ID
	}
	clean := store("clean file")
	infected := store("virus inside")
	ignored := store("eicar sample")
	broken := store("broken scan")
	missing := store("missing bytes")
	require.NoError(t, env.store.Delete(env.reload(t, missing).SHA256))

	v := NewVirusScanner(env.db, env.store, env.codec, fakeScanner{}, env.cfg, zap.NewNop())
	scanTime := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	v.now = func() time.Time { return scanTime }

	sum, err := v.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, sum.Scanned)
	assert.Equal(t, 1, sum.Clean)
	assert.Equal(t, 1, sum.Quarantined)
	assert.Equal(t, 1, sum.Ignored)
	assert.Equal(t, 2, sum.Failed)

	assert.NotNil(t, env.reload(t, clean).LastVScan)
	assert.False(t, env.reload(t, clean).Removed)

	bad := env.reload(t, infected)
	assert.True(t, bad.Removed)
	assert.NotNil(t, bad.LastVScan)
	assert.False(t, env.store.Exists(bad.SHA256))
	_, err = os.Stat(filepath.Join(env.cfg.VScanQuarantinePath, env.codec.EncodeUint64(infected)+bad.Ext))
	assert.NoError(t, err)

	assert.False(t, env.reload(t, ignored).Removed)
	assert.NotNil(t, env.reload(t, ignored).LastVScan)

	assert.Nil(t, env.reload(t, broken).LastVScan)
	assert.Nil(t, env.reload(t, missing).LastVScan)

	// failures are retried on the next sweep, everything else is up to date
	sum, err = v.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Scanned)
	assert.Equal(t, 2, sum.Failed)
}

func TestVirusScanInterval(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec, _, err := env.ledger.Store(ctx, env.transfer(t, "periodic", "", "text/plain"), nil, testAddr, "", false)
	require.NoError(t, err)

	v := NewVirusScanner(env.db, env.store, env.codec, fakeScanner{}, env.cfg, zap.NewNop())
	first := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	v.now = func() time.Time { return first }
	sum, err := v.Scan(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, sum.Scanned)

	v.now = func() time.Time { return first.Add(24 * time.Hour) }
	sum, err = v.Scan(ctx)
	require.NoError(t, err)
	assert.Zero(t, sum.Scanned)

	v.now = func() time.Time { return first.Add(8 * 24 * time.Hour) }
	sum, err = v.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Scanned)
	assert.False(t, env.reload(t, rec.ID).Removed)
}

// takedownScanner removes the file from the ledger while its scan is running.
type takedownScanner struct {
	env *testEnv
	id  uint64
}

func (s takedownScanner) Scan(ctx context.Context, r io.Reader) (ScanResult, error) {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return ScanResult{}, err
	}
	err := s.env.db.Model(&models.File{}).Where("id = ?", s.id).Updates(map[string]any{
		"removed":    true,
		"expiration": nil,
		"mgmt_token": nil,
	}).Error
	return ScanResult{Status: ScanOK}, err
}

func TestVirusScanKeepsConcurrentTakedown(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec, _, err := env.ledger.Store(ctx, env.transfer(t, "clean but reported", "", "text/plain"), nil, testAddr, "", false)
	require.NoError(t, err)

	v := NewVirusScanner(env.db, env.store, env.codec, takedownScanner{env: env, id: rec.ID}, env.cfg, zap.NewNop())
	v.now = func() time.Time { return time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC) }

	sum, err := v.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Clean)

	got := env.reload(t, rec.ID)
	assert.True(t, got.Removed)
	assert.NotNil(t, got.LastVScan)
}
