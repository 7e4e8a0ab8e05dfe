package services

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPruneTwice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	short := int64(1)
	expired, _, err := env.ledger.Store(ctx, env.transfer(t, "short lived", "", "text/plain"), &short, testAddr, "", false)
	require.NoError(t, err)
	kept, _, err := env.ledger.Store(ctx, env.transfer(t, "long lived", "", "text/plain"), nil, testAddr, "", false)
	require.NoError(t, err)

	p := NewPruner(env.db, env.store, zap.NewNop())
	p.now = func() time.Time { return fixedNow.Add(2 * time.Hour) }

	res, err := p.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Expired)
	assert.Nil(t, env.reload(t, expired.ID).Expiration)
	assert.False(t, env.store.Exists(expired.SHA256))
	assert.NotNil(t, env.reload(t, kept.ID).Expiration)
	assert.True(t, env.store.Exists(kept.SHA256))

	res, err = p.Prune(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Expired)
	assert.Zero(t, res.Skipped)
}

func TestPruneToleratesMissingBytes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	short := int64(1)
	rec, _, err := env.ledger.Store(ctx, env.transfer(t, "vanished", "", "text/plain"), &short, testAddr, "", false)
	require.NoError(t, err)
	require.NoError(t, os.Remove(env.store.PathFor(rec.SHA256)))

	p := NewPruner(env.db, env.store, zap.NewNop())
	p.now = func() time.Time { return fixedNow.Add(2 * time.Hour) }

	res, err := p.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Expired)
	assert.Nil(t, env.reload(t, rec.ID).Expiration)
}

func TestPruneCancelledCommitsNothingPending(t *testing.T) {
	env := newTestEnv(t)
	short := int64(1)
	rec, _, err := env.ledger.Store(context.Background(), env.transfer(t, "cancel", "", "text/plain"), &short, testAddr, "", false)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewPruner(env.db, env.store, zap.NewNop())
	p.now = func() time.Time { return fixedNow.Add(2 * time.Hour) }

	res, err := p.Prune(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Expired)
	assert.NotNil(t, env.reload(t, rec.ID).Expiration)
	assert.True(t, env.store.Exists(rec.SHA256))
}
