package services

import (
	"context"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/fhost/models"
)

func TestAddrFilterNormalizesMappedAddress(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	fs := NewFilterStore(env.db)

	_, err := fs.Add(ctx, models.FilterTypeAddr, "203.0.113.5", "spammer")
	require.NoError(t, err)

	v, err := env.filters.Evaluate(ctx, Subject{Addr: netip.MustParseAddr("::ffff:203.0.113.5")})
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "Your IP Address (203.0.113.5) is blocked from uploading files.", v.Reason)

	v, err = env.filters.Evaluate(ctx, Subject{Addr: netip.MustParseAddr("203.0.113.6")})
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestNetFilter(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := NewFilterStore(env.db).Add(ctx, models.FilterTypeNet, "10.1.0.0/16", "")
	require.NoError(t, err)

	v, err := env.filters.Evaluate(ctx, Subject{Addr: netip.MustParseAddr("::ffff:10.1.200.3")})
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "Your network (10.1.0.0/16) is blocked from uploading files.", v.Reason)

	v, err = env.filters.Evaluate(ctx, Subject{Addr: netip.MustParseAddr("10.2.0.1")})
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestRegexFiltersMatchPrefix(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	fs := NewFilterStore(env.db)
	_, err := fs.Add(ctx, models.FilterTypeUA, "BadBot", "")
	require.NoError(t, err)
	_, err = fs.Add(ctx, models.FilterTypeMIME, "application/x-dosexec", "")
	require.NoError(t, err)

	v, err := env.filters.Evaluate(ctx, Subject{UA: "BadBot/1.0"})
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "User agent not allowed.", v.Reason)

	// anchored at the start, like a prefix match
	v, err = env.filters.Evaluate(ctx, Subject{UA: "Mozilla BadBot"})
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = env.filters.Evaluate(ctx, Subject{MIME: "application/x-dosexec"})
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "File MIME type not allowed.", v.Reason)

	// no file part means MIME filters do not apply
	v, err = env.filters.Evaluate(ctx, Subject{UA: "curl"})
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestFirstMatchWinsInIDOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	fs := NewFilterStore(env.db)
	_, err := fs.Add(ctx, models.FilterTypeNet, "192.0.2.0/24", "")
	require.NoError(t, err)
	_, err = fs.Add(ctx, models.FilterTypeAddr, "192.0.2.1", "")
	require.NoError(t, err)

	v, err := env.filters.Evaluate(ctx, Subject{Addr: netip.MustParseAddr("192.0.2.1")})
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Contains(t, v.Reason, "network")
}

func TestInvalidPatternNeverMatches(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	bad := "("
	require.NoError(t, env.db.Create(&models.RequestFilter{Type: models.FilterTypeUA, Regex: &bad}).Error)

	v, err := env.filters.Evaluate(ctx, Subject{UA: "("})
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestFilterStoreCRUD(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	fs := NewFilterStore(env.db)

	_, err := fs.Add(ctx, "colour", "x", "")
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = fs.Add(ctx, models.FilterTypeAddr, "not-an-ip", "")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	row, err := fs.Add(ctx, models.FilterTypeNet, "::ffff:10.0.0.0/104", "mapped")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.0/8", row.Net.String())

	rows, err := fs.List(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "mapped", rows[0].Comment)

	require.NoError(t, fs.Remove(ctx, row.ID))
	assert.ErrorIs(t, fs.Remove(ctx, row.ID), ErrNotFound)
}
