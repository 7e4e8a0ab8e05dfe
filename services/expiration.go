package services

import (
	"math"
	"time"

	"github.com/cppla/fhost/config"
)

// ExpirationEpochThreshold separates the two meanings of a requested
// expiration. Values below it are a lifetime in hours, values at or above it
// are an absolute epoch timestamp in milliseconds. It is 2022-04-20T13:12:00Z.
const ExpirationEpochThreshold int64 = 1650460320000

const hourMillis = int64(time.Hour / time.Millisecond)

// ExpirationPolicy computes how long an upload may live. Bigger files get
// shorter lifetimes along a cubic curve between MaxLifespan and MinLifespan.
type ExpirationPolicy struct {
	MinLifespan int64 // ms, reached at MaxSize
	MaxLifespan int64 // ms, reached at size 0
	MaxSize     int64

	now func() time.Time
}

// NewExpirationPolicy builds a policy from configuration.
func NewExpirationPolicy(cfg config.AppConfig) *ExpirationPolicy {
	return &ExpirationPolicy{
		MinLifespan: cfg.MinExpiration,
		MaxLifespan: cfg.MaxExpiration,
		MaxSize:     cfg.MaxContentLength,
		now:         time.Now,
	}
}

// WithClock replaces the time source.
func (p *ExpirationPolicy) WithClock(now func() time.Time) *ExpirationPolicy {
	p.now = now
	return p
}

// NowMillis is the policy clock in epoch milliseconds.
func (p *ExpirationPolicy) NowMillis() int64 {
	return p.now().UnixMilli()
}

// Lifespan returns the maximum retention in milliseconds for a file of size bytes.
func (p *ExpirationPolicy) Lifespan(size int64) int64 {
	lo, hi := float64(p.MinLifespan), float64(p.MaxLifespan)
	ratio := float64(size)/float64(p.MaxSize) - 1
	return p.MinLifespan + int64((lo-hi)*math.Pow(ratio, 3))
}

// Effective returns the expiration timestamp (epoch ms) for an upload.
// A nil request gets the full lifespan; otherwise the request is clamped to it.
func (p *ExpirationPolicy) Effective(requested *int64, size int64) int64 {
	now := p.NowMillis()
	limit := p.Lifespan(size) + now
	if requested == nil {
		return limit
	}
	var want int64
	switch {
	case *requested < (math.MinInt64+now)/hourMillis:
		// saturate instead of wrapping into the future
		want = math.MinInt64
	case *requested < ExpirationEpochThreshold:
		want = now + *requested*hourMillis
	default:
		want = *requested
	}
	if want < limit {
		return want
	}
	return limit
}
