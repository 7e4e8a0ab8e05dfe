package utils

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultCacheTTL = time.Hour
	urlKeyPrefix    = "fhost:url:"
)

// URLCache stores short link targets in Redis. Errors degrade to a miss.
type URLCache struct {
	rc  *redis.Client
	ttl time.Duration
}

// NewURLCache returns nil when rc is nil so callers can skip caching.
func NewURLCache(rc *redis.Client, ttl time.Duration) *URLCache {
	if rc == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &URLCache{rc: rc, ttl: ttl}
}

func urlKey(id uint64) string {
	return urlKeyPrefix + strconv.FormatUint(id, 10)
}

func (c *URLCache) GetURL(ctx context.Context, id uint64) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	v, err := c.rc.Get(ctx, urlKey(id)).Result()
	if err != nil {
		if err != redis.Nil {
			Sugar.Debugf("cache get miss key=%s err=%v", urlKey(id), err)
		}
		return "", false
	}
	return v, true
}

func (c *URLCache) SetURL(ctx context.Context, id uint64, target string) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.rc.Set(ctx, urlKey(id), target, c.ttl).Err(); err != nil {
		Sugar.Warnf("cache set failed key=%s err=%v", urlKey(id), err)
	}
}
