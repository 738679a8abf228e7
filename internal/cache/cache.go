// Package cache remembers which submission last produced a profile for a
// company URL so repeat requests can reuse it.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// DefaultTTL matches the profile reuse window.
const DefaultTTL = 24 * time.Hour

// Profiles maps a normalized company URL to the job id of its latest
// completed profile.
type Profiles interface {
	Lookup(ctx context.Context, companyURL string) (jobID string, ok bool, err error)
	Remember(ctx context.Context, companyURL, jobID string) error
}

// Redis stores entries as plain string keys with a TTL.
type Redis struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	prefix string
}

// NewRedis returns a Redis-backed cache. A non-positive ttl uses DefaultTTL.
func NewRedis(rdb redis.Cmdable, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{rdb: rdb, ttl: ttl, prefix: "profile_cache:"}
}

func (c *Redis) key(companyURL string) string {
	return c.prefix + companyURL
}

func (c *Redis) Lookup(ctx context.Context, companyURL string) (string, bool, error) {
	jobID, err := c.rdb.Get(ctx, c.key(companyURL)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, eris.Wrapf(err, "cache: lookup %s", companyURL)
	}
	return jobID, true, nil
}

func (c *Redis) Remember(ctx context.Context, companyURL, jobID string) error {
	err := c.rdb.Set(ctx, c.key(companyURL), jobID, c.ttl).Err()
	return eris.Wrapf(err, "cache: remember %s", companyURL)
}

// Nop never hits. It is used when Redis is not configured.
type Nop struct{}

func (Nop) Lookup(context.Context, string) (string, bool, error) { return "", false, nil }

func (Nop) Remember(context.Context, string, string) error { return nil }
