package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, ttl time.Duration) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedis(rdb, ttl), mr
}

func TestRedis_RememberAndLookup(t *testing.T) {
	c, mr := newTestCache(t, 0)
	ctx := context.Background()

	_, ok, err := c.Lookup(ctx, "https://acme.com")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Remember(ctx, "https://acme.com", "job-1"))
	jobID, ok, err := c.Lookup(ctx, "https://acme.com")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "job-1", jobID)

	got, err := mr.Get("profile_cache:https://acme.com")
	require.NoError(t, err)
	assert.Equal(t, "job-1", got)
	assert.Equal(t, DefaultTTL, mr.TTL("profile_cache:https://acme.com"))
}

func TestRedis_Expires(t *testing.T) {
	c, mr := newTestCache(t, time.Hour)
	ctx := context.Background()
	require.NoError(t, c.Remember(ctx, "https://acme.com", "job-1"))

	mr.FastForward(61 * time.Minute)
	_, ok, err := c.Lookup(ctx, "https://acme.com")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedis_Unavailable(t *testing.T) {
	c, mr := newTestCache(t, 0)
	mr.Close()

	_, ok, err := c.Lookup(context.Background(), "https://acme.com")
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Error(t, c.Remember(context.Background(), "https://acme.com", "job-1"))
}

func TestNop(t *testing.T) {
	_, ok, err := Nop{}.Lookup(context.Background(), "x")
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, Nop{}.Remember(context.Background(), "x", "y"))
}
