package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"security-intel/internal/client"
	"security-intel/internal/config"
	"security-intel/internal/model"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "top_attackers:20@42", Key("top_attackers", 42, 20))
	assert.Equal(t, "geo_distribution@7", Key("geo_distribution", 7))
	assert.NotEqual(t, Key("severity_trend", 1, 168), Key("severity_trend", 2, 168))
}

func TestLRU_RoundTripReturnsIndependentCopies(t *testing.T) {
	c := NewLRU(8, time.Minute, zap.NewNop())
	ctx := context.Background()

	in := []model.SeverityShare{{Severity: model.SeverityHigh, Count: 3, Percentage: 100}}
	c.Set(ctx, "k", in)

	var out []model.SeverityShare
	require.True(t, c.Get(ctx, "k", &out))
	assert.Equal(t, in, out)

	out[0].Count = 99
	var again []model.SeverityShare
	require.True(t, c.Get(ctx, "k", &again))
	assert.Equal(t, int64(3), again[0].Count)

	assert.False(t, c.Get(ctx, "missing", &out))
}

func TestLRU_EvictsOldest(t *testing.T) {
	c := NewLRU(2, time.Minute, zap.NewNop())
	ctx := context.Background()
	c.Set(ctx, "a", 1)
	c.Set(ctx, "b", 2)
	c.Set(ctx, "c", 3)

	var v int
	assert.False(t, c.Get(ctx, "a", &v))
	assert.True(t, c.Get(ctx, "c", &v))
	assert.Equal(t, 3, v)
	assert.Equal(t, 2, c.Len())
}

type fakeStore struct {
	data map[string][]byte
	ttl  time.Duration
	err  error
}

func (f *fakeStore) Get(_ context.Context, key string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.data[key]
	if !ok {
		return nil, client.ErrCacheMiss
	}
	return v, nil
}

func (f *fakeStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if f.err != nil {
		return f.err
	}
	f.data[key] = value
	f.ttl = ttl
	return nil
}

func TestRedis_RoundTrip(t *testing.T) {
	store := &fakeStore{data: map[string][]byte{}}
	c := NewRedis(store, 5*time.Minute, zap.NewNop())
	ctx := context.Background()

	c.Set(ctx, "k", map[string]int{"a": 1})
	assert.Contains(t, store.data, "results:k")
	assert.Equal(t, 5*time.Minute, store.ttl)

	var out map[string]int
	require.True(t, c.Get(ctx, "k", &out))
	assert.Equal(t, 1, out["a"])
	assert.False(t, c.Get(ctx, "other", &out))
}

func TestRedis_FailuresBehaveAsMiss(t *testing.T) {
	store := &fakeStore{data: map[string][]byte{}, err: errors.New("connection refused")}
	c := NewRedis(store, time.Minute, zap.NewNop())

	c.Set(context.Background(), "k", 1)
	var v int
	assert.False(t, c.Get(context.Background(), "k", &v))
}

func TestNew_SelectsBackend(t *testing.T) {
	cfg := &config.Config{Cache: config.CacheConfig{Backend: "none"}}
	assert.IsType(t, Noop{}, New(cfg, nil, zap.NewNop()))

	cfg.Cache = config.CacheConfig{Backend: "lru", Size: 4, TTL: time.Minute}
	assert.IsType(t, &LRU{}, New(cfg, nil, zap.NewNop()))

	cfg.Cache.Backend = "redis"
	assert.IsType(t, &LRU{}, New(cfg, nil, zap.NewNop()))
}
