package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg := FromEnv()

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 50, cfg.Query.DefaultPageSize)
	assert.Equal(t, 168, cfg.Query.DefaultTrendBuckets)
	assert.Equal(t, 20, cfg.Query.DefaultAttackers)
	assert.Equal(t, "lru", cfg.Cache.Backend)
	assert.False(t, cfg.Kafka.Enabled)
	require.NoError(t, cfg.Validate())
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("QUERY_TIMEOUT", "5s")
	t.Setenv("QUERY_MAX_PAGE_SIZE", "500")
	t.Setenv("CACHE_BACKEND", "redis")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://soc.example.com")

	cfg := FromEnv()
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 5*time.Second, cfg.Query.Timeout)
	assert.Equal(t, 500, cfg.Query.MaxPageSize)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, []string{"https://soc.example.com"}, cfg.Server.AllowedOrigins)
	require.NoError(t, cfg.Validate())
}

func TestValidate_RejectsImpossibleValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero timeout", func(c *Config) { c.Query.Timeout = 0 }},
		{"inverted page bounds", func(c *Config) { c.Query.MinPageSize = 300 }},
		{"default page outside bounds", func(c *Config) { c.Query.DefaultPageSize = 5 }},
		{"default trend above max", func(c *Config) { c.Query.DefaultTrendBuckets = 5000 }},
		{"default attackers above max", func(c *Config) { c.Query.DefaultAttackers = 101 }},
		{"unknown cache backend", func(c *Config) { c.Cache.Backend = "memcached" }},
		{"empty lru", func(c *Config) { c.Cache.Size = 0 }},
		{"no partitions", func(c *Config) { c.Bucketing.Partitions = 0 }},
		{"kafka without brokers", func(c *Config) { c.Kafka.Enabled = true; c.Kafka.Brokers = nil }},
		{"clickhouse without batch", func(c *Config) { c.Clickhouse.Enabled = true; c.Clickhouse.BatchSize = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := FromEnv()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
