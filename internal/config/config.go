package config

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"security-intel/internal/util"
)

type Config struct {
	Environment   string
	Server        ServerConfig
	Logging       LoggingConfig
	Store         StoreConfig
	Query         QueryConfig
	Cache         CacheConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Clickhouse    ClickhouseConfig
	Elasticsearch ElasticsearchConfig
	Breaker       BreakerConfig
	Bucketing     BucketingConfig
}

type ServerConfig struct {
	Port           int
	TLSPort        int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	EnableTLS      bool
	AutoCert       bool
	Domain         string
	CertFile       string
	KeyFile        string
	AutoCertDir    string
	Email          string
	AllowedOrigins []string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type StoreConfig struct {
	InitialCapacity int
}

type QueryConfig struct {
	Timeout             time.Duration
	DefaultPageSize     int
	MinPageSize         int
	MaxPageSize         int
	DefaultTrendBuckets int
	MaxTrendBuckets     int
	DefaultAttackers    int
	MaxAttackers        int
	Workers             int
}

type CacheConfig struct {
	Backend string // none, lru or redis
	Size    int
	TTL     time.Duration
}

type RedisConfig struct {
	URL       string
	Password  string
	DB        int
	PoolSize  int
	KeyPrefix string
}

type KafkaConfig struct {
	Enabled  bool
	Brokers  []string
	Topic    string
	GroupID  string
	DLQTopic string
}

type ClickhouseConfig struct {
	Enabled        bool
	URL            string
	Username       string
	Password       string
	Database       string
	Table          string
	BatchSize      int
	FlushInterval  time.Duration
	HydrateOnStart bool
}

type ElasticsearchConfig struct {
	Enabled  bool
	URL      string
	Username string
	Password string
	Index    string
}

type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

type BucketingConfig struct {
	Partitions int
}

var (
	current *Config
	once    sync.Once
)

// LoadConfig reads .env (when present) and the process environment.
func LoadConfig() *Config {
	once.Do(func() {
		_ = godotenv.Load()
		current = FromEnv()
	})
	return current
}

// Get returns the loaded configuration.
func Get() *Config {
	return LoadConfig()
}

// FromEnv builds a Config from the environment without touching the
// process singleton.
func FromEnv() *Config {
	return &Config{
		Environment: util.GetEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Port:           util.GetEnvInt("SERVER_PORT", 8000),
			TLSPort:        util.GetEnvInt("SERVER_TLS_PORT", 8443),
			ReadTimeout:    util.GetEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   util.GetEnvDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:    util.GetEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			EnableTLS:      util.GetEnvBool("SERVER_ENABLE_TLS", false),
			AutoCert:       util.GetEnvBool("SERVER_AUTOCERT", false),
			Domain:         util.GetEnv("SERVER_DOMAIN", "localhost"),
			CertFile:       util.GetEnv("SERVER_CERT_FILE", ""),
			KeyFile:        util.GetEnv("SERVER_KEY_FILE", ""),
			AutoCertDir:    util.GetEnv("SERVER_AUTOCERT_DIR", "./certs"),
			Email:          util.GetEnv("SERVER_ACME_EMAIL", ""),
			AllowedOrigins: util.GetEnvSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Logging: LoggingConfig{
			Level:  util.GetEnv("LOG_LEVEL", "info"),
			Format: util.GetEnv("LOG_FORMAT", "console"),
		},
		Store: StoreConfig{
			InitialCapacity: util.GetEnvInt("STORE_INITIAL_CAPACITY", 1<<20),
		},
		Query: QueryConfig{
			Timeout:             util.GetEnvDuration("QUERY_TIMEOUT", 30*time.Second),
			DefaultPageSize:     util.GetEnvInt("QUERY_DEFAULT_PAGE_SIZE", 50),
			MinPageSize:         util.GetEnvInt("QUERY_MIN_PAGE_SIZE", 10),
			MaxPageSize:         util.GetEnvInt("QUERY_MAX_PAGE_SIZE", 200),
			DefaultTrendBuckets: util.GetEnvInt("QUERY_DEFAULT_TREND_BUCKETS", 168),
			MaxTrendBuckets:     util.GetEnvInt("QUERY_MAX_TREND_BUCKETS", 1000),
			DefaultAttackers:    util.GetEnvInt("QUERY_DEFAULT_ATTACKERS", 20),
			MaxAttackers:        util.GetEnvInt("QUERY_MAX_ATTACKERS", 100),
			Workers:             util.GetEnvInt("QUERY_WORKERS", 0),
		},
		Cache: CacheConfig{
			Backend: util.GetEnv("CACHE_BACKEND", "lru"),
			Size:    util.GetEnvInt("CACHE_SIZE", 256),
			TTL:     util.GetEnvDuration("CACHE_TTL", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:       util.GetEnv("REDIS_URL", "redis://localhost:6379/0"),
			Password:  util.GetEnv("REDIS_PASSWORD", ""),
			DB:        util.GetEnvInt("REDIS_DB", 0),
			PoolSize:  util.GetEnvInt("REDIS_POOL_SIZE", 20),
			KeyPrefix: util.GetEnv("REDIS_KEY_PREFIX", "secintel:"),
		},
		Kafka: KafkaConfig{
			Enabled:  util.GetEnvBool("KAFKA_ENABLED", false),
			Brokers:  util.GetEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:    util.GetEnv("KAFKA_EVENTS_TOPIC", "security-events"),
			GroupID:  util.GetEnv("KAFKA_GROUP_ID", "security-intel"),
			DLQTopic: util.GetEnv("KAFKA_DLQ_TOPIC", "security-events-dlq"),
		},
		Clickhouse: ClickhouseConfig{
			Enabled:        util.GetEnvBool("CLICKHOUSE_ENABLED", false),
			URL:            util.GetEnv("CLICKHOUSE_URL", "localhost:9000"),
			Username:       util.GetEnv("CLICKHOUSE_USER", "default"),
			Password:       util.GetEnv("CLICKHOUSE_PASSWORD", ""),
			Database:       util.GetEnv("CLICKHOUSE_DATABASE", "security_intel"),
			Table:          util.GetEnv("CLICKHOUSE_TABLE", "security_events"),
			BatchSize:      util.GetEnvInt("CLICKHOUSE_BATCH_SIZE", 5000),
			FlushInterval:  util.GetEnvDuration("CLICKHOUSE_FLUSH_INTERVAL", 2*time.Second),
			HydrateOnStart: util.GetEnvBool("CLICKHOUSE_HYDRATE", true),
		},
		Elasticsearch: ElasticsearchConfig{
			Enabled:  util.GetEnvBool("ELASTICSEARCH_ENABLED", false),
			URL:      util.GetEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
			Username: util.GetEnv("ELASTICSEARCH_USER", ""),
			Password: util.GetEnv("ELASTICSEARCH_PASSWORD", ""),
			Index:    util.GetEnv("ELASTICSEARCH_INDEX", "security-events"),
		},
		Breaker: BreakerConfig{
			MaxRequests:      uint32(util.GetEnvInt("BREAKER_MAX_REQUESTS", 1)),
			Interval:         util.GetEnvDuration("BREAKER_INTERVAL", time.Minute),
			Timeout:          util.GetEnvDuration("BREAKER_TIMEOUT", 30*time.Second),
			FailureThreshold: uint32(util.GetEnvInt("BREAKER_FAILURE_THRESHOLD", 5)),
		},
		Bucketing: BucketingConfig{
			Partitions: util.GetEnvInt("BUCKETING_PARTITIONS", 16),
		},
	}
}

// Validate rejects configurations the query layer cannot honour.
func (c *Config) Validate() error {
	var errs []error
	q := c.Query
	if q.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("QUERY_TIMEOUT must be positive"))
	}
	if q.MinPageSize <= 0 || q.MaxPageSize < q.MinPageSize {
		errs = append(errs, fmt.Errorf("page size bounds %d..%d are invalid", q.MinPageSize, q.MaxPageSize))
	}
	if q.DefaultPageSize < q.MinPageSize || q.DefaultPageSize > q.MaxPageSize {
		errs = append(errs, fmt.Errorf("default page size %d outside %d..%d", q.DefaultPageSize, q.MinPageSize, q.MaxPageSize))
	}
	if q.DefaultTrendBuckets <= 0 || q.DefaultTrendBuckets > q.MaxTrendBuckets {
		errs = append(errs, fmt.Errorf("default trend buckets %d outside 1..%d", q.DefaultTrendBuckets, q.MaxTrendBuckets))
	}
	if q.DefaultAttackers <= 0 || q.DefaultAttackers > q.MaxAttackers {
		errs = append(errs, fmt.Errorf("default attackers %d outside 1..%d", q.DefaultAttackers, q.MaxAttackers))
	}
	switch c.Cache.Backend {
	case "none", "lru", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown CACHE_BACKEND %q", c.Cache.Backend))
	}
	if c.Cache.Backend == "lru" && c.Cache.Size <= 0 {
		errs = append(errs, fmt.Errorf("CACHE_SIZE must be positive for the lru backend"))
	}
	if c.Bucketing.Partitions <= 0 {
		errs = append(errs, fmt.Errorf("BUCKETING_PARTITIONS must be positive"))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, fmt.Errorf("KAFKA_BROKERS is required when Kafka is enabled"))
	}
	if c.Clickhouse.Enabled && c.Clickhouse.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("CLICKHOUSE_BATCH_SIZE must be positive"))
	}
	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
