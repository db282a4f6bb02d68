package factory

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"security-intel/internal/archive"
	"security-intel/internal/bucketing"
	"security-intel/internal/cache"
	"security-intel/internal/client"
	"security-intel/internal/config"
	"security-intel/internal/handler"
	"security-intel/internal/ingest"
	"security-intel/internal/metrics"
	"security-intel/internal/service"
	"security-intel/internal/store"
	"security-intel/internal/tls"
	"security-intel/internal/util"
)

// sink is a background archive writer.
type sink interface {
	ingest.Sink
	Run(ctx context.Context)
}

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	logger     *zap.Logger
	tlsManager *tls.TLSManager

	registry *prometheus.Registry
	metrics  *metrics.Metrics

	// Core
	eventStore       *store.Store
	bucketingManager *bucketing.BucketingManager
	resultCache      cache.Cache
	serviceFactory   *service.ServiceFactory

	// Clients
	redisClient      *client.RedisClient
	kafkaProducer    *client.KafkaProducer
	kafkaConsumer    *client.KafkaConsumer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Background workers
	sinks    []sink
	consumer *ingest.Consumer

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// util.Init skips one caller frame for its package-level helpers.
	logger := util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format).WithOptions(zap.AddCallerSkip(-1))

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := &Factory{
		config:   cfg,
		logger:   logger,
		registry: registry,
		metrics:  metrics.New(registry),
		closed:   make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		factory.tlsManager = tls.NewTLSManager(cfg.Server, logger.Named("tls"))
	}

	factory.eventStore = store.New(
		store.WithCapacity(cfg.Store.InitialCapacity),
		store.WithLogger(logger.Named("store")),
	)
	factory.bucketingManager = bucketing.NewBucketingManager(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := factory.initializeClients(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	factory.resultCache = cache.New(cfg, factory.redisClient, logger.Named("cache"))
	factory.serviceFactory = service.NewServiceFactory(
		cfg,
		factory.eventStore,
		factory.bucketingManager,
		factory.resultCache,
		factory.metrics,
		logger,
	)

	// Archive hydration has no deadline of its own; history can be large.
	if err := factory.initializeArchive(context.Background()); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize archive: %w", err)
	}
	factory.initializeIngest()

	logger.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.String("cache_backend", cfg.Cache.Backend),
		util.Bool("kafka_enabled", factory.consumer != nil),
		util.Bool("clickhouse_enabled", factory.clickhouseClient != nil),
		util.Bool("elasticsearch_enabled", factory.esClient != nil),
		util.Int("events", factory.eventStore.Len()),
	)

	return factory, nil
}

// initializeClients connects the enabled external services. Outside
// production a failing service is logged and left disabled.
func (f *Factory) initializeClients(ctx context.Context) error {
	var initErrors []error
	cfg := f.config

	// Redis
	if cfg.Cache.Backend == "redis" {
		if c, err := client.NewRedisClient(cfg, f.logger.Named("redis")); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
		} else if err := c.HealthCheck(ctx); err != nil {
			c.Close()
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		} else {
			f.redisClient = c
			f.logger.Info("Redis client initialized and healthy")
		}
	}

	// Kafka
	if cfg.Kafka.Enabled {
		if producer, err := client.NewKafkaProducer(cfg, f.logger.Named("kafka")); err != nil {
			f.logger.Warn("Kafka producer initialization failed - dead letters will be dropped", util.ErrorField(err))
		} else {
			f.kafkaProducer = producer
		}
		if consumer, err := client.NewKafkaConsumer(cfg, cfg.Kafka.Topic, cfg.Kafka.GroupID, f.logger.Named("kafka")); err != nil {
			initErrors = append(initErrors, fmt.Errorf("kafka consumer: %w", err))
		} else {
			f.kafkaConsumer = consumer
			f.logger.Info("Kafka consumer initialized",
				util.String("topic", cfg.Kafka.Topic),
				util.String("group_id", cfg.Kafka.GroupID))
		}
	}

	// Elasticsearch
	if cfg.Elasticsearch.Enabled {
		if c, err := client.NewElasticsearchClient(cfg, f.logger.Named("elasticsearch")); err != nil {
			initErrors = append(initErrors, fmt.Errorf("elasticsearch: %w", err))
		} else if err := c.HealthCheck(ctx); err != nil {
			c.Close()
			initErrors = append(initErrors, fmt.Errorf("elasticsearch health check: %w", err))
		} else {
			f.esClient = c
			f.logger.Info("Elasticsearch client initialized and healthy")
		}
	}

	// ClickHouse
	if cfg.Clickhouse.Enabled {
		if c, err := client.NewClickHouseClient(cfg, f.logger.Named("clickhouse")); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
		} else if err := c.HealthCheck(ctx); err != nil {
			c.Close()
			initErrors = append(initErrors, fmt.Errorf("clickhouse health check: %w", err))
		} else {
			f.clickhouseClient = c
			f.logger.Info("ClickHouse client initialized and healthy")
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			f.logger.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

// initializeArchive creates the archive sinks and replays archived history
// into the event store.
func (f *Factory) initializeArchive(ctx context.Context) error {
	cfg := f.config

	if f.clickhouseClient != nil {
		breaker := client.NewBreaker("clickhouse", cfg.Breaker, f.logger)
		chSink := archive.NewClickHouseSink(f.clickhouseClient, cfg.Clickhouse.BatchSize, cfg.Clickhouse.FlushInterval,
			breaker, f.metrics, f.logger.Named("archive"))
		if err := chSink.EnsureSchema(ctx); err != nil {
			return err
		}
		if cfg.Clickhouse.HydrateOnStart {
			if _, err := archive.Hydrate(ctx, f.clickhouseClient, f.eventStore, f.logger.Named("archive")); err != nil {
				return err
			}
			f.metrics.StoreEvents.Set(float64(f.eventStore.Len()))
		}
		f.sinks = append(f.sinks, chSink)
	}

	if f.esClient != nil {
		breaker := client.NewBreaker("elasticsearch", cfg.Breaker, f.logger)
		f.sinks = append(f.sinks, archive.NewSearchMirror(f.esClient, f.esClient.Index(), cfg.Clickhouse.BatchSize,
			cfg.Clickhouse.FlushInterval, breaker, f.metrics, f.logger.Named("search")))
	}
	return nil
}

func (f *Factory) initializeIngest() {
	if f.kafkaConsumer == nil {
		return
	}
	sinks := make([]ingest.Sink, len(f.sinks))
	for i, s := range f.sinks {
		sinks[i] = s
	}
	var dlq ingest.MessageWriter
	if f.kafkaProducer != nil {
		dlq = f.kafkaProducer
	}
	f.consumer = ingest.NewConsumer(f.kafkaConsumer, dlq, f.config.Kafka.DLQTopic, f.eventStore,
		sinks, f.metrics, f.logger.Named("ingest"))
}

// RunBackground runs the ingest consumer and the archive sinks until ctx is
// done or the consumer fails. Sinks are stopped after the consumer so their
// final flush sees every accepted event.
func (f *Factory) RunBackground(ctx context.Context) error {
	sinkCtx, stopSinks := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for _, s := range f.sinks {
		wg.Add(1)
		go func(s sink) {
			defer wg.Done()
			s.Run(sinkCtx)
		}(s)
	}

	var err error
	if f.consumer != nil {
		err = f.consumer.Run(ctx)
	} else {
		<-ctx.Done()
	}

	stopSinks()
	wg.Wait()
	return err
}

// ==============================
// HTTP
// ==============================

// Router builds the HTTP handler tree.
func (f *Factory) Router() http.Handler {
	analyticsHandler := handler.NewAnalyticsHandler(
		f.ServiceFactory().AnalyticsService(),
		f.config.Query,
		f.logger.Named("http"),
	)
	return handler.NewRouter(analyticsHandler, f.config.Server, f.metrics, f.registry, f.logger.Named("http"))
}

// ==============================
// Health Checks
// ==============================

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if err := f.eventStore.HealthCheck(); err != nil {
		healthErrors["store"] = err
	}

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	}

	if f.esClient != nil {
		if err := f.esClient.HealthCheck(ctx); err != nil {
			healthErrors["elasticsearch"] = err
		}
	}

	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	return healthErrors
}

// IsHealthy ignores Kafka: queries keep working while the broker is away.
func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")
	return len(healthErrors) == 0
}

// Close releases every client. Call it after RunBackground has returned.
func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		f.logger.Info("Shutting down factory...")

		if f.kafkaConsumer != nil {
			if err := f.kafkaConsumer.Close(); err != nil {
				f.logger.Error("Failed to close Kafka consumer", util.ErrorField(err))
			} else {
				f.logger.Info("Kafka consumer closed")
			}
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				f.logger.Error("Failed to close Kafka producer", util.ErrorField(err))
			} else {
				f.logger.Info("Kafka producer closed")
			}
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				f.logger.Error("Failed to close ClickHouse client", util.ErrorField(err))
			} else {
				f.logger.Info("ClickHouse client closed")
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
			f.logger.Info("Elasticsearch client closed")
		}

		if f.serviceFactory != nil {
			f.serviceFactory.Cleanup()
			f.logger.Info("Event store closed")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				f.logger.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				f.logger.Info("Redis client closed")
			}
		}

		f.logger.Info("Factory shutdown completed")
		util.Sync()
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

func (f *Factory) ServiceFactory() *service.ServiceFactory {
	return f.serviceFactory
}

func (f *Factory) Store() *store.Store {
	return f.eventStore
}
