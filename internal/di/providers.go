package di

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"FinWindow/internal/domain/repository"
	"FinWindow/internal/handler/api"
	internalrepo "FinWindow/internal/repository"
	"FinWindow/internal/service/ratelimit"
	"FinWindow/internal/usecase"
	"FinWindow/pkg/cache"
	pkgch "FinWindow/pkg/clickhouse"
	"FinWindow/pkg/config"
	xhttp "FinWindow/pkg/http"
	pkgkafka "FinWindow/pkg/kafka"
	applogger "FinWindow/pkg/logger"
	"FinWindow/pkg/metrics"
	"FinWindow/pkg/server"
)

// HistoryStack is the history source the sessions read from plus, when a response cache
// is configured, the handle used to invalidate it.
type HistoryStack struct {
	Source repository.HistorySource
	Cache  repository.HistoryCache
}

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(cfg *config.Config) repository.Metrics {
	if !cfg.Metrics.Enabled {
		return metrics.Nop{}
	}
	return metrics.New()
}

// ProvideClickHouseClient connects to ClickHouse when it backs the history source.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, func(), error) {
	if cfg.Backend.Type != "clickhouse" {
		return nil, func() {}, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}

	if cfg.ClickHouse.InitSchema {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := client.InitSchema(ctx, []string{
			internalrepo.HistorySchema(cfg.ClickHouse.Table, cfg.ClickHouse.MetricColumns),
		}); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
		}
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideCache builds the range response cache selected by cache.type; nil for "none".
func ProvideCache(cfg *config.Config) (cache.Service, func(), error) {
	var svc cache.Service
	switch cfg.Cache.Type {
	case "memory":
		svc = cache.NewMemoryCache(
			cache.WithMemoryMaxSize(cfg.Cache.MemoryMaxSize),
			cache.WithMemoryCleanup(cfg.Cache.MemoryCleanup),
		)
	case "redis", "layered":
		rc, err := newRedisCache(cfg)
		if err != nil {
			return nil, nil, err
		}
		svc = rc
		if cfg.Cache.Type == "layered" {
			svc = cache.NewLayeredCache(rc,
				cache.WithLayeredMemorySize(cfg.Cache.MemoryMaxSize),
				cache.WithLayeredMemoryTTL(cfg.Cache.MemoryTTL),
			)
		}
	default:
		return nil, func() {}, nil
	}
	return svc, func() { _ = svc.Close() }, nil
}

func newRedisCache(cfg *config.Config) (*cache.RedisCache, error) {
	host, portStr, err := net.SplitHostPort(cfg.Cache.Redis.Addr)
	if err != nil {
		return nil, fmt.Errorf("redis addr %q: %w", cfg.Cache.Redis.Addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("redis port %q: %w", portStr, err)
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisHost(host),
		cache.WithRedisPort(port),
		cache.WithRedisPassword(cfg.Cache.Redis.Password),
		cache.WithRedisDB(cfg.Cache.Redis.DB),
		cache.WithRedisPool(cfg.Cache.Redis.PoolSize, cfg.Cache.Redis.PoolSize/2, 30*time.Second),
		cache.WithRedisPrefix(cfg.Cache.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return rc, nil
}

// ProvideHistoryStack picks the backend source and fronts it with the response cache.
func ProvideHistoryStack(
	cfg *config.Config,
	ch *pkgch.Client,
	svc cache.Service,
	m repository.Metrics,
	l *applogger.Logger,
) (*HistoryStack, error) {
	var base repository.HistorySource
	switch cfg.Backend.Type {
	case "clickhouse":
		src, err := internalrepo.NewClickHouseHistorySource(ch.DB(), cfg.ClickHouse.Table, cfg.ClickHouse.MetricColumns, l)
		if err != nil {
			return nil, fmt.Errorf("clickhouse history source: %w", err)
		}
		base = src
	default:
		client := xhttp.NewClient(xhttp.WithTimeout(cfg.Upstream.Timeout))
		base = internalrepo.NewHTTPHistorySource(client, cfg.Upstream.BaseURL, cfg.Upstream.HistoryPath, l)
	}

	if svc == nil {
		return &HistoryStack{Source: base}, nil
	}
	cached := internalrepo.NewCachedHistorySource(base, svc, cfg.Cache.TTL, m, l)
	return &HistoryStack{Source: cached, Cache: cached}, nil
}

func ProvideHistorySource(s *HistoryStack) repository.HistorySource { return s.Source }

func ProvideHistoryCache(s *HistoryStack) repository.HistoryCache { return s.Cache }

// ProvideKafkaProducer creates a Kafka producer when Kafka is enabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, func() { _ = producer.Close() }, nil
}

// ProvideWindowPublisher publishes window events; nil when Kafka is disabled.
func ProvideWindowPublisher(cfg *config.Config, producer *pkgkafka.Producer) repository.WindowEventPublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaWindowPublisher(producer, cfg.Kafka.EventsTopic)
}

// ProvideKafkaConsumer creates the invalidation consumer when Kafka is enabled.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerHandleTimeout(cfg.Kafka.Consumer.HandleTimeout),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.NewLoggingHook(l))
	return consumer, nil
}

// ProvideSessionRegistry creates the chart session registry.
func ProvideSessionRegistry(
	cfg *config.Config,
	source repository.HistorySource,
	publisher repository.WindowEventPublisher,
	zoomRL *ratelimit.Limiter,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.SessionRegistry {
	return usecase.NewSessionRegistry(source,
		usecase.WindowConfig{
			DefaultWindowDays: cfg.Window.DefaultWindowDays,
			Debounce:          cfg.Window.Debounce,
		},
		cfg.Window.IdleTTL, publisher, m, l,
		usecase.WithOnClose(zoomRL.Forget),
	)
}

// ProvideZoomLimiter is shared by the zoom transport and the registry, which drops a
// session's bucket when the session goes away.
func ProvideZoomLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(cfg.RateLimit.ZoomBurst, cfg.RateLimit.ZoomPerSecond)
}

// ProvideInvalidationHandler handles history.invalidated messages.
func ProvideInvalidationHandler(
	cfg *config.Config,
	hc repository.HistoryCache,
	registry *usecase.SessionRegistry,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.InvalidationHandler {
	return usecase.NewInvalidationHandler(cfg.Kafka.InvalidationTopic, hc, registry, m, l)
}

// ProvideWindowHandler creates the session HTTP and stream handler.
func ProvideWindowHandler(
	cfg *config.Config,
	registry *usecase.SessionRegistry,
	zoomRL *ratelimit.Limiter,
	m repository.Metrics,
	l *applogger.Logger,
) *api.WindowHandler {
	return api.NewWindowHandler(registry, zoomRL, m, l,
		api.WithStreamConfig(api.StreamConfig{
			PingInterval:   cfg.Server.WebSocket.PingInterval,
			PongWait:       cfg.Server.WebSocket.PongWait,
			WriteTimeout:   cfg.Server.WebSocket.WriteTimeout,
			AllowedOrigins: cfg.Server.CORSOrigins,
		}),
	)
}

// ProvideHTTPServer creates the Echo server with every route handler.
func ProvideHTTPServer(cfg *config.Config, l *applogger.Logger, wh *api.WindowHandler) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithSlowThreshold(cfg.Server.SlowThreshold),
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		opts = append(opts, xhttp.WithCORS(cfg.Server.CORSOrigins))
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetricsPath(cfg.Metrics.Path))
	} else {
		opts = append(opts, xhttp.WithMetricsPath(""))
	}
	return xhttp.NewServer(l, []xhttp.Handler{wh}, opts...)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	httpServer *xhttp.Server,
	registry *usecase.SessionRegistry,
	consumer *pkgkafka.Consumer,
	ih *usecase.InvalidationHandler,
	producer *pkgkafka.Producer,
) *server.App {
	app := server.New(cfg, l, httpServer, registry)
	if consumer != nil {
		app.SetConsumer(consumer, ih)
	}
	if producer != nil && cfg.Log.Collector.Enabled {
		app.SetLogCollector(&applogger.CollectionConfig{
			TimeInterval:   cfg.Log.Collector.Interval,
			CountThreshold: cfg.Log.Collector.Threshold,
			Topic:          cfg.Kafka.LogsTopic,
			Publisher:      internalrepo.NewKafkaLogPublisher(producer),
		})
	}
	return app
}
