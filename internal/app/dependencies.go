package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/bakery-payway/internal/config"
	"github.com/noah-isme/bakery-payway/internal/events"
	"github.com/noah-isme/bakery-payway/internal/obs"
	"github.com/noah-isme/bakery-payway/internal/order"
)

// Dependencies enumerates the long-lived clients shared by the HTTP router and the worker.
// Nil DB or Redis selects the in-process fallbacks.
type Dependencies struct {
	Config      *config.Config
	Logger      zerolog.Logger
	DB          *pgxpool.Pool
	Redis       redis.UniversalClient
	Orders      order.Store
	Events      *events.Bus
	HTTPMetrics *obs.HTTPMetrics
	Tracing     bool
	Clock       func() time.Time

	closers []func() error
}

// Close releases every client opened by the builders, newest first.
func (d *Dependencies) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

// OpenDatabase connects the pgx pool with query tracing. An empty DATABASE_URL returns nil.
func OpenDatabase(ctx context.Context, cfg *config.Config, appName string) (*pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		return nil, nil
	}
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = appName

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// OpenRedis connects and instruments the Redis client. An empty REDIS_URL returns nil.
func OpenRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger, withMetrics bool) (*redis.Client, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if withMetrics {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewOrderStore returns a Postgres store when a pool is available, migrating first when
// DB_AUTO_MIGRATE is on. Without a pool orders live in memory.
func NewOrderStore(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (order.Store, error) {
	if pool == nil {
		logger.Warn().Msg("DATABASE_URL not set, orders are kept in memory")
		return order.NewMemoryStore(), nil
	}
	if cfg.DBAutoMigrate {
		if err := order.Migrate(cfg.DatabaseURL); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return order.NewPGStore(pool), nil
}

// NewEventBus selects the publisher named by EVENTS_BACKEND. The returned closer releases
// the asynq client or Kafka producer.
func NewEventBus(cfg *config.Config, logger zerolog.Logger) (*events.Bus, func() error, error) {
	bus := &events.Bus{Logger: obs.Component(logger, "events")}
	noop := func() error { return nil }

	switch cfg.EventsBackend {
	case "asynq":
		opt, err := asynq.ParseRedisURI(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse asynq redis uri: %w", err)
		}
		client := asynq.NewClient(opt)
		bus.Publishers = []events.Publisher{events.AsynqPublisher{
			Client:    client,
			Retention: 24 * time.Hour,
		}}
		return bus, client.Close, nil
	case "kafka":
		producer, err := events.NewKafkaProducer(cfg.KafkaBrokers, "bakery-payway")
		if err != nil {
			return nil, nil, fmt.Errorf("kafka producer: %w", err)
		}
		bus.Publishers = []events.Publisher{events.KafkaPublisher{
			Producer: producer,
			Topics:   map[string]string{events.TopicOrderPaid: cfg.KafkaTopicOrderPaid},
		}}
		return bus, producer.Close, nil
	default:
		bus.Publishers = []events.Publisher{events.LogPublisher{Logger: bus.Logger}}
		return bus, noop, nil
	}
}

// Build opens every backing client named by cfg and returns the assembled dependencies.
// Callers must Close the result.
func Build(ctx context.Context, cfg *config.Config, logger zerolog.Logger, appName string) (*Dependencies, error) {
	d := &Dependencies{Config: cfg, Logger: logger, Tracing: cfg.Obs.TracingEnabled}

	pool, err := OpenDatabase(ctx, cfg, appName)
	if err != nil {
		return nil, err
	}
	if pool != nil {
		d.DB = pool
		d.closers = append(d.closers, func() error { pool.Close(); return nil })
	}

	client, err := OpenRedis(ctx, cfg, logger, cfg.Obs.MetricsEnabled)
	if err != nil {
		_ = d.Close()
		return nil, err
	}
	if client != nil {
		d.Redis = client
		d.closers = append(d.closers, client.Close)
	}

	if d.Orders, err = NewOrderStore(cfg, pool, logger); err != nil {
		_ = d.Close()
		return nil, err
	}

	bus, closeBus, err := NewEventBus(cfg, logger)
	if err != nil {
		_ = d.Close()
		return nil, err
	}
	d.Events = bus
	d.closers = append(d.closers, closeBus)
	return d, nil
}
