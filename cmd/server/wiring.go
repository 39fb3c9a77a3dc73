package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kgo"

	"anyzine/internal/platform/config"
	"anyzine/internal/platform/kafka"
	"anyzine/internal/platform/postgres"
	"anyzine/internal/platform/redis"
	"anyzine/internal/ratelimit/ports"
	"anyzine/internal/ratelimit/store/window"
	"anyzine/internal/ratelimit/worker"
	"anyzine/pkg/platform/audit"
	"anyzine/pkg/platform/audit/publishers/ops"
	"anyzine/pkg/platform/audit/sinks"
)

// windowStore is the selected Counter Store plus what it needs closed.
type windowStore struct {
	windows ports.WindowStore
	health  ports.HealthChecker
	close   func()
}

func openWindowStore(ctx context.Context, cfg config.Server, log *slog.Logger) (*windowStore, error) {
	switch cfg.RateLimit.Store {
	case config.StorePostgres:
		db, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		store := window.NewPostgres(db)
		if err := store.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate rate limit schema: %w", err)
		}
		log.Info("rate limit store ready", "backend", "postgres")
		return &windowStore{windows: store, health: store, close: closer(db, log)}, nil

	case config.StoreRedis:
		client, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		store := window.NewRedis(client.Client)
		log.Info("rate limit store ready", "backend", "redis")
		return &windowStore{windows: store, health: client, close: func() { _ = client.Close() }}, nil

	default:
		log.Warn("rate limit store is in memory, counts are per process and lost on restart")
		return &windowStore{windows: window.NewInMemory(), close: func() {}}, nil
	}
}

func closer(db *sql.DB, log *slog.Logger) func() {
	return func() {
		if err := db.Close(); err != nil {
			log.Warn("closing postgres", "error", err)
		}
	}
}

// auditPipeline is the ops publisher and the Kafka client behind it, if any.
type auditPipeline struct {
	publisher *ops.Publisher
	close     func()
}

func newAuditPipeline(ctx context.Context, cfg config.KafkaConfig, log *slog.Logger, reg prometheus.Registerer) (*auditPipeline, error) {
	opts := []ops.Option{ops.WithLogger(log), ops.WithMetrics(ops.NewMetrics(reg))}

	if !cfg.Enabled() {
		log.Info("audit events go to the log, no kafka brokers configured")
		return &auditPipeline{publisher: ops.New(sinks.NewLog(log), opts...), close: func() {}}, nil
	}

	client, err := kafka.NewProducer(cfg)
	if err != nil {
		return nil, err
	}
	if err := kafka.EnsureTopic(ctx, client, cfg.AuditTopic); err != nil {
		// The broker may forbid topic creation; producing still works when the topic exists.
		log.Warn("could not ensure audit topic", "topic", cfg.AuditTopic, "error", err)
	}

	sampler := ops.NewSampler()
	sampler.SetRate(audit.ActionRateLimitFallback, 0.1)
	opts = append(opts, ops.WithSampler(sampler))

	return &auditPipeline{
		publisher: ops.New(sinks.NewKafka(client, cfg.AuditTopic), opts...),
		close:     flushAndClose(client, log),
	}, nil
}

func flushAndClose(client *kgo.Client, log *slog.Logger) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := client.Flush(ctx); err != nil {
			log.Warn("flushing audit producer", "error", err)
		}
		client.Close()
	}
}

// backgroundTasks builds the loops that run beside the HTTP server. Nothing
// is started here, so a construction error leaves no goroutine behind.
func backgroundTasks(cfg config.RateLimitConfig, cleaner worker.Cleaner, publisher *ops.Publisher, log *slog.Logger) ([]func(context.Context) error, error) {
	tasks := []func(context.Context) error{publisher.Run}
	if cfg.CleanupInterval > 0 {
		cleanup, err := worker.NewCleanup(cleaner, cfg.CleanupInterval, log)
		if err != nil {
			return nil, fmt.Errorf("create cleanup worker: %w", err)
		}
		tasks = append(tasks, cleanup.Run)
	}
	return tasks, nil
}
