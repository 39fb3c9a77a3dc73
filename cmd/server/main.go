package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"anyzine/internal/identity"
	httpapi "anyzine/internal/http"
	"anyzine/internal/platform/config"
	"anyzine/internal/platform/httpserver"
	"anyzine/internal/platform/logger"
	"anyzine/internal/platform/metrics"
	"anyzine/internal/ratelimit/handler"
	rlmetrics "anyzine/internal/ratelimit/metrics"
	rlmiddleware "anyzine/internal/ratelimit/middleware"
	"anyzine/internal/ratelimit/service/counter"
	"anyzine/internal/ratelimit/service/migration"
	"anyzine/internal/ratelimit/store/local"
	"anyzine/internal/zine"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, log)
	stop()
	if err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	store, err := openWindowStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.close()

	auditing, err := newAuditPipeline(ctx, cfg.Kafka, log, reg)
	if err != nil {
		return err
	}
	defer auditing.close()

	rlMetrics := rlmetrics.New(reg)
	counters, err := counter.New(store.windows,
		counter.WithLogger(log),
		counter.WithMetrics(rlMetrics),
		counter.WithAuditPublisher(auditing.publisher),
	)
	if err != nil {
		return fmt.Errorf("create counter service: %w", err)
	}
	migrations, err := migration.New(store.windows,
		migration.WithLogger(log),
		migration.WithAuditPublisher(auditing.publisher),
	)
	if err != nil {
		return fmt.Errorf("create migration service: %w", err)
	}

	sessions, err := rlmiddleware.NewSessionCookies(cfg.SessionCookieSecret, cfg.SessionCookieSecure)
	if err != nil {
		return fmt.Errorf("create session cookies: %w", err)
	}
	gate := rlmiddleware.New(counters, log,
		rlmiddleware.WithDisabled(cfg.RateLimit.Disabled),
		rlmiddleware.WithFallbackCounter(local.New()),
		rlmiddleware.WithSessionCookies(sessions),
		rlmiddleware.WithStoreTimeout(cfg.RateLimit.StoreTimeout),
		rlmiddleware.WithMetrics(rlMetrics),
		rlmiddleware.WithAuditPublisher(auditing.publisher),
	)

	verifier, err := identity.NewVerifier(cfg.JWTSigningKey, cfg.JWTIssuer)
	if err != nil {
		return fmt.Errorf("create identity verifier: %w", err)
	}
	completions, err := zine.NewCompletionClient(cfg.Completion.URL, cfg.Completion.APIKey,
		zine.WithModel(cfg.Completion.Model),
		zine.WithHTTPClient(&http.Client{Timeout: cfg.Completion.Timeout}),
		zine.WithLogger(log),
	)
	if err != nil {
		return fmt.Errorf("create completion client: %w", err)
	}

	router := httpapi.NewRouter(httpapi.Dependencies{
		Logger:     log,
		Verifier:   verifier,
		RateLimit:  gate,
		Status:     handler.New(counters, migrations, log),
		Zine:       zine.NewHandler(zine.NewSanitizer(), completions, log),
		AdminToken: cfg.AdminAPIToken,
		Health:     store.health,
		Metrics:    metrics.New(reg),
		Gatherer:   reg,
	})
	srv := httpserver.New(cfg.Addr, router)
	tasks, err := backgroundTasks(cfg.RateLimit, counters, auditing.publisher, log)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting anyzine", "addr", cfg.Addr, "store", string(cfg.RateLimit.Store))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	for _, task := range tasks {
		g.Go(func() error {
			return task(gctx)
		})
	}

	return g.Wait()
}
