package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/playperu/simple5k/internal/config"
	"github.com/playperu/simple5k/internal/database"
	"github.com/playperu/simple5k/internal/handler/health"
	"github.com/playperu/simple5k/internal/handler/livefeed"
	"github.com/playperu/simple5k/internal/live"
	"github.com/playperu/simple5k/internal/migrations"
	"github.com/playperu/simple5k/internal/notify"
	"github.com/playperu/simple5k/internal/server"
	"github.com/playperu/simple5k/internal/store"
	"github.com/playperu/simple5k/internal/timing"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	// --- SQLite ---
	db, err := database.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("connecting to sqlite: %w", err)
	}
	defer db.Close()

	if err := migrations.Run(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("connected to sqlite", "path", cfg.DBPath)

	st := store.New(db)
	if err := server.SeedAdmin(ctx, logger, st, cfg.AdminEmail, cfg.AdminPassword); err != nil {
		return fmt.Errorf("seeding admin: %w", err)
	}

	checks := map[string]health.Checker{"sqlite": database.Checker{DB: db}}

	// --- Metrics ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	g, gctx := errgroup.WithContext(ctx)

	// --- Live feed: Redis when configured, otherwise in-process ---
	var broker live.Broker = live.NewMemoryBroker()
	if cfg.RedisURL != "" {
		rdb, err := openRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer rdb.Close()
		logger.Info("connected to redis")

		rb := live.NewRedisBroker(rdb, logger)
		g.Go(func() error { return rb.Run(gctx) })
		broker = rb
		checks["redis"] = redisChecker{rdb}
	}

	engine := timing.New(st,
		timing.WithLogger(logger),
		timing.WithPublisher(broker),
		timing.WithMetrics(timing.NewMetrics(reg)),
	)

	// --- Notifications ---
	worker := notify.NewWorker(st, notify.LogSender{Logger: logger}, notify.Config{
		Interval:    cfg.NotifyInterval,
		JobInterval: cfg.EmailJobInterval,
		PerMinute:   cfg.NotifyPerMinute,
		UnpaidGrace: cfg.SignupConfirmationTimeout,
		BaseURL:     cfg.SiteBaseURL,
		PaymentURL:  cfg.PaymentURL,
	}, notify.WithLogger(logger), notify.WithRegisterer(reg))

	// --- HTTP Server ---
	srv := server.New(cfg.HTTPAddr, logger, server.Deps{
		Store:       st,
		Timing:      engine,
		Broker:      broker,
		Gatherer:    reg,
		TimingRate:  rate.Limit(cfg.TimingRateLimit),
		TimingBurst: cfg.TimingRateBurst,
		SPADir:      cfg.SPADir,
	}, func(r chi.Router) {
		r.Mount("/healthz", health.NewHandler(logger, checks).Routes())
		r.Mount("/ws", livefeed.NewHandler(logger, st, broker).Routes())
	})

	// --- Run ---
	g.Go(func() error {
		logger.Info("starting http server", "addr", cfg.HTTPAddr)
		return srv.Run(gctx)
	})

	g.Go(func() error { return worker.Run(gctx) })

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		return srv.Shutdown(context.Background())
	})

	return g.Wait()
}

func openRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}

// redisChecker adapts *redis.Client to health.Checker.
type redisChecker struct{ client *redis.Client }

func (r redisChecker) Check(ctx context.Context) error { return r.client.Ping(ctx).Err() }
