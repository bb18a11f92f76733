package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/af-corp/oss-relay/internal/audit"
	"github.com/af-corp/oss-relay/internal/config"
	"github.com/af-corp/oss-relay/internal/gateway"
	"github.com/af-corp/oss-relay/internal/health"
	"github.com/af-corp/oss-relay/internal/ratelimit"
	"github.com/af-corp/oss-relay/internal/relay"
	"github.com/af-corp/oss-relay/internal/telemetry"
	"github.com/af-corp/oss-relay/internal/upstream"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

var version = "1.0.0"

func main() {
	configDir := flag.String("config", "configs", "path to configuration directory")
	flag.Parse()

	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	level := new(slog.LevelVar)
	logger := telemetry.NewLogger(os.Stdout, "json", level)
	slog.SetDefault(logger)

	// Load configuration
	loader := config.NewLoader(*configDir, logger)
	if err := loader.Load(); err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg := loader.Config()

	level.Set(telemetry.ParseLevel(cfg.Telemetry.LogLevel))
	logger = telemetry.NewLogger(os.Stdout, cfg.Telemetry.LogFormat, level)
	slog.SetDefault(logger)

	loader.OnReload(func(c *config.Config) {
		level.Set(telemetry.ParseLevel(c.Telemetry.LogLevel))
		logger.Info("log level reloaded", "level", level.Level().String())
	})
	if err := loader.Watch(); err != nil {
		logger.Warn("failed to start config watcher", "error", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var metrics *telemetry.Metrics
	if cfg.Telemetry.MetricsEnabled {
		metrics = telemetry.NewMetrics(nil)
	}

	client := upstream.New(cfg.Upstream)
	defer client.Close()

	// Connect to Redis
	var rdb *redis.Client
	if cfg.RateLimit.Enabled && cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis not reachable (rate limiting fails open)", "error", err)
		} else {
			logger.Info("redis connected")
		}
		defer rdb.Close()
	}

	// Connect to PostgreSQL
	var recorder audit.Recorder = audit.NopRecorder{}
	var pgRecorder *audit.PostgresRecorder
	if cfg.Database.DSN != "" {
		poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN)
		if err != nil {
			logger.Error("invalid database DSN", "error", err)
			os.Exit(1)
		}
		if cfg.Database.MaxConns > 0 {
			poolCfg.MaxConns = cfg.Database.MaxConns
		}
		dbPool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer dbPool.Close()

		if err := dbPool.Ping(ctx); err != nil {
			logger.Warn("database not reachable (relay log writes will fail)", "error", err)
		} else {
			logger.Info("database connected")
		}
		pgRecorder = audit.NewPostgresRecorder(dbPool, logger)
		recorder = pgRecorder
	}

	engine := relay.NewEngine(client, relay.Options{
		Defaults: cfg.Defaults,
		APIKey:   cfg.Upstream.APIKey,
		Metrics:  metrics,
		Recorder: recorder,
		Logger:   logger,
	})

	prober := health.NewProber(client, cfg.Upstream.HealthCheckInterval, metrics, logger)
	if err := prober.Start(ctx); err != nil {
		logger.Warn("failed to schedule upstream health checks", "error", err)
	}
	defer prober.Stop()

	opts := gateway.RouterOptions{
		Logger:         logger,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		TrustProxy:     cfg.Server.TrustProxyHeaders,
	}
	if metrics != nil {
		opts.Metrics = promhttp.Handler()
	}
	if cfg.RateLimit.Enabled {
		opts.RateLimit = ratelimit.Middleware(ratelimit.NewLimiter(rdb), cfg.RateLimit.RequestsPerMinute, metrics)
	}

	handler := gateway.NewHandler(engine, prober, cfg.Defaults.Model, version, logger)

	addr := cfg.Server.Addr()
	srv := &http.Server{
		Addr:              addr,
		Handler:           gateway.NewRouter(handler, opts),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway starting",
			"addr", addr,
			"version", version,
			"upstream", client.BaseURL(),
			"model", cfg.Defaults.Model,
		)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	stop()
	if pgRecorder != nil {
		pgRecorder.Close()
	}
	logger.Info("gateway stopped")
}
