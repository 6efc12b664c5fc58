package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/celebrum-research/internal/api"
	"github.com/irfndi/celebrum-research/internal/cache"
	"github.com/irfndi/celebrum-research/internal/config"
	"github.com/irfndi/celebrum-research/internal/database"
	"github.com/irfndi/celebrum-research/internal/logging"
	"github.com/irfndi/celebrum-research/internal/middleware"
	"github.com/irfndi/celebrum-research/internal/services"
	"github.com/irfndi/celebrum-research/internal/telemetry"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	defaultShutdownTimeout = 30 * time.Second
	maxWorkers             = 32
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("Failed to load .env file: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := newLogger(cfg)
	logrusLogger := logging.NewLogrusLogger(cfg.LogLevel, cfg.Environment, os.Stdout)

	shutdownTracing, err := telemetry.Init(ctx, telemetryConfig(cfg))
	if err != nil {
		logrusLogger.WithError(err).Warn("Tracing disabled")
	}

	deps, cleanup, err := buildDependencies(ctx, cfg, logrusLogger)
	if err != nil {
		return err
	}
	defer cleanup()
	deps.Logger = logger

	srv := newServer(cfg, newRouter(cfg, deps))

	serverErr := make(chan error, 1)
	go func() {
		logger.LogStartup(telemetry.ServiceName, version, cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.LogShutdown(telemetry.ServiceName, "signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Duration(cfg.Server.ShutdownTimeout, defaultShutdownTimeout))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logrusLogger.WithError(err).Warn("Failed to flush traces")
	}
	if err := logger.Shutdown(shutdownCtx); err != nil {
		logrusLogger.WithError(err).Warn("Failed to flush logs")
	}
	return nil
}

func newLogger(cfg *config.Config) *logging.StandardLogger {
	if cfg.Telemetry.Enabled && cfg.Telemetry.LogsEnabled {
		return logging.NewStandardOTLPLogger(logging.OTLPConfig{
			Enabled:        true,
			Endpoint:       cfg.Telemetry.Endpoint,
			ServiceName:    telemetry.ServiceName,
			ServiceVersion: version,
			Environment:    cfg.Environment,
			LogLevel:       cfg.LogLevel,
		})
	}
	return logging.NewStandardLogger(cfg.LogLevel, cfg.Environment)
}

func telemetryConfig(cfg *config.Config) telemetry.TelemetryConfig {
	return telemetry.TelemetryConfig{
		Enabled:     cfg.Telemetry.Enabled,
		Exporter:    cfg.Telemetry.Exporter,
		Endpoint:    cfg.Telemetry.Endpoint,
		Environment: cfg.Environment,
		SampleRate:  cfg.Telemetry.SampleRate,
	}
}

// buildDependencies connects the optional backing services and assembles the
// analysis components. The returned cleanup closes every opened connection.
func buildDependencies(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (api.Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (api.Dependencies, func(), error) {
		cleanup()
		return api.Dependencies{}, func() {}, err
	}

	budget := services.ComputeWorkerBudget(services.ReadSystemStats(ctx), 1, maxWorkers)
	logger.WithFields(logrus.Fields{
		"cpu_cores":   budget.CPUCores,
		"memory_gb":   budget.MemoryGB,
		"memory_used": budget.MemoryUsedPercent,
		"workers":     budget.Workers,
	}).Info("Computed worker budget")

	backtestWorkers := cfg.Backtest.Workers
	if backtestWorkers <= 0 {
		backtestWorkers = budget.Workers
	}
	sentimentCfg := services.SentimentConfigFromConfig(cfg.Sentiment)
	if sentimentCfg.Workers <= 0 {
		sentimentCfg.Workers = budget.Workers
	}

	adjuster, err := services.TimezoneAdjusterFromConfig(cfg.Timezone)
	if err != nil {
		return fail(fmt.Errorf("invalid timezone profiles: %w", err))
	}
	opts := []services.SentimentAnalyzerOption{services.WithAnalyzerLogger(logger)}
	if adjuster != nil {
		opts = append(opts, services.WithTimezoneAdjuster(adjuster))
	}

	deps := api.Dependencies{
		Version:        version,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Backtester:     services.NewBacktester(logger).WithWorkers(backtestWorkers),
		BacktestParams: services.BacktestParamsFromConfig(cfg.Backtest),
		Analyzer:       services.NewSentimentAnalyzer(sentimentCfg, opts...),
		Logrus:         logger,
	}

	if cfg.Database.Enabled {
		db, err := database.NewPostgresConnection(cfg.Database)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, db.Close)

		repo := database.NewSeriesRepository(database.NewTracedPool(db.Pool))
		if err := repo.EnsureSchema(ctx); err != nil {
			return fail(err)
		}
		deps.DB = db
		deps.BacktestStore = repo
		deps.SentimentStore = repo
	}

	ttl := services.CacheTTLFromConfig(cfg.Cache)
	if cfg.Redis.Enabled {
		rc, err := database.NewRedisConnection(cfg.Redis)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, rc.Close)
		deps.Redis = rc
		deps.Cache = cache.NewRedisAnalysisCache(rc.Client, ttl, logger)
	} else {
		deps.Cache = cache.NewInMemoryAnalysisCache(ttl, cfg.Cache.MaxEntries)
	}

	notifier, err := services.NewReportNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, logger)
	if err != nil {
		return fail(err)
	}
	if notifier.Enabled() {
		deps.Notifier = notifier
	}

	if cfg.Security.JWTSecret != "" {
		deps.Auth = middleware.NewAuthMiddleware(cfg.Security.JWTSecret)
	} else {
		logger.Warn("JWT secret not set, API authentication disabled")
	}

	return deps, cleanup, nil
}

func newRouter(cfg *config.Config, deps api.Dependencies) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	api.SetupRoutes(router, deps)
	return router
}

func newServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
