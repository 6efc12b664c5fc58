package api

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/irfndi/celebrum-research/internal/api/handlers"
	"github.com/irfndi/celebrum-research/internal/cache"
	"github.com/irfndi/celebrum-research/internal/logging"
	"github.com/irfndi/celebrum-research/internal/middleware"
	"github.com/irfndi/celebrum-research/internal/services"
	"github.com/irfndi/celebrum-research/internal/telemetry"
)

// Dependencies are the collaborators the HTTP API is built from. Optional
// fields are left nil when the backing service is disabled.
type Dependencies struct {
	Version        string
	AllowedOrigins []string

	Backtester     *services.Backtester
	BacktestParams services.BacktestParams
	Analyzer       *services.SentimentAnalyzer

	DB             handlers.HealthChecker
	Redis          handlers.HealthChecker
	BacktestStore  handlers.BacktestStore
	SentimentStore handlers.SentimentStore
	Cache          cache.AnalysisCache
	Notifier       handlers.Notifier
	Auth           *middleware.AuthMiddleware

	Logger *logging.StandardLogger
	Logrus *logrus.Logger
}

// SetupRoutes registers middleware and every API route on router.
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	if deps.Logger == nil {
		deps.Logger = logging.NewStandardLogger("info", "development")
	}
	if deps.Backtester == nil {
		deps.Backtester = services.NewBacktester(deps.Logrus)
	}
	if deps.Analyzer == nil {
		deps.Analyzer = services.NewSentimentAnalyzer(services.DefaultSentimentConfig(), services.WithAnalyzerLogger(deps.Logrus))
	}

	router.Use(otelgin.Middleware(telemetry.ServiceName))
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.CORS(deps.AllowedOrigins))

	health := handlers.NewHealthHandler(deps.DB, deps.Redis, deps.Version)
	router.GET("/health", health.HealthCheck)

	backtest := handlers.NewBacktestHandler(
		deps.Backtester,
		deps.BacktestParams,
		deps.BacktestStore,
		deps.SentimentStore,
		deps.Cache,
		deps.Notifier,
		deps.Logrus,
	)
	sentiment := handlers.NewSentimentHandler(deps.Analyzer, deps.SentimentStore, deps.Cache, deps.Notifier, deps.Logrus)
	cacheHandler := handlers.NewCacheHandler(deps.Cache)

	v1 := router.Group("/api/v1")
	if deps.Auth != nil {
		v1.Use(deps.Auth.RequireAuth(middleware.ScopeResearch))
	}
	{
		bt := v1.Group("/backtest")
		{
			bt.GET("/strategies", backtest.ListStrategies)
			bt.POST("", backtest.RunBacktest)
			bt.POST("/batch", backtest.RunBatch)
			bt.GET("/runs", backtest.ListRuns)
		}

		st := v1.Group("/sentiment")
		{
			st.POST("/propagation", sentiment.AnalyzePropagation)
			st.POST("/lag", sentiment.DetectLag)
		}

		c := v1.Group("/cache")
		{
			c.GET("/stats", cacheHandler.Stats)
			if deps.Auth != nil {
				c.DELETE("", deps.Auth.RequireAuth(middleware.ScopeAdmin), cacheHandler.Clear)
			} else {
				c.DELETE("", cacheHandler.Clear)
			}
		}
	}
}
