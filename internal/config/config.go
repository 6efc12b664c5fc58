package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/irfndi/celebrum-research/internal/models"
)

type Config struct {
	Environment string          `mapstructure:"environment"`
	LogLevel    string          `mapstructure:"log_level"`
	Server      ServerConfig    `mapstructure:"server"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Cache       CacheConfig     `mapstructure:"cache"`
	Telemetry   TelemetryConfig `mapstructure:"telemetry"`
	Telegram    TelegramConfig  `mapstructure:"telegram"`
	Security    SecurityConfig  `mapstructure:"security"`
	Backtest    BacktestConfig  `mapstructure:"backtest"`
	Sentiment   SentimentConfig `mapstructure:"sentiment"`
	Timezone    TimezoneConfig  `mapstructure:"timezone"`
}

type ServerConfig struct {
	Port            int      `mapstructure:"port"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	ShutdownTimeout string   `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	DatabaseURL     string `mapstructure:"database_url"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime string `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime string `mapstructure:"conn_max_idle_time"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// CacheConfig controls the analysis result cache.
type CacheConfig struct {
	TTL        string `mapstructure:"ttl"`
	MaxEntries int    `mapstructure:"max_entries"`
}

type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Exporter    string  `mapstructure:"exporter"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	LogsEnabled bool    `mapstructure:"logs_enabled"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token" json:"-" yaml:"-"`
	ChatID   int64  `mapstructure:"chat_id"`
}

type SecurityConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" json:"-" yaml:"-"`
	JWTExpiry string `mapstructure:"jwt_expiry"`
}

// BacktestConfig holds default backtest parameters. Percentages are numbers:
// 0.1 means 0.1%.
type BacktestConfig struct {
	InitialBalance  float64 `mapstructure:"initial_balance"`
	PositionSizePct float64 `mapstructure:"position_size_pct"`
	MaxPositions    int     `mapstructure:"max_positions"`
	FeeRatePct      float64 `mapstructure:"fee_rate_pct"`
	SlippagePct     float64 `mapstructure:"slippage_pct"`
	Leverage        float64 `mapstructure:"leverage"`
	WarmupBars      int     `mapstructure:"warmup_bars"`
	LookbackBars    int     `mapstructure:"lookback_bars"`
	MaxEquityPoints int     `mapstructure:"max_equity_points"`
	StopLossPct     float64 `mapstructure:"stop_loss_pct"`
	TakeProfitPct   float64 `mapstructure:"take_profit_pct"`
	MinConfidence   float64 `mapstructure:"min_confidence"`
	Workers         int     `mapstructure:"workers"`
}

// SentimentConfig holds propagation analysis defaults.
type SentimentConfig struct {
	SamplingInterval    string  `mapstructure:"sampling_interval"`
	MaxLag              int     `mapstructure:"max_lag"`
	MinSamples          int     `mapstructure:"min_samples"`
	Normalize           bool    `mapstructure:"normalize"`
	LeaderMinConfidence float64 `mapstructure:"leader_min_confidence"`
	WaveThresholdStd    float64 `mapstructure:"wave_threshold_std"`
	WaveMinAffected     int     `mapstructure:"wave_min_affected"`
	WaveSearchWindow    string  `mapstructure:"wave_search_window"`
	WaveDedupWindow     string  `mapstructure:"wave_dedup_window"`
	Workers             int     `mapstructure:"workers"`
}

// TimezoneConfig enables lag correction for channel activity hours. An empty
// Profiles map uses the built-in country profiles.
type TimezoneConfig struct {
	Enabled  bool                                     `mapstructure:"enabled"`
	Profiles map[string]models.ChannelActivityProfile `mapstructure:"profiles"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	// Set default values
	setDefaults()

	// Enable environment variable support
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.BindEnv("security.jwt_secret", "JWT_SECRET"); err != nil {
		return nil, fmt.Errorf("failed to bind JWT_SECRET environment variable: %w", err)
	}
	if err := viper.BindEnv("telegram.bot_token", "TELEGRAM_BOT_TOKEN"); err != nil {
		return nil, fmt.Errorf("failed to bind TELEGRAM_BOT_TOKEN environment variable: %w", err)
	}

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, use defaults and environment variables
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Environment = strings.ToLower(config.Environment)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks value ranges that viper cannot express.
func (c *Config) Validate() error {
	// JWT auth on the API is optional in development only
	if c.Environment != "development" && c.Environment != "test" && c.Security.JWTSecret == "" {
		return errors.New("JWT_SECRET environment variable is required in non-development environments")
	}

	durations := map[string]string{
		"security.jwt_expiry":          c.Security.JWTExpiry,
		"server.shutdown_timeout":      c.Server.ShutdownTimeout,
		"cache.ttl":                    c.Cache.TTL,
		"sentiment.sampling_interval":  c.Sentiment.SamplingInterval,
		"sentiment.wave_search_window": c.Sentiment.WaveSearchWindow,
		"sentiment.wave_dedup_window":  c.Sentiment.WaveDedupWindow,
	}
	for key, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s duration: %w", key, err)
		}
	}

	if c.Backtest.InitialBalance <= 0 {
		return fmt.Errorf("backtest.initial_balance must be positive, got %v", c.Backtest.InitialBalance)
	}
	if c.Backtest.PositionSizePct <= 0 || c.Backtest.PositionSizePct > 100 {
		return fmt.Errorf("backtest.position_size_pct must be within (0, 100], got %v", c.Backtest.PositionSizePct)
	}
	if c.Backtest.FeeRatePct < 0 || c.Backtest.SlippagePct < 0 {
		return errors.New("backtest fee and slippage must not be negative")
	}
	if c.Backtest.Leverage < 1 {
		return fmt.Errorf("backtest.leverage must be at least 1, got %v", c.Backtest.Leverage)
	}
	if c.Sentiment.MaxLag < 1 {
		return fmt.Errorf("sentiment.max_lag must be positive, got %d", c.Sentiment.MaxLag)
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry.sample_rate must be within [0, 1], got %v", c.Telemetry.SampleRate)
	}
	return nil
}

// Duration parses a validated duration string, returning fallback when empty.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

func setDefaults() {
	// Environment
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	// Server
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	viper.SetDefault("server.shutdown_timeout", "30s")

	// Database
	viper.SetDefault("database.enabled", false)
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "celebrum_research")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.database_url", "")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "300s")
	viper.SetDefault("database.conn_max_idle_time", "60s")

	// Redis
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Cache
	viper.SetDefault("cache.ttl", "1h")
	viper.SetDefault("cache.max_entries", 1000)

	// Telemetry
	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.exporter", "stdout")
	viper.SetDefault("telemetry.endpoint", "http://localhost:4318")
	viper.SetDefault("telemetry.sample_rate", 0.2)
	viper.SetDefault("telemetry.logs_enabled", false)

	// Telegram
	viper.SetDefault("telegram.bot_token", "")
	viper.SetDefault("telegram.chat_id", 0)

	// Security
	viper.SetDefault("security.jwt_secret", "")
	viper.SetDefault("security.jwt_expiry", "24h")

	// Backtest
	viper.SetDefault("backtest.initial_balance", 10000.0)
	viper.SetDefault("backtest.position_size_pct", 10.0)
	viper.SetDefault("backtest.max_positions", 1)
	viper.SetDefault("backtest.fee_rate_pct", 0.1)
	viper.SetDefault("backtest.slippage_pct", 0.05)
	viper.SetDefault("backtest.leverage", 1.0)
	viper.SetDefault("backtest.warmup_bars", 50)
	viper.SetDefault("backtest.lookback_bars", 100)
	viper.SetDefault("backtest.max_equity_points", 1000)
	viper.SetDefault("backtest.stop_loss_pct", 0.0)
	viper.SetDefault("backtest.take_profit_pct", 0.0)
	viper.SetDefault("backtest.min_confidence", 0.0)
	viper.SetDefault("backtest.workers", 0)

	// Sentiment
	viper.SetDefault("sentiment.sampling_interval", "1h")
	viper.SetDefault("sentiment.max_lag", 48)
	viper.SetDefault("sentiment.min_samples", 24)
	viper.SetDefault("sentiment.normalize", true)
	viper.SetDefault("sentiment.leader_min_confidence", 0.5)
	viper.SetDefault("sentiment.wave_threshold_std", 2.0)
	viper.SetDefault("sentiment.wave_min_affected", 2)
	viper.SetDefault("sentiment.wave_search_window", "24h")
	viper.SetDefault("sentiment.wave_dedup_window", "6h")
	viper.SetDefault("sentiment.workers", 0)

	// Timezone
	viper.SetDefault("timezone.enabled", false)
}
