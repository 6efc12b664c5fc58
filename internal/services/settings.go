package services

import (
	"time"

	"github.com/irfndi/celebrum-research/internal/config"
)

// BacktestParamsFromConfig maps the backtest config section onto run
// parameters.
func BacktestParamsFromConfig(cfg config.BacktestConfig) BacktestParams {
	return BacktestParams{
		InitialBalance:  cfg.InitialBalance,
		PositionSizePct: cfg.PositionSizePct,
		MaxPositions:    cfg.MaxPositions,
		FeeRatePct:      cfg.FeeRatePct,
		SlippagePct:     cfg.SlippagePct,
		Leverage:        cfg.Leverage,
		WarmupBars:      cfg.WarmupBars,
		LookbackBars:    cfg.LookbackBars,
		MaxEquityPoints: cfg.MaxEquityPoints,
		StopLossPct:     cfg.StopLossPct,
		TakeProfitPct:   cfg.TakeProfitPct,
		MinConfidence:   cfg.MinConfidence,
	}
}

// SentimentConfigFromConfig maps the sentiment config section onto analyzer
// settings. Unset values keep the analyzer defaults.
func SentimentConfigFromConfig(cfg config.SentimentConfig) SentimentConfig {
	out := DefaultSentimentConfig()
	interval := config.Duration(cfg.SamplingInterval, out.Lag.SamplingInterval)

	out.Lag.SamplingInterval = interval
	out.Waves.SamplingInterval = interval
	out.Lag.Normalize = cfg.Normalize
	if cfg.MaxLag > 0 {
		out.Lag.MaxLag = cfg.MaxLag
	}
	if cfg.MinSamples > 0 {
		out.Lag.MinSamples = cfg.MinSamples
	}
	if cfg.LeaderMinConfidence > 0 {
		out.LeaderMinConfidence = cfg.LeaderMinConfidence
	}
	if cfg.WaveThresholdStd > 0 {
		out.Waves.ThresholdStd = cfg.WaveThresholdStd
	}
	if cfg.WaveMinAffected > 0 {
		out.Waves.MinAffected = cfg.WaveMinAffected
	}
	out.Waves.SearchWindow = config.Duration(cfg.WaveSearchWindow, 24*interval)
	out.Waves.DedupWindow = config.Duration(cfg.WaveDedupWindow, 6*interval)
	out.Workers = cfg.Workers
	return out
}

// TimezoneAdjusterFromConfig builds the adjuster when timezone correction is
// enabled, and returns nil otherwise.
func TimezoneAdjusterFromConfig(cfg config.TimezoneConfig) (*TimezoneAdjuster, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	profiles := cfg.Profiles
	if len(profiles) == 0 {
		profiles = DefaultActivityProfiles()
	}
	return NewTimezoneAdjuster(profiles)
}

// defaultCacheTTL applies when the cache TTL is not configured.
const defaultCacheTTL = time.Hour

// CacheTTLFromConfig returns the analysis cache TTL.
func CacheTTLFromConfig(cfg config.CacheConfig) time.Duration {
	return config.Duration(cfg.TTL, defaultCacheTTL)
}
