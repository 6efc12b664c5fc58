package services

import (
	"fmt"
	"math"
	"time"

	"github.com/irfndi/celebrum-research/internal/models"
)

// LagDetectorConfig controls the cross-correlation lag search.
type LagDetectorConfig struct {
	MaxLag           int           `json:"max_lag"` // samples
	SamplingInterval time.Duration `json:"sampling_interval"`
	MinSamples       int           `json:"min_samples"`
	Normalize        bool          `json:"normalize"`
}

// DefaultLagDetectorConfig returns hourly sampling with a two-day window.
func DefaultLagDetectorConfig() LagDetectorConfig {
	return LagDetectorConfig{
		MaxLag:           48,
		SamplingInterval: time.Hour,
		MinSamples:       24,
		Normalize:        true,
	}
}

// LagDetector finds the time shift at which two channels correlate best.
type LagDetector struct {
	config   LagDetectorConfig
	timezone *TimezoneAdjuster
}

// NewLagDetector creates a lag detector. A nil adjuster disables timezone
// correction.
func NewLagDetector(cfg LagDetectorConfig, adjuster *TimezoneAdjuster) *LagDetector {
	def := DefaultLagDetectorConfig()
	if cfg.MaxLag <= 0 {
		cfg.MaxLag = def.MaxLag
	}
	if cfg.SamplingInterval <= 0 {
		cfg.SamplingInterval = def.SamplingInterval
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = def.MinSamples
	}
	return &LagDetector{config: cfg, timezone: adjuster}
}

// Config returns the effective configuration.
func (d *LagDetector) Config() LagDetectorConfig {
	return d.config
}

// DetectLag cross-correlates channels a and b over their common timestamps.
// It returns ErrMissingChannel or ErrInsufficientData when no result can be
// computed.
func (d *LagDetector) DetectLag(table *models.TimeSeriesTable, a, b string) (models.LagResult, error) {
	if !table.Has(a) {
		return models.LagResult{}, fmt.Errorf("%w: %s", ErrMissingChannel, a)
	}
	if !table.Has(b) {
		return models.LagResult{}, fmt.Errorf("%w: %s", ErrMissingChannel, b)
	}

	_, va, vb := table.Align(a, b)
	n := len(va)
	if n < d.config.MinSamples || n < 2 {
		return models.LagResult{}, fmt.Errorf("%w: %s/%s have %d common samples, need %d",
			ErrInsufficientData, a, b, n, d.config.MinSamples)
	}

	if d.config.Normalize {
		va = zNormalize(va)
		vb = zNormalize(vb)
	}

	maxLag := d.config.MaxLag
	if maxLag > n-1 {
		maxLag = n - 1
	}
	corr := crossCorrelation(va, vb, maxLag)

	// Ties go to the smallest |k|, so a flat profile reads as synchronous.
	peakIdx := maxLag
	var absSum float64
	for i, c := range corr {
		absSum += math.Abs(c)
		best := math.Abs(corr[peakIdx])
		if math.Abs(c) > best || (math.Abs(c) == best && abs(i-maxLag) < abs(peakIdx-maxLag)) {
			peakIdx = i
		}
	}
	meanAbs := absSum / float64(len(corr))
	peak := corr[peakIdx]
	lag := peakIdx - maxLag

	result := newLagResult(a, b, lag, peak, meanAbs, d.config.SamplingInterval)
	result.SampleCount = n

	if d.timezone != nil {
		adj := d.timezone.AdjustLag(table, a, b, result.LagTime, result.Correlation)
		result.LagTime = adj.AdjustedLagTime
		result.Timezone = &models.TimezoneAdjustment{
			RawLagTime:      adj.RawLagTime,
			WakeupDelay:     adj.WakeupDelay,
			TruePropagation: adj.TruePropagation,
			TimezoneDriven:  adj.TimezoneDriven,
		}
	}
	return result, nil
}

// newLagResult is the only constructor for lag results so the confidence
// clamp holds for every caller.
func newLagResult(a, b string, lag int, peak, meanAbs float64, interval time.Duration) models.LagResult {
	confidence := clamp((math.Abs(peak)-meanAbs)/(1-meanAbs+epsilon), 0, 1)
	if math.IsNaN(confidence) {
		confidence = 0
	}
	return models.LagResult{
		ChannelA:    a,
		ChannelB:    b,
		OptimalLag:  lag,
		Correlation: clamp(peak, -1, 1),
		Direction:   classifyLag(lag),
		Confidence:  confidence,
		LagTime:     time.Duration(lag) * interval,
	}
}

func classifyLag(lag int) models.Direction {
	switch {
	case lag >= -1 && lag <= 1:
		return models.DirectionSynchronous
	case lag < 0:
		return models.DirectionLeads
	default:
		return models.DirectionLags
	}
}
