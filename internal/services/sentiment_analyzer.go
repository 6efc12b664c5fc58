package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/irfndi/celebrum-research/internal/models"
	"github.com/irfndi/celebrum-research/internal/telemetry"
)

// SentimentConfig groups the tunables of a propagation analysis.
type SentimentConfig struct {
	Lag                 LagDetectorConfig  `json:"lag"`
	Waves               WaveDetectorConfig `json:"waves"`
	LeaderMinConfidence float64            `json:"leader_min_confidence"`
	Workers             int                `json:"workers"`
}

// DefaultSentimentConfig returns hourly defaults for every stage.
func DefaultSentimentConfig() SentimentConfig {
	return SentimentConfig{
		Lag:                 DefaultLagDetectorConfig(),
		Waves:               DefaultWaveDetectorConfig(),
		LeaderMinConfidence: DefaultLeaderMinConfidence,
	}
}

// SentimentAnalyzer runs lag detection, leader ranking and wave detection
// over a sentiment table.
type SentimentAnalyzer struct {
	config   SentimentConfig
	timezone *TimezoneAdjuster
	logger   *logrus.Logger

	detector *LagDetector
	matrix   *PropagationMatrixBuilder
	waves    *WaveDetector
}

// SentimentAnalyzerOption configures optional capabilities.
type SentimentAnalyzerOption func(*SentimentAnalyzer)

// WithTimezoneAdjuster enables timezone-aware lag correction.
func WithTimezoneAdjuster(adj *TimezoneAdjuster) SentimentAnalyzerOption {
	return func(a *SentimentAnalyzer) {
		a.timezone = adj
	}
}

// WithAnalyzerLogger sets the logger used by the analyzer.
func WithAnalyzerLogger(logger *logrus.Logger) SentimentAnalyzerOption {
	return func(a *SentimentAnalyzer) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewSentimentAnalyzer wires the analysis stages together.
func NewSentimentAnalyzer(cfg SentimentConfig, opts ...SentimentAnalyzerOption) *SentimentAnalyzer {
	a := &SentimentAnalyzer{config: cfg, logger: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(a)
	}
	if a.config.LeaderMinConfidence <= 0 {
		a.config.LeaderMinConfidence = DefaultLeaderMinConfidence
	}
	if a.config.Waves.SamplingInterval <= 0 {
		a.config.Waves.SamplingInterval = a.config.Lag.SamplingInterval
	}

	a.detector = NewLagDetector(a.config.Lag, a.timezone)
	a.config.Lag = a.detector.Config()
	a.matrix = NewPropagationMatrixBuilder(a.detector, a.config.Workers, a.logger)
	a.waves = NewWaveDetector(a.config.Waves)
	a.config.Waves = a.waves.Config()
	return a
}

// Config returns the effective configuration.
func (a *SentimentAnalyzer) Config() SentimentConfig {
	return a.config
}

// TimezoneAdjuster returns the configured adjuster or nil.
func (a *SentimentAnalyzer) TimezoneAdjuster() *TimezoneAdjuster {
	return a.timezone
}

// DetectLag exposes the lag detector for single-pair queries.
func (a *SentimentAnalyzer) DetectLag(table *models.TimeSeriesTable, channelA, channelB string) (models.LagResult, error) {
	return a.detector.DetectLag(table, channelA, channelB)
}

// Analyze builds the propagation matrix, ranks leaders and detects waves.
func (a *SentimentAnalyzer) Analyze(ctx context.Context, table *models.TimeSeriesTable, channels ...string) (*models.PropagationReport, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "SentimentAnalyzer.Analyze")
	defer span.End()

	if len(channels) == 0 {
		channels = table.Channels()
	}
	for _, ch := range channels {
		if !table.Has(ch) {
			err := fmt.Errorf("%w: %s", ErrMissingChannel, ch)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}
	if len(channels) < 2 {
		err := fmt.Errorf("%w: need at least two channels, got %d", ErrInsufficientData, len(channels))
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("channels", len(channels)),
		attribute.Bool("timezone_adjusted", a.timezone != nil),
	)

	start := time.Now()
	matrix, skipped, err := a.matrix.ComputeMatrix(ctx, table, channels...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to compute propagation matrix: %w", err)
	}

	ranking := RankLeaders(matrix, a.config.LeaderMinConfidence, channels...)
	report := &models.PropagationReport{
		Channels:         channels,
		SamplingInterval: a.config.Lag.SamplingInterval,
		Matrix:           matrix.Results(),
		Ranking:          ranking,
		Waves:            a.waves.DetectWaves(subTable(table, channels)),
		SkippedPairs:     skipped,
		TimezoneAdjusted: a.timezone != nil,
		GeneratedAt:      time.Now().UTC(),
	}
	if len(ranking) > 0 {
		report.Leader = ranking[0].Channel
		report.LeaderLeadTime = ranking[0].AvgLeadTime
	}

	span.SetAttributes(
		attribute.Int("matrix_entries", len(report.Matrix)),
		attribute.Int("waves", len(report.Waves)),
	)
	a.logger.WithFields(logrus.Fields{
		"channels":      len(channels),
		"pairs":         len(report.Matrix) / 2,
		"skipped_pairs": len(skipped),
		"waves":         len(report.Waves),
		"leader":        report.Leader,
		"duration_ms":   time.Since(start).Milliseconds(),
	}).Info("Sentiment propagation analysis completed")

	return report, nil
}

// subTable restricts a table to the given channels, keeping their order.
func subTable(table *models.TimeSeriesTable, channels []string) *models.TimeSeriesTable {
	all := table.Channels()
	if len(all) == len(channels) {
		same := true
		for i := range all {
			if all[i] != channels[i] {
				same = false
				break
			}
		}
		if same {
			return table
		}
	}
	out := models.NewTimeSeriesTable()
	for _, ch := range channels {
		s, _ := table.Series(ch)
		out.AddSeries(ch, s)
	}
	return out
}
