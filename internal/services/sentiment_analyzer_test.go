package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/celebrum-research/internal/models"
)

func TestSentimentAnalyzer_Analyze(t *testing.T) {
	analyzer := NewSentimentAnalyzer(DefaultSentimentConfig(), WithAnalyzerLogger(testLogger()))

	report, err := analyzer.Analyze(context.Background(), regionTable())
	require.NoError(t, err)

	assert.Equal(t, []string{"KR", "US", "EU"}, report.Channels)
	assert.Equal(t, time.Hour, report.SamplingInterval)
	assert.Len(t, report.Matrix, 6)
	assert.Equal(t, "KR", report.Leader)
	assert.Equal(t, 9*time.Hour, report.LeaderLeadTime)
	require.Len(t, report.Ranking, 3)
	assert.Equal(t, "US", report.Ranking[1].Channel)
	assert.Empty(t, report.SkippedPairs)
	assert.False(t, report.TimezoneAdjusted)
	assert.False(t, report.GeneratedAt.IsZero())

	for i := 1; i < len(report.Matrix); i++ {
		prev, cur := report.Matrix[i-1], report.Matrix[i]
		assert.True(t, prev.ChannelA < cur.ChannelA || (prev.ChannelA == cur.ChannelA && prev.ChannelB < cur.ChannelB))
	}
}

func TestSentimentAnalyzer_ChannelSubset(t *testing.T) {
	analyzer := NewSentimentAnalyzer(DefaultSentimentConfig(), WithAnalyzerLogger(testLogger()))

	report, err := analyzer.Analyze(context.Background(), regionTable(), "US", "EU")
	require.NoError(t, err)
	assert.Equal(t, []string{"US", "EU"}, report.Channels)
	assert.Len(t, report.Matrix, 2)
	assert.Equal(t, "US", report.Leader)
	assert.Equal(t, 6*time.Hour, report.LeaderLeadTime)
	for _, w := range report.Waves {
		assert.NotContains(t, w.AffectedChannels, "KR")
	}
}

func TestSentimentAnalyzer_Errors(t *testing.T) {
	analyzer := NewSentimentAnalyzer(DefaultSentimentConfig(), WithAnalyzerLogger(testLogger()))

	_, err := analyzer.Analyze(context.Background(), regionTable(), "KR", "JP")
	assert.ErrorIs(t, err, ErrMissingChannel)

	_, err = analyzer.Analyze(context.Background(), regionTable(), "KR")
	assert.ErrorIs(t, err, ErrInsufficientData)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = analyzer.Analyze(ctx, regionTable())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSentimentAnalyzer_AllPairsSkipped(t *testing.T) {
	table := models.NewTimeSeriesTable()
	for i := 0; i < 10; i++ {
		ts := barStart.Add(time.Duration(i) * time.Hour)
		table.AddPoint("KR", ts, float64(i))
		table.AddPoint("US", ts, float64(i%3))
	}

	report, err := NewSentimentAnalyzer(DefaultSentimentConfig(), WithAnalyzerLogger(testLogger())).Analyze(context.Background(), table)
	require.NoError(t, err)
	assert.Empty(t, report.Matrix)
	assert.Equal(t, []models.PairKey{{A: "KR", B: "US"}}, report.SkippedPairs)
	// Every channel ties at zero, so the first one wins.
	assert.Equal(t, "KR", report.Leader)
	assert.Zero(t, report.LeaderLeadTime)
}

func TestSentimentAnalyzer_WithTimezoneAdjuster(t *testing.T) {
	adj, err := NewTimezoneAdjuster(DefaultActivityProfiles())
	require.NoError(t, err)
	analyzer := NewSentimentAnalyzer(DefaultSentimentConfig(), WithTimezoneAdjuster(adj), WithAnalyzerLogger(testLogger()))
	assert.Same(t, adj, analyzer.TimezoneAdjuster())

	report, err := analyzer.Analyze(context.Background(), winterTable())
	require.NoError(t, err)
	assert.True(t, report.TimezoneAdjusted)

	var entry models.LagResult
	for _, r := range report.Matrix {
		if r.ChannelA == "KR" && r.ChannelB == "US" {
			entry = r
		}
	}
	require.NotNil(t, entry.Timezone)
	assert.Equal(t, -270*time.Minute, entry.LagTime)
}

func TestNewSentimentAnalyzer_Defaults(t *testing.T) {
	cfg := NewSentimentAnalyzer(SentimentConfig{Lag: LagDetectorConfig{SamplingInterval: 15 * time.Minute}}).Config()

	assert.Equal(t, 48, cfg.Lag.MaxLag)
	assert.Equal(t, 15*time.Minute, cfg.Waves.SamplingInterval)
	assert.Equal(t, 6*time.Hour, cfg.Waves.SearchWindow)
	assert.Equal(t, DefaultLeaderMinConfidence, cfg.LeaderMinConfidence)
	assert.Nil(t, NewSentimentAnalyzer(cfg).TimezoneAdjuster())
}

func TestSentimentAnalyzer_DetectLag(t *testing.T) {
	analyzer := NewSentimentAnalyzer(DefaultSentimentConfig())

	result, err := analyzer.DetectLag(regionTable(), "EU", "KR")
	require.NoError(t, err)
	assert.Equal(t, 12, result.OptimalLag)
	assert.Equal(t, models.DirectionLags, result.Direction)
}
