package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/celebrum-research/internal/models"
)

func defaultAdjuster(t *testing.T) *TimezoneAdjuster {
	t.Helper()
	adj, err := NewTimezoneAdjuster(DefaultActivityProfiles())
	require.NoError(t, err)
	return adj
}

// winterTable spans an even number of hours in January so the midpoint falls
// on a whole hour outside daylight saving time.
func winterTable() *models.TimeSeriesTable {
	return shiftedTable(201, 8, map[string]int{"KR": 6, "US": 0}, "KR", "US")
}

func TestTimezoneAdjuster_AdjustLag(t *testing.T) {
	adj := defaultAdjuster(t)
	table := winterTable()

	// New York sleeps 23:00-07:00; averaged over the day that is 36/24 hours.
	tests := []struct {
		name        string
		raw         time.Duration
		wantAdj     time.Duration
		wantTrue    time.Duration
		wantTZDrive bool
	}{
		{"long lead", -6 * time.Hour, -270 * time.Minute, 270 * time.Minute, false},
		{"long lag", 6 * time.Hour, 270 * time.Minute, 270 * time.Minute, false},
		{"short lag is mostly wake-up", 2 * time.Hour, 30 * time.Minute, 30 * time.Minute, true},
		{"wake-up exceeds lag", -time.Hour, 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := adj.AdjustLag(table, "KR", "US", tt.raw, 0.9)
			assert.Equal(t, tt.raw, got.RawLagTime)
			assert.Equal(t, 90*time.Minute, got.WakeupDelay)
			assert.Equal(t, tt.wantAdj, got.AdjustedLagTime)
			assert.Equal(t, tt.wantTrue, got.TruePropagation)
			assert.Equal(t, tt.wantTZDrive, got.TimezoneDriven)
		})
	}
}

func TestTimezoneAdjuster_AdjustLag_UnknownChannel(t *testing.T) {
	adj := defaultAdjuster(t)

	got := adj.AdjustLag(winterTable(), "KR", "XX", -3*time.Hour, 0.7)
	assert.Equal(t, -3*time.Hour, got.AdjustedLagTime)
	assert.Equal(t, 3*time.Hour, got.TruePropagation)
	assert.Zero(t, got.WakeupDelay)
	assert.False(t, got.TimezoneDriven)
}

func TestTimezoneAdjuster_ActivityLevel(t *testing.T) {
	adj := defaultAdjuster(t)
	tuesday := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	saturday := time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		channel string
		at      time.Time
		want    float64
	}{
		{"new york morning peak", "US", tuesday.Add(15 * time.Hour), 1.5},
		{"new york afternoon", "US", tuesday.Add(20 * time.Hour), 1},
		{"new york night", "US", tuesday.Add(6 * time.Hour), 0},
		{"lowercase channel", "us", tuesday.Add(20 * time.Hour), 1},
		{"new york saturday peak", "US", saturday.Add(15 * time.Hour), 1.2},
		{"seoul late evening peak", "KR", tuesday.Add(13 * time.Hour), 1.5},
		{"seoul before dawn", "KR", tuesday.Add(19 * time.Hour), 0},
		{"unknown channel", "XX", tuesday, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, adj.ActivityLevel(tt.channel, tt.at), 1e-9)
		})
	}
}

func TestNewTimezoneAdjuster_Validation(t *testing.T) {
	valid := models.ChannelActivityProfile{Timezone: "Europe/Berlin", ActiveStart: 7, ActiveEnd: 23, PeakStart: 8, PeakEnd: 10}

	tests := []struct {
		name    string
		mutate  func(p *models.ChannelActivityProfile)
		wantErr string
	}{
		{"valid", func(*models.ChannelActivityProfile) {}, ""},
		{"unknown zone", func(p *models.ChannelActivityProfile) { p.Timezone = "Mars/Olympus_Mons" }, "invalid timezone"},
		{"hour out of range", func(p *models.ChannelActivityProfile) { p.ActiveStart = 25 }, "active_start must be within [0, 24]"},
		{"negative hour", func(p *models.ChannelActivityProfile) { p.PeakEnd = -1 }, "peak_end must be within [0, 24]"},
		{"negative weekend factor", func(p *models.ChannelActivityProfile) { p.WeekendFactor = -0.5 }, "weekend_factor"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			adj, err := NewTimezoneAdjuster(map[string]models.ChannelActivityProfile{"DE": p})
			if tt.wantErr == "" {
				require.NoError(t, err)
				got, ok := adj.Profile("de")
				require.True(t, ok)
				assert.Equal(t, 1.0, got.WeekendFactor)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Contains(t, err.Error(), "channel DE")
		})
	}
}

func TestInWindow(t *testing.T) {
	tests := []struct {
		h, start, end float64
		want          bool
	}{
		{10, 7, 23, true},
		{23, 7, 23, false},
		{6.5, 7, 23, false},
		{23.5, 7, 24, true},
		{0, 7, 24, false},
		{23, 22, 2, true},
		{1, 22, 2, true},
		{3, 22, 2, false},
		{5, 5, 5, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, inWindow(tt.h, tt.start, tt.end), "h=%v window=[%v,%v)", tt.h, tt.start, tt.end)
	}
}

func TestLagDetector_WithTimezoneAdjuster(t *testing.T) {
	adj := defaultAdjuster(t)
	detector := NewLagDetector(DefaultLagDetectorConfig(), adj)

	result, err := detector.DetectLag(winterTable(), "KR", "US")
	require.NoError(t, err)
	require.NotNil(t, result.Timezone)
	assert.Equal(t, -6, result.OptimalLag)
	assert.Equal(t, -6*time.Hour, result.Timezone.RawLagTime)
	assert.Equal(t, 90*time.Minute, result.Timezone.WakeupDelay)
	assert.Equal(t, -270*time.Minute, result.LagTime)

	mirror := result.Mirror()
	assert.Equal(t, 6*time.Hour, mirror.Timezone.RawLagTime)
	assert.Equal(t, 270*time.Minute, mirror.LagTime)
}
