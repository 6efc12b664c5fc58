package services

import (
	"math"
	"sort"
	"time"

	"github.com/irfndi/celebrum-research/internal/models"
)

// WaveDetectorConfig controls anomaly detection and wave assembly.
type WaveDetectorConfig struct {
	ThresholdStd     float64       `json:"threshold_std"`
	MinAffected      int           `json:"min_affected"`
	SearchWindow     time.Duration `json:"search_window"`
	DedupWindow      time.Duration `json:"dedup_window"`
	SamplingInterval time.Duration `json:"sampling_interval"`
}

// DefaultWaveDetectorConfig returns a 2-sigma detector with a one-day search
// window on hourly data.
func DefaultWaveDetectorConfig() WaveDetectorConfig {
	return WaveDetectorConfig{
		ThresholdStd:     2.0,
		MinAffected:      2,
		SearchWindow:     24 * time.Hour,
		DedupWindow:      6 * time.Hour,
		SamplingInterval: time.Hour,
	}
}

// WaveDetector finds bursts that appear in one channel and spread to others.
type WaveDetector struct {
	config WaveDetectorConfig
}

// NewWaveDetector creates a detector, filling unset fields from the defaults.
// Unset windows scale with the sampling interval (24 and 6 samples).
func NewWaveDetector(cfg WaveDetectorConfig) *WaveDetector {
	def := DefaultWaveDetectorConfig()
	if cfg.SamplingInterval <= 0 {
		cfg.SamplingInterval = def.SamplingInterval
	}
	if cfg.ThresholdStd <= 0 {
		cfg.ThresholdStd = def.ThresholdStd
	}
	if cfg.MinAffected <= 0 {
		cfg.MinAffected = def.MinAffected
	}
	if cfg.SearchWindow <= 0 {
		cfg.SearchWindow = 24 * cfg.SamplingInterval
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 6 * cfg.SamplingInterval
	}
	return &WaveDetector{config: cfg}
}

// Config returns the effective configuration.
func (d *WaveDetector) Config() WaveDetectorConfig {
	return d.config
}

// diffSeries is the first difference of a channel, stamped with the later
// sample's time.
type diffSeries struct {
	times  []time.Time
	values []float64
}

func newDiffSeries(s models.Series) diffSeries {
	if len(s) < 2 {
		return diffSeries{}
	}
	d := diffSeries{
		times:  make([]time.Time, len(s)-1),
		values: firstDifference(s.Values()),
	}
	for i := 1; i < len(s); i++ {
		d.times[i-1] = s[i].Time
	}
	return d
}

// nearestSameSign returns the offset from t of the closest difference with the
// given sign strictly inside the search window. Earlier entries win ties.
func (d diffSeries) nearestSameSign(t time.Time, sgn int, window time.Duration) (time.Duration, bool) {
	lo := sort.Search(len(d.times), func(i int) bool { return !d.times[i].Before(t.Add(-window)) })
	best := time.Duration(0)
	found := false
	for i := lo; i < len(d.times) && !d.times[i].After(t.Add(window)); i++ {
		if sign(d.values[i]) != sgn {
			continue
		}
		offset := d.times[i].Sub(t)
		if absDuration(offset) >= window {
			continue
		}
		if !found || absDuration(offset) < absDuration(best) {
			best = offset
			found = true
		}
	}
	return best, found
}

// DetectWaves scans every channel for anomalous jumps and assembles waves
// from same-signed jumps in the other channels. Waves close in time are
// deduplicated.
func (d *WaveDetector) DetectWaves(table *models.TimeSeriesTable) []models.PropagationWave {
	channels := table.Channels()
	diffs := make(map[string]diffSeries, len(channels))
	for _, ch := range channels {
		s, _ := table.Series(ch)
		diffs[ch] = newDiffSeries(s)
	}

	var candidates []models.PropagationWave
	for _, origin := range channels {
		od := diffs[origin]
		if len(od.values) < 2 {
			continue
		}
		mean := calculateMeanFloat64(od.values)
		std := calculateStdDev(od.values)
		threshold := mean + d.config.ThresholdStd*std
		absThreshold := math.Abs(threshold)

		for i, change := range od.values {
			if math.Abs(change) <= absThreshold {
				continue
			}
			t := od.times[i]
			sgn := sign(change)
			offsets := map[string]time.Duration{origin: 0}
			affected := []string{origin}

			for _, other := range channels {
				if other == origin {
					continue
				}
				offset, ok := diffs[other].nearestSameSign(t, sgn, d.config.SearchWindow)
				if !ok {
					continue
				}
				offsets[other] = offset
				affected = append(affected, other)
			}

			if len(affected) < d.config.MinAffected {
				continue
			}
			sort.SliceStable(affected, func(a, b int) bool {
				return offsets[affected[a]] < offsets[affected[b]]
			})
			candidates = append(candidates, models.PropagationWave{
				Origin:           origin,
				WaveTime:         t,
				AffectedChannels: affected,
				ArrivalOffsets:   offsets,
				Magnitude:        change,
				Strength:         math.Min(1, math.Abs(change)/(2*absThreshold+epsilon)),
			})
		}
	}
	return d.deduplicate(candidates)
}

// deduplicate merges waves whose times fall within the dedup window of the
// previously kept wave, keeping the one that reached more channels.
func (d *WaveDetector) deduplicate(waves []models.PropagationWave) []models.PropagationWave {
	if len(waves) == 0 {
		return nil
	}
	sort.SliceStable(waves, func(i, j int) bool {
		return waves[i].WaveTime.Before(waves[j].WaveTime)
	})
	kept := []models.PropagationWave{waves[0]}
	for _, w := range waves[1:] {
		last := &kept[len(kept)-1]
		if w.WaveTime.Sub(last.WaveTime) <= d.config.DedupWindow {
			if len(w.AffectedChannels) > len(last.AffectedChannels) {
				*last = w
			}
			continue
		}
		kept = append(kept, w)
	}
	return kept
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
