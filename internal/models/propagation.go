package models

import (
	"sort"
	"time"
)

// Direction describes the temporal relationship of channel A to channel B.
type Direction string

const (
	DirectionLeads       Direction = "leads"
	DirectionLags        Direction = "lags"
	DirectionSynchronous Direction = "synchronous"
)

// Flip returns the direction seen from the other channel.
func (d Direction) Flip() Direction {
	switch d {
	case DirectionLeads:
		return DirectionLags
	case DirectionLags:
		return DirectionLeads
	default:
		return d
	}
}

// TimezoneAdjustment splits a raw lag into wake-up delay and propagation delay.
type TimezoneAdjustment struct {
	RawLagTime      time.Duration `json:"raw_lag_time"`
	WakeupDelay     time.Duration `json:"wakeup_delay_time"`
	TruePropagation time.Duration `json:"true_propagation_time"`
	TimezoneDriven  bool          `json:"timezone_driven"`
}

// LagResult is the outcome of a cross-correlation between two channels.
// A negative OptimalLag means ChannelA leads ChannelB.
type LagResult struct {
	ChannelA    string              `json:"channel_a"`
	ChannelB    string              `json:"channel_b"`
	OptimalLag  int                 `json:"optimal_lag"`
	Correlation float64             `json:"correlation"`
	Direction   Direction           `json:"direction"`
	Confidence  float64             `json:"confidence"`
	LagTime     time.Duration       `json:"lag_time"`
	SampleCount int                 `json:"sample_count"`
	Timezone    *TimezoneAdjustment `json:"timezone,omitempty"`
}

// Mirror derives the (B, A) result: lag negated, direction flipped.
func (r LagResult) Mirror() LagResult {
	m := r
	m.ChannelA, m.ChannelB = r.ChannelB, r.ChannelA
	m.OptimalLag = -r.OptimalLag
	m.LagTime = -r.LagTime
	m.Direction = r.Direction.Flip()
	if r.Timezone != nil {
		tz := *r.Timezone
		tz.RawLagTime = -tz.RawLagTime
		m.Timezone = &tz
	}
	return m
}

// PairKey identifies a directed channel pair.
type PairKey struct {
	A string `json:"a"`
	B string `json:"b"`
}

// PropagationMatrix maps directed pairs to their lag results.
type PropagationMatrix map[PairKey]LagResult

// Get returns the result for (a, b).
func (m PropagationMatrix) Get(a, b string) (LagResult, bool) {
	r, ok := m[PairKey{A: a, B: b}]
	return r, ok
}

// Results returns all entries ordered by (A, B).
func (m PropagationMatrix) Results() []LagResult {
	out := make([]LagResult, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ChannelA != out[j].ChannelA {
			return out[i].ChannelA < out[j].ChannelA
		}
		return out[i].ChannelB < out[j].ChannelB
	})
	return out
}

// LeaderScore summarises how strongly a channel leads the others.
type LeaderScore struct {
	Channel     string        `json:"channel"`
	AvgLeadTime time.Duration `json:"avg_lead_time"`
	LeadCount   int           `json:"lead_count"`
}

// PropagationWave is a burst that starts in one channel and shows up in others.
type PropagationWave struct {
	Origin           string                   `json:"origin_channel"`
	WaveTime         time.Time                `json:"wave_time"`
	AffectedChannels []string                 `json:"affected_channels"`
	ArrivalOffsets   map[string]time.Duration `json:"arrival_offsets"`
	Magnitude        float64                  `json:"magnitude"`
	Strength         float64                  `json:"strength"`
}

// ChannelActivityProfile is static reference data describing when a channel's
// audience is awake. Hours are local wall-clock hours in [0, 24]; a window with
// start > end wraps past midnight.
type ChannelActivityProfile struct {
	Timezone      string  `json:"timezone" mapstructure:"timezone"`
	ActiveStart   float64 `json:"active_hours_start" mapstructure:"active_start"`
	ActiveEnd     float64 `json:"active_hours_end" mapstructure:"active_end"`
	PeakStart     float64 `json:"peak_hours_start" mapstructure:"peak_start"`
	PeakEnd       float64 `json:"peak_hours_end" mapstructure:"peak_end"`
	WeekendFactor float64 `json:"weekend_activity_factor" mapstructure:"weekend_factor"`
}

// PropagationReport bundles the outputs of one sentiment propagation run.
type PropagationReport struct {
	Channels         []string          `json:"channels"`
	SamplingInterval time.Duration     `json:"sampling_interval"`
	Matrix           []LagResult       `json:"matrix"`
	Leader           string            `json:"leader"`
	LeaderLeadTime   time.Duration     `json:"leader_lead_time"`
	Ranking          []LeaderScore     `json:"ranking"`
	Waves            []PropagationWave `json:"waves"`
	SkippedPairs     []PairKey         `json:"skipped_pairs,omitempty"`
	TimezoneAdjusted bool              `json:"timezone_adjusted"`
	GeneratedAt      time.Time         `json:"generated_at"`
}
