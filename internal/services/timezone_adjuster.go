package services

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/irfndi/celebrum-research/internal/models"
)

// TimezoneLagAdjustment is the outcome of correcting a raw lag for the
// target channel's waking hours.
type TimezoneLagAdjustment struct {
	AdjustedLagTime time.Duration `json:"adjusted_lag_time"`
	RawLagTime      time.Duration `json:"raw_lag_time"`
	WakeupDelay     time.Duration `json:"wakeup_delay_time"`
	TruePropagation time.Duration `json:"true_propagation_time"`
	TimezoneDriven  bool          `json:"timezone_driven"`
}

type activityWindow struct {
	profile  models.ChannelActivityProfile
	location *time.Location
}

// TimezoneAdjuster corrects lag measurements for channels whose audience is
// asleep when a signal first appears elsewhere.
type TimezoneAdjuster struct {
	windows map[string]activityWindow
}

// DefaultActivityProfiles returns waking-hour profiles for common country codes.
func DefaultActivityProfiles() map[string]models.ChannelActivityProfile {
	p := func(tz string, activeStart, activeEnd, peakStart, peakEnd, weekend float64) models.ChannelActivityProfile {
		return models.ChannelActivityProfile{
			Timezone:      tz,
			ActiveStart:   activeStart,
			ActiveEnd:     activeEnd,
			PeakStart:     peakStart,
			PeakEnd:       peakEnd,
			WeekendFactor: weekend,
		}
	}
	return map[string]models.ChannelActivityProfile{
		"US": p("America/New_York", 7, 23, 9, 12, 0.8),
		"CA": p("America/Toronto", 7, 23, 9, 12, 0.8),
		"BR": p("America/Sao_Paulo", 8, 24, 19, 23, 0.9),
		"GB": p("Europe/London", 7, 23, 8, 10, 0.8),
		"DE": p("Europe/Berlin", 7, 23, 8, 10, 0.75),
		"FR": p("Europe/Paris", 7, 23, 8, 10, 0.75),
		"RU": p("Europe/Moscow", 8, 24, 19, 23, 0.9),
		"NG": p("Africa/Lagos", 7, 23, 18, 22, 0.9),
		"IN": p("Asia/Kolkata", 7, 24, 20, 23, 0.9),
		"SG": p("Asia/Singapore", 7, 24, 20, 23, 0.85),
		"CN": p("Asia/Shanghai", 7, 24, 20, 23, 0.85),
		"KR": p("Asia/Seoul", 7, 24, 21, 24, 0.85),
		"JP": p("Asia/Tokyo", 7, 24, 21, 24, 0.85),
		"AU": p("Australia/Sydney", 7, 23, 19, 22, 0.8),
	}
}

// NewTimezoneAdjuster validates the profiles and resolves their time zones.
// A zero WeekendFactor is treated as 1 (no weekend change).
func NewTimezoneAdjuster(profiles map[string]models.ChannelActivityProfile) (*TimezoneAdjuster, error) {
	windows := make(map[string]activityWindow, len(profiles))
	for channel, profile := range profiles {
		loc, err := time.LoadLocation(profile.Timezone)
		if err != nil {
			return nil, fmt.Errorf("channel %s: invalid timezone %q: %w", channel, profile.Timezone, err)
		}
		for name, h := range map[string]float64{
			"active_start": profile.ActiveStart,
			"active_end":   profile.ActiveEnd,
			"peak_start":   profile.PeakStart,
			"peak_end":     profile.PeakEnd,
		} {
			if h < 0 || h > 24 {
				return nil, fmt.Errorf("channel %s: %s must be within [0, 24], got %v", channel, name, h)
			}
		}
		if profile.WeekendFactor < 0 {
			return nil, fmt.Errorf("channel %s: weekend_factor must not be negative", channel)
		}
		if profile.WeekendFactor == 0 {
			profile.WeekendFactor = 1
		}
		windows[strings.ToUpper(channel)] = activityWindow{profile: profile, location: loc}
	}
	return &TimezoneAdjuster{windows: windows}, nil
}

func (a *TimezoneAdjuster) window(channel string) (activityWindow, bool) {
	w, ok := a.windows[strings.ToUpper(channel)]
	return w, ok
}

// Profile returns the activity profile for a channel.
func (a *TimezoneAdjuster) Profile(channel string) (models.ChannelActivityProfile, bool) {
	w, ok := a.window(channel)
	return w.profile, ok
}

// AdjustLag splits rawLag into the wake-up delay of channel b and the
// remaining propagation delay. The wake-up delay is averaged over all 24
// hour offsets from the table midpoint so it does not depend on the hour an
// event happened to occur.
func (a *TimezoneAdjuster) AdjustLag(table *models.TimeSeriesTable, channelA, channelB string, rawLag time.Duration, _ float64) TimezoneLagAdjustment {
	absRaw := rawLag
	if absRaw < 0 {
		absRaw = -absRaw
	}
	adj := TimezoneLagAdjustment{
		AdjustedLagTime: rawLag,
		RawLagTime:      rawLag,
		TruePropagation: absRaw,
	}

	w, ok := a.window(channelB)
	if !ok {
		return adj
	}

	ref := table.Midpoint()
	var total float64
	for offset := 0; offset < 24; offset++ {
		total += w.hoursUntilActive(ref.Add(time.Duration(offset) * time.Hour))
	}
	delay := time.Duration(total / 24 * float64(time.Hour))

	truePropagation := absRaw - delay
	if truePropagation < 0 {
		truePropagation = 0
	}
	adj.WakeupDelay = delay
	adj.TruePropagation = truePropagation
	adj.TimezoneDriven = float64(delay) > 0.5*float64(absRaw)
	if rawLag < 0 {
		adj.AdjustedLagTime = -truePropagation
	} else {
		adj.AdjustedLagTime = truePropagation
	}
	return adj
}

// ActivityLevel estimates how active a channel's audience is at t: 0 outside
// waking hours, 1 when awake, 1.5 at peak, scaled by the weekend factor on
// Saturdays and Sundays. Channels without a profile are always 1.
func (a *TimezoneAdjuster) ActivityLevel(channel string, t time.Time) float64 {
	w, ok := a.window(channel)
	if !ok {
		return 1
	}
	local := t.In(w.location)
	h := localHour(local)
	level := 0.0
	switch {
	case inWindow(h, w.profile.PeakStart, w.profile.PeakEnd) && inWindow(h, w.profile.ActiveStart, w.profile.ActiveEnd):
		level = 1.5
	case inWindow(h, w.profile.ActiveStart, w.profile.ActiveEnd):
		level = 1
	}
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		level *= w.profile.WeekendFactor
	}
	return level
}

func (w activityWindow) hoursUntilActive(t time.Time) float64 {
	h := localHour(t.In(w.location))
	if inWindow(h, w.profile.ActiveStart, w.profile.ActiveEnd) {
		return 0
	}
	return math.Mod(w.profile.ActiveStart-h+24, 24)
}

func localHour(t time.Time) float64 {
	return float64(t.Hour()) + float64(t.Minute())/60
}

// inWindow reports whether hour h lies in [start, end). start > end wraps
// past midnight; start == end covers the whole day.
func inWindow(h, start, end float64) bool {
	start = math.Mod(start, 24)
	end = math.Mod(end, 24)
	switch {
	case start == end:
		return true
	case start < end:
		return h >= start && h < end
	default:
		return h >= start || h < end
	}
}
