package models

import (
	"math"
	"sort"
	"time"
)

// Point is a single timestamped observation of a channel.
type Point struct {
	Time  time.Time `json:"time" db:"ts"`
	Value float64   `json:"value" db:"score"`
}

// Series is an ordered list of points for one channel.
type Series []Point

// Values returns the raw values of the series in time order.
func (s Series) Values() []float64 {
	out := make([]float64, len(s))
	for i, p := range s {
		out[i] = p.Value
	}
	return out
}

// Index returns the position of t in the series, or -1.
func (s Series) Index(t time.Time) int {
	i := sort.Search(len(s), func(i int) bool { return !s[i].Time.Before(t) })
	if i < len(s) && s[i].Time.Equal(t) {
		return i
	}
	return -1
}

// TimeSeriesTable holds named channels (regions, countries or OHLCV fields)
// sampled at a nominal shared interval. Channels do not need to share exact
// timestamps.
type TimeSeriesTable struct {
	order  []string
	series map[string]Series
}

// NewTimeSeriesTable creates an empty table.
func NewTimeSeriesTable() *TimeSeriesTable {
	return &TimeSeriesTable{series: make(map[string]Series)}
}

// AddPoint appends an observation to channel. NaN and infinite values are
// treated as missing and dropped. Call Normalize after out-of-order loads.
func (t *TimeSeriesTable) AddPoint(channel string, ts time.Time, value float64) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		if _, ok := t.series[channel]; !ok {
			t.order = append(t.order, channel)
			t.series[channel] = Series{}
		}
		return
	}
	s, ok := t.series[channel]
	if !ok {
		t.order = append(t.order, channel)
	}
	t.series[channel] = append(s, Point{Time: ts, Value: value})
}

// AddSeries adds a whole channel, replacing any existing data for it.
func (t *TimeSeriesTable) AddSeries(channel string, points Series) {
	if _, ok := t.series[channel]; !ok {
		t.order = append(t.order, channel)
	}
	t.series[channel] = Series{}
	for _, p := range points {
		t.AddPoint(channel, p.Time, p.Value)
	}
	t.normalizeChannel(channel)
}

// Normalize sorts every channel by time and collapses duplicate timestamps,
// keeping the last value seen for a timestamp.
func (t *TimeSeriesTable) Normalize() {
	for _, ch := range t.order {
		t.normalizeChannel(ch)
	}
}

func (t *TimeSeriesTable) normalizeChannel(channel string) {
	s := t.series[channel]
	sort.SliceStable(s, func(i, j int) bool { return s[i].Time.Before(s[j].Time) })
	out := s[:0]
	for _, p := range s {
		if n := len(out); n > 0 && out[n-1].Time.Equal(p.Time) {
			out[n-1] = p
			continue
		}
		out = append(out, p)
	}
	t.series[channel] = out
}

// Channels returns channel names in insertion order.
func (t *TimeSeriesTable) Channels() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Has reports whether the channel exists in the table.
func (t *TimeSeriesTable) Has(channel string) bool {
	_, ok := t.series[channel]
	return ok
}

// Series returns the points of a channel.
func (t *TimeSeriesTable) Series(channel string) (Series, bool) {
	s, ok := t.series[channel]
	return s, ok
}

// Len returns the number of points in a channel.
func (t *TimeSeriesTable) Len(channel string) int {
	return len(t.series[channel])
}

// Align intersects the timestamps of two channels and returns the matching
// values in time order.
func (t *TimeSeriesTable) Align(a, b string) (times []time.Time, va, vb []float64) {
	sa, sb := t.series[a], t.series[b]
	i, j := 0, 0
	for i < len(sa) && j < len(sb) {
		switch {
		case sa[i].Time.Before(sb[j].Time):
			i++
		case sb[j].Time.Before(sa[i].Time):
			j++
		default:
			times = append(times, sa[i].Time)
			va = append(va, sa[i].Value)
			vb = append(vb, sb[j].Value)
			i++
			j++
		}
	}
	return times, va, vb
}

// TimeRange returns the earliest and latest timestamps across all channels.
func (t *TimeSeriesTable) TimeRange() (start, end time.Time, ok bool) {
	for _, s := range t.series {
		if len(s) == 0 {
			continue
		}
		if !ok || s[0].Time.Before(start) {
			start = s[0].Time
		}
		if !ok || s[len(s)-1].Time.After(end) {
			end = s[len(s)-1].Time
		}
		ok = true
	}
	return start, end, ok
}

// Midpoint returns the temporal midpoint of the table.
func (t *TimeSeriesTable) Midpoint() time.Time {
	start, end, ok := t.TimeRange()
	if !ok {
		return time.Time{}
	}
	return start.Add(end.Sub(start) / 2)
}
