package services

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"

	"github.com/irfndi/celebrum-research/internal/models"
)

// Strategy decides entries and voluntary exits for the backtester. window
// always ends at the bar being processed.
type Strategy interface {
	Name() string
	Analyze(window []models.Bar) *models.Signal
	ShouldClose(window []models.Bar, entryPrice float64, side models.Side, currentPnLPct float64) bool
}

// StrategySpec names a built-in strategy and its parameters.
type StrategySpec struct {
	Name   string             `json:"name"`
	Params map[string]float64 `json:"params,omitempty"`
	// Sentiment feeds sentiment_momentum; ignored by price-only strategies.
	Sentiment models.Series `json:"sentiment,omitempty"`
}

// StrategyInfo describes a built-in strategy for discovery endpoints.
type StrategyInfo struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Defaults    map[string]float64 `json:"defaults"`
}

const (
	StrategySMACross          = "sma_cross"
	StrategyRSIReversion      = "rsi_reversion"
	StrategySentimentMomentum = "sentiment_momentum"
)

// AvailableStrategies lists the built-in strategies with their defaults.
func AvailableStrategies() []StrategyInfo {
	return []StrategyInfo{
		{
			Name:        StrategySMACross,
			Description: "Trend following on fast/slow simple moving average crossovers",
			Defaults:    map[string]float64{"fast_period": 10, "slow_period": 30, "allow_short": 0},
		},
		{
			Name:        StrategyRSIReversion,
			Description: "Mean reversion on RSI extremes, exiting when RSI returns to the midline",
			Defaults:    map[string]float64{"period": 14, "oversold": 30, "overbought": 70, "exit_level": 50, "allow_short": 0},
		},
		{
			Name:        StrategySentimentMomentum,
			Description: "Follows sharp moves in a sentiment channel aligned to bar time",
			Defaults:    map[string]float64{"lookback": 24, "entry_z": 1.5, "exit_z": 0, "allow_short": 1},
		},
	}
}

// NewStrategy builds a built-in strategy from its spec. Missing parameters
// take the defaults listed by AvailableStrategies. Errors wrap
// ErrMalformedInput.
func NewStrategy(spec StrategySpec) (Strategy, error) {
	strategy, err := buildStrategy(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedInput, err)
	}
	return strategy, nil
}

func buildStrategy(spec StrategySpec) (Strategy, error) {
	var defaults map[string]float64
	for _, info := range AvailableStrategies() {
		if info.Name == spec.Name {
			defaults = info.Defaults
		}
	}
	if defaults == nil {
		return nil, fmt.Errorf("unknown strategy %q", spec.Name)
	}
	p := func(key string) float64 {
		if v, ok := spec.Params[key]; ok {
			return v
		}
		return defaults[key]
	}

	switch spec.Name {
	case StrategySMACross:
		fast, slow := int(p("fast_period")), int(p("slow_period"))
		if fast < 1 || slow <= fast {
			return nil, fmt.Errorf("sma_cross: need 1 <= fast_period < slow_period, got %d/%d", fast, slow)
		}
		return &SMACrossStrategy{FastPeriod: fast, SlowPeriod: slow, AllowShort: p("allow_short") != 0}, nil
	case StrategyRSIReversion:
		period := int(p("period"))
		if period < 2 {
			return nil, fmt.Errorf("rsi_reversion: period must be >= 2, got %d", period)
		}
		if p("oversold") >= p("overbought") {
			return nil, fmt.Errorf("rsi_reversion: oversold must be below overbought")
		}
		return &RSIReversionStrategy{
			Period:     period,
			Oversold:   p("oversold"),
			Overbought: p("overbought"),
			ExitLevel:  p("exit_level"),
			AllowShort: p("allow_short") != 0,
		}, nil
	default:
		if len(spec.Sentiment) == 0 {
			return nil, fmt.Errorf("sentiment_momentum: sentiment series is required")
		}
		lookback := int(p("lookback"))
		if lookback < 2 {
			return nil, fmt.Errorf("sentiment_momentum: lookback must be >= 2, got %d", lookback)
		}
		return NewSentimentMomentumStrategy(spec.Sentiment, lookback, p("entry_z"), p("exit_z"), p("allow_short") != 0), nil
	}
}

func closes(window []models.Bar) []float64 {
	out := make([]float64, len(window))
	for i, b := range window {
		out[i] = b.Close
	}
	return out
}

// SMACrossStrategy goes long when the fast SMA crosses above the slow SMA and
// short (when allowed) on the opposite cross.
type SMACrossStrategy struct {
	FastPeriod int
	SlowPeriod int
	AllowShort bool
}

// Name implements Strategy.
func (s *SMACrossStrategy) Name() string { return StrategySMACross }

// averages returns the last two fast and slow SMA values.
func (s *SMACrossStrategy) averages(window []models.Bar) (fast, slow [2]float64, ok bool) {
	if len(window) < s.SlowPeriod+1 {
		return fast, slow, false
	}
	prices := closes(window)
	f := helper.ChanToSlice(trend.NewSmaWithPeriod[float64](s.FastPeriod).Compute(helper.SliceToChan(prices)))
	sl := helper.ChanToSlice(trend.NewSmaWithPeriod[float64](s.SlowPeriod).Compute(helper.SliceToChan(prices)))
	if len(f) < 2 || len(sl) < 2 {
		return fast, slow, false
	}
	fast = [2]float64{f[len(f)-2], f[len(f)-1]}
	slow = [2]float64{sl[len(sl)-2], sl[len(sl)-1]}
	return fast, slow, true
}

// Analyze implements Strategy.
func (s *SMACrossStrategy) Analyze(window []models.Bar) *models.Signal {
	fast, slow, ok := s.averages(window)
	if !ok || slow[1] == 0 {
		return nil
	}
	confidence := math.Min(1, math.Abs(fast[1]-slow[1])/slow[1]*100)
	switch {
	case fast[0] <= slow[0] && fast[1] > slow[1]:
		return &models.Signal{Type: models.SignalBuy, Confidence: confidence, Reason: "fast SMA crossed above slow SMA"}
	case s.AllowShort && fast[0] >= slow[0] && fast[1] < slow[1]:
		return &models.Signal{Type: models.SignalSell, Confidence: confidence, Reason: "fast SMA crossed below slow SMA"}
	}
	return nil
}

// ShouldClose implements Strategy.
func (s *SMACrossStrategy) ShouldClose(window []models.Bar, _ float64, side models.Side, _ float64) bool {
	fast, slow, ok := s.averages(window)
	if !ok {
		return false
	}
	if side == models.SideLong {
		return fast[1] < slow[1]
	}
	return fast[1] > slow[1]
}

// RSIReversionStrategy buys oversold and sells overbought conditions.
type RSIReversionStrategy struct {
	Period     int
	Oversold   float64
	Overbought float64
	ExitLevel  float64
	AllowShort bool
}

// Name implements Strategy.
func (s *RSIReversionStrategy) Name() string { return StrategyRSIReversion }

func (s *RSIReversionStrategy) rsi(window []models.Bar) (float64, bool) {
	if len(window) < s.Period+2 {
		return 0, false
	}
	values := helper.ChanToSlice(momentum.NewRsiWithPeriod[float64](s.Period).Compute(helper.SliceToChan(closes(window))))
	if len(values) == 0 {
		return 0, false
	}
	v := values[len(values)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Analyze implements Strategy.
func (s *RSIReversionStrategy) Analyze(window []models.Bar) *models.Signal {
	rsi, ok := s.rsi(window)
	if !ok {
		return nil
	}
	switch {
	case rsi < s.Oversold:
		return &models.Signal{
			Type:       models.SignalBuy,
			Confidence: math.Min(1, (s.Oversold-rsi)/s.Oversold+0.5),
			Reason:     fmt.Sprintf("RSI %.1f below %.0f", rsi, s.Oversold),
		}
	case s.AllowShort && rsi > s.Overbought:
		return &models.Signal{
			Type:       models.SignalSell,
			Confidence: math.Min(1, (rsi-s.Overbought)/(100-s.Overbought)+0.5),
			Reason:     fmt.Sprintf("RSI %.1f above %.0f", rsi, s.Overbought),
		}
	}
	return nil
}

// ShouldClose implements Strategy.
func (s *RSIReversionStrategy) ShouldClose(window []models.Bar, _ float64, side models.Side, _ float64) bool {
	rsi, ok := s.rsi(window)
	if !ok {
		return false
	}
	if side == models.SideLong {
		return rsi >= s.ExitLevel
	}
	return rsi <= s.ExitLevel
}

// SentimentMomentumStrategy trades when the latest sentiment reading known at
// bar time deviates sharply from its trailing distribution.
type SentimentMomentumStrategy struct {
	sentiment  models.Series
	lookback   int
	entryZ     float64
	exitZ      float64
	allowShort bool
}

// NewSentimentMomentumStrategy creates the strategy over a time-ordered
// sentiment series.
func NewSentimentMomentumStrategy(sentiment models.Series, lookback int, entryZ, exitZ float64, allowShort bool) *SentimentMomentumStrategy {
	s := make(models.Series, len(sentiment))
	copy(s, sentiment)
	sort.SliceStable(s, func(i, j int) bool { return s[i].Time.Before(s[j].Time) })
	return &SentimentMomentumStrategy{
		sentiment:  s,
		lookback:   lookback,
		entryZ:     entryZ,
		exitZ:      exitZ,
		allowShort: allowShort,
	}
}

// Name implements Strategy.
func (s *SentimentMomentumStrategy) Name() string { return StrategySentimentMomentum }

// zScore scores the latest reading at or before t against the preceding
// lookback readings.
func (s *SentimentMomentumStrategy) zScore(t time.Time) (float64, bool) {
	idx := sort.Search(len(s.sentiment), func(i int) bool { return s.sentiment[i].Time.After(t) }) - 1
	if idx < s.lookback {
		return 0, false
	}
	history := s.sentiment[idx-s.lookback : idx].Values()
	std := calculateStdDev(history)
	if std < epsilon {
		return 0, false
	}
	return (s.sentiment[idx].Value - calculateMeanFloat64(history)) / std, true
}

// Analyze implements Strategy.
func (s *SentimentMomentumStrategy) Analyze(window []models.Bar) *models.Signal {
	if len(window) == 0 {
		return nil
	}
	z, ok := s.zScore(window[len(window)-1].Time)
	if !ok {
		return nil
	}
	confidence := math.Min(1, math.Abs(z)/(2*s.entryZ+epsilon))
	switch {
	case z >= s.entryZ:
		return &models.Signal{Type: models.SignalBuy, Confidence: confidence, Reason: fmt.Sprintf("sentiment z-score %.2f", z)}
	case s.allowShort && z <= -s.entryZ:
		return &models.Signal{Type: models.SignalSell, Confidence: confidence, Reason: fmt.Sprintf("sentiment z-score %.2f", z)}
	}
	return nil
}

// ShouldClose implements Strategy.
func (s *SentimentMomentumStrategy) ShouldClose(window []models.Bar, _ float64, side models.Side, _ float64) bool {
	if len(window) == 0 {
		return false
	}
	z, ok := s.zScore(window[len(window)-1].Time)
	if !ok {
		return false
	}
	if side == models.SideLong {
		return z < s.exitZ
	}
	return z > -s.exitZ
}
