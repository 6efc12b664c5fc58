package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/celebrum-research/internal/models"
)

func TestNewStrategy(t *testing.T) {
	sentiment := models.Series{{Time: barStart, Value: 1}}

	tests := []struct {
		name    string
		spec    StrategySpec
		want    Strategy
		wantErr string
	}{
		{
			name: "sma defaults",
			spec: StrategySpec{Name: StrategySMACross},
			want: &SMACrossStrategy{FastPeriod: 10, SlowPeriod: 30},
		},
		{
			name: "sma overrides",
			spec: StrategySpec{Name: StrategySMACross, Params: map[string]float64{"fast_period": 5, "slow_period": 20, "allow_short": 1}},
			want: &SMACrossStrategy{FastPeriod: 5, SlowPeriod: 20, AllowShort: true},
		},
		{
			name: "rsi defaults",
			spec: StrategySpec{Name: StrategyRSIReversion},
			want: &RSIReversionStrategy{Period: 14, Oversold: 30, Overbought: 70, ExitLevel: 50},
		},
		{
			name:    "unknown strategy",
			spec:    StrategySpec{Name: "grid"},
			wantErr: `unknown strategy "grid"`,
		},
		{
			name:    "sma fast not below slow",
			spec:    StrategySpec{Name: StrategySMACross, Params: map[string]float64{"fast_period": 30, "slow_period": 30}},
			wantErr: "fast_period < slow_period",
		},
		{
			name:    "rsi period too short",
			spec:    StrategySpec{Name: StrategyRSIReversion, Params: map[string]float64{"period": 1}},
			wantErr: "period must be >= 2",
		},
		{
			name:    "rsi inverted bands",
			spec:    StrategySpec{Name: StrategyRSIReversion, Params: map[string]float64{"oversold": 80}},
			wantErr: "oversold must be below overbought",
		},
		{
			name:    "sentiment without series",
			spec:    StrategySpec{Name: StrategySentimentMomentum},
			wantErr: "sentiment series is required",
		},
		{
			name:    "sentiment lookback too short",
			spec:    StrategySpec{Name: StrategySentimentMomentum, Sentiment: sentiment, Params: map[string]float64{"lookback": 1}},
			wantErr: "lookback must be >= 2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			strategy, err := NewStrategy(tt.spec)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrMalformedInput)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, strategy)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, strategy)
			assert.Equal(t, tt.spec.Name, strategy.Name())
		})
	}
}

func TestAvailableStrategies(t *testing.T) {
	infos := AvailableStrategies()
	require.Len(t, infos, 3)
	for _, info := range infos {
		assert.NotEmpty(t, info.Description)
		assert.NotEmpty(t, info.Defaults)
	}
}

func TestSMACrossStrategy(t *testing.T) {
	s := &SMACrossStrategy{FastPeriod: 3, SlowPeriod: 6, AllowShort: true}

	t.Run("not enough bars", func(t *testing.T) {
		assert.Nil(t, s.Analyze(flatBars(5, 100)))
		assert.False(t, s.ShouldClose(flatBars(5, 100), 100, models.SideLong, 0))
	})

	t.Run("golden cross", func(t *testing.T) {
		bars := barsFromCloses([]float64{100, 100, 100, 100, 100, 100, 100, 110})
		sig := s.Analyze(bars)
		require.NotNil(t, sig)
		assert.Equal(t, models.SignalBuy, sig.Type)
		assert.Greater(t, sig.Confidence, 0.0)
		assert.LessOrEqual(t, sig.Confidence, 1.0)
		assert.False(t, s.ShouldClose(bars, 100, models.SideLong, 0))
		assert.True(t, s.ShouldClose(bars, 100, models.SideShort, 0))
	})

	t.Run("death cross", func(t *testing.T) {
		bars := barsFromCloses([]float64{100, 100, 100, 100, 100, 100, 100, 90})
		sig := s.Analyze(bars)
		require.NotNil(t, sig)
		assert.Equal(t, models.SignalSell, sig.Type)
		assert.True(t, s.ShouldClose(bars, 100, models.SideLong, 0))

		longOnly := &SMACrossStrategy{FastPeriod: 3, SlowPeriod: 6}
		assert.Nil(t, longOnly.Analyze(bars))
	})

	t.Run("no cross on a trend", func(t *testing.T) {
		bars := barsFromCloses([]float64{100, 101, 102, 103, 104, 105, 106, 107, 108})
		assert.Nil(t, s.Analyze(bars))
	})
}

func TestRSIReversionStrategy(t *testing.T) {
	s := &RSIReversionStrategy{Period: 5, Oversold: 30, Overbought: 70, ExitLevel: 50, AllowShort: true}

	falling := make([]float64, 30)
	rising := make([]float64, 30)
	for i := range falling {
		falling[i] = 200 - float64(i)*2 + 3*float64(i%2)
		rising[i] = 100 + float64(i)*2 - 3*float64(i%2)
	}

	sig := s.Analyze(barsFromCloses(falling))
	require.NotNil(t, sig)
	assert.Equal(t, models.SignalBuy, sig.Type)
	assert.Contains(t, sig.Reason, "below 30")
	assert.False(t, s.ShouldClose(barsFromCloses(falling), 150, models.SideLong, -5))

	sig = s.Analyze(barsFromCloses(rising))
	require.NotNil(t, sig)
	assert.Equal(t, models.SignalSell, sig.Type)
	assert.True(t, s.ShouldClose(barsFromCloses(rising), 100, models.SideLong, 10))

	assert.Nil(t, s.Analyze(flatBars(4, 100)))
}

func TestSentimentMomentumStrategy(t *testing.T) {
	// Readings alternate around zero, then jump far above the trailing range.
	var series models.Series
	for i := 0; i < 30; i++ {
		v := 0.1
		if i%2 == 0 {
			v = -0.1
		}
		if i == 25 {
			v = 3
		}
		if i == 28 {
			v = -3
		}
		series = append(series, models.Point{Time: barStart.Add(time.Duration(i) * time.Hour), Value: v})
	}
	// Out-of-order input is sorted by time.
	series[3], series[4] = series[4], series[3]

	s := NewSentimentMomentumStrategy(series, 10, 1.5, 0, true)
	window := func(i int) []models.Bar {
		return flatBars(i+1, 100)
	}

	assert.Nil(t, s.Analyze(window(5)), "not enough history")
	assert.Nil(t, s.Analyze(window(20)), "quiet readings")

	sig := s.Analyze(window(25))
	require.NotNil(t, sig)
	assert.Equal(t, models.SignalBuy, sig.Type)
	assert.False(t, s.ShouldClose(window(25), 100, models.SideLong, 0))

	// Bars between readings use the latest reading at or before bar time.
	bars := window(25)
	bars[len(bars)-1].Time = bars[len(bars)-1].Time.Add(30 * time.Minute)
	assert.NotNil(t, s.Analyze(bars))

	sig = s.Analyze(window(28))
	require.NotNil(t, sig)
	assert.Equal(t, models.SignalSell, sig.Type)
	assert.True(t, s.ShouldClose(window(28), 100, models.SideLong, 0))

	assert.Nil(t, s.Analyze(nil))
}
