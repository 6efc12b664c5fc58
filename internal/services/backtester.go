package services

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/irfndi/celebrum-research/internal/models"
	"github.com/irfndi/celebrum-research/internal/telemetry"
	"github.com/irfndi/celebrum-research/internal/utils"
)

// BacktestParams configures a backtest run. Percentages are expressed as
// numbers: 0.1 means 0.1%.
type BacktestParams struct {
	InitialBalance  float64 `json:"initial_balance" mapstructure:"initial_balance"`
	PositionSizePct float64 `json:"position_size_pct" mapstructure:"position_size_pct"` // of available balance
	MaxPositions    int     `json:"max_positions" mapstructure:"max_positions"`
	FeeRatePct      float64 `json:"fee_rate_pct" mapstructure:"fee_rate_pct"` // per leg
	SlippagePct     float64 `json:"slippage_pct" mapstructure:"slippage_pct"`
	Leverage        float64 `json:"leverage" mapstructure:"leverage"`
	WarmupBars      int     `json:"warmup_bars" mapstructure:"warmup_bars"`
	LookbackBars    int     `json:"lookback_bars" mapstructure:"lookback_bars"`
	MaxEquityPoints int     `json:"max_equity_points" mapstructure:"max_equity_points"`
	StopLossPct     float64 `json:"stop_loss_pct" mapstructure:"stop_loss_pct"`     // 0 disables
	TakeProfitPct   float64 `json:"take_profit_pct" mapstructure:"take_profit_pct"` // 0 disables
	MinConfidence   float64 `json:"min_confidence" mapstructure:"min_confidence"`
}

// DefaultBacktestParams returns a sensible default configuration.
func DefaultBacktestParams() BacktestParams {
	return BacktestParams{
		InitialBalance:  10000,
		PositionSizePct: 10,
		MaxPositions:    1,
		FeeRatePct:      0.1,
		SlippagePct:     0.05,
		Leverage:        1,
		WarmupBars:      50,
		LookbackBars:    100,
		MaxEquityPoints: 1000,
	}
}

// executionParams holds BacktestParams with every percentage converted to a
// fraction.
type executionParams struct {
	initialBalance  float64
	positionSize    float64
	maxPositions    int
	feeRate         float64
	slippage        float64
	leverage        float64
	warmup          int
	lookback        int
	maxEquityPoints int
	stopLoss        float64
	takeProfit      float64
	minConfidence   float64
}

func (p BacktestParams) validate() error {
	switch {
	case math.IsNaN(p.InitialBalance) || p.InitialBalance <= 0:
		return utils.NewFieldError("initial_balance", "must be positive")
	case p.PositionSizePct <= 0 || p.PositionSizePct > 100:
		return utils.NewFieldError("position_size_pct", "must be within (0, 100], got %v", p.PositionSizePct)
	case p.MaxPositions < 0:
		return utils.NewFieldError("max_positions", "must not be negative")
	case p.FeeRatePct < 0 || p.FeeRatePct >= 100:
		return utils.NewFieldError("fee_rate_pct", "must be within [0, 100), got %v", p.FeeRatePct)
	case p.SlippagePct < 0 || p.SlippagePct >= 100:
		return utils.NewFieldError("slippage_pct", "must be within [0, 100), got %v", p.SlippagePct)
	case p.Leverage < 0 || (p.Leverage > 0 && p.Leverage < 1):
		return utils.NewFieldError("leverage", "must be at least 1, got %v", p.Leverage)
	case p.WarmupBars < 0:
		return utils.NewFieldError("warmup_bars", "must not be negative")
	case p.LookbackBars < 0:
		return utils.NewFieldError("lookback_bars", "must not be negative")
	case p.MaxEquityPoints < 0:
		return utils.NewFieldError("max_equity_points", "must not be negative")
	case p.StopLossPct < 0 || p.StopLossPct >= 100:
		return utils.NewFieldError("stop_loss_pct", "must be within [0, 100), got %v", p.StopLossPct)
	case p.TakeProfitPct < 0:
		return utils.NewFieldError("take_profit_pct", "must not be negative")
	case p.MinConfidence < 0 || p.MinConfidence > 1:
		return utils.NewFieldError("min_confidence", "must be within [0, 1], got %v", p.MinConfidence)
	}
	return nil
}

// normalize converts percentages to fractions. Zero structural fields take
// their defaults.
func (p BacktestParams) normalize() executionParams {
	def := DefaultBacktestParams()
	if p.MaxPositions == 0 {
		p.MaxPositions = def.MaxPositions
	}
	if p.Leverage == 0 {
		p.Leverage = def.Leverage
	}
	if p.LookbackBars == 0 {
		p.LookbackBars = def.LookbackBars
	}
	if p.MaxEquityPoints == 0 {
		p.MaxEquityPoints = def.MaxEquityPoints
	}
	return executionParams{
		initialBalance:  p.InitialBalance,
		positionSize:    p.PositionSizePct / 100,
		maxPositions:    p.MaxPositions,
		feeRate:         p.FeeRatePct / 100,
		slippage:        p.SlippagePct / 100,
		leverage:        p.Leverage,
		warmup:          p.WarmupBars,
		lookback:        p.LookbackBars,
		maxEquityPoints: p.MaxEquityPoints,
		stopLoss:        p.StopLossPct / 100,
		takeProfit:      p.TakeProfitPct / 100,
		minConfidence:   p.MinConfidence,
	}
}

// validateBars rejects series that must never be simulated.
func validateBars(bars []models.Bar) error {
	if len(bars) == 0 {
		return utils.NewFieldError("bars", "must not be empty")
	}
	for i, b := range bars {
		for name, v := range map[string]float64{"open": b.Open, "high": b.High, "low": b.Low, "close": b.Close} {
			if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
				return utils.NewFieldError(fmt.Sprintf("bars[%d].%s", i, name), "must be a positive finite price, got %v", v)
			}
		}
		if b.High < b.Low {
			return utils.NewFieldError(fmt.Sprintf("bars[%d]", i), "high %v is below low %v", b.High, b.Low)
		}
		if math.IsNaN(b.Volume) || b.Volume < 0 {
			return utils.NewFieldError(fmt.Sprintf("bars[%d].volume", i), "must not be negative")
		}
		if i > 0 && !b.Time.After(bars[i-1].Time) {
			return utils.NewFieldError(fmt.Sprintf("bars[%d].time", i), "timestamps must be strictly increasing")
		}
	}
	return nil
}

// Backtester simulates a strategy bar by bar over historical OHLCV data.
type Backtester struct {
	logger  *logrus.Logger
	workers int
}

// NewBacktester creates a new backtester instance.
func NewBacktester(logger *logrus.Logger) *Backtester {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Backtester{logger: logger, workers: runtime.NumCPU()}
}

// WithWorkers caps the symbols RunBatch simulates concurrently. Values below
// one keep the default of one worker per CPU.
func (b *Backtester) WithWorkers(n int) *Backtester {
	if n > 0 {
		b.workers = n
	}
	return b
}

// runState is the mutable account of a single run.
type runState struct {
	params     executionParams
	symbol     string
	strategy   string
	balance    float64
	usedMargin float64
	positions  []*models.Position
	trades     []models.Trade
	curve      []models.EquityPoint
	nextID     int

	peak          float64
	maxDrawdown   float64
	maxDrawdownAt time.Time
}

// Run simulates strategy over bars. Invalid input fails with
// ErrMalformedInput before any bar is processed; fewer than WarmupBars+1 bars
// fail with ErrInsufficientData.
func (b *Backtester) Run(ctx context.Context, strategy Strategy, symbol string, bars []models.Bar, params BacktestParams) (*models.BacktestResult, error) {
	_, span := telemetry.Tracer().Start(ctx, "Backtester.Run")
	defer span.End()

	fail := func(err error) (*models.BacktestResult, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if strategy == nil {
		return fail(fmt.Errorf("%w: %w", ErrMalformedInput, utils.NewFieldError("strategy", "is required")))
	}
	if err := params.validate(); err != nil {
		return fail(fmt.Errorf("%w: %w", ErrMalformedInput, err))
	}
	if err := validateBars(bars); err != nil {
		return fail(fmt.Errorf("%w: %w", ErrMalformedInput, err))
	}
	p := params.normalize()
	if len(bars) < p.warmup+1 {
		return fail(fmt.Errorf("%w: need at least %d bars, got %d", ErrInsufficientData, p.warmup+1, len(bars)))
	}

	startedAt := time.Now().UTC()
	runID := uuid.New().String()
	span.SetAttributes(
		attribute.String("run_id", runID),
		attribute.String("symbol", symbol),
		attribute.String("strategy", strategy.Name()),
		attribute.Int("bars", len(bars)),
	)
	b.logger.WithFields(logrus.Fields{
		"run_id":   runID,
		"symbol":   symbol,
		"strategy": strategy.Name(),
		"bars":     len(bars),
	}).Info("Starting backtest")

	state := &runState{
		params:   p,
		symbol:   symbol,
		strategy: strategy.Name(),
		balance:  p.initialBalance,
		peak:     p.initialBalance,
	}
	n := len(bars)
	sampleEvery := (n + p.maxEquityPoints - 1) / p.maxEquityPoints
	state.curve = append(state.curve, models.EquityPoint{Time: bars[max(p.warmup-1, 0)].Time, Equity: p.initialBalance})

	for i := p.warmup; i < n; i++ {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return fail(err)
			}
		}
		bar := bars[i]
		window := bars[max(0, i-p.lookback+1) : i+1]

		b.processExits(state, strategy, window, bar)
		if len(state.positions) < p.maxPositions {
			if sig := strategy.Analyze(window); sig != nil {
				b.processEntry(state, sig, bar)
			}
		}

		equity := state.equity(bar.Close)
		state.trackDrawdown(equity, bar.Time)
		if (i-p.warmup)%sampleEvery == 0 {
			state.curve = append(state.curve, models.EquityPoint{Time: bar.Time, Equity: equity})
		}
	}

	last := bars[n-1]
	for len(state.positions) > 0 {
		state.closePosition(0, last, models.ExitEndOfData)
	}
	state.curve = append(state.curve, models.EquityPoint{Time: last.Time, Equity: state.balance})
	state.trackDrawdown(state.balance, last.Time)

	result := Summarize(state.trades, state.curve, p.initialBalance)
	if state.maxDrawdown > result.MaxDrawdownPct {
		result.MaxDrawdownPct = state.maxDrawdown
		result.MaxDrawdownTime = state.maxDrawdownAt
	}
	result.RunID = runID
	result.Symbol = symbol
	result.Strategy = strategy.Name()
	result.BarsProcessed = n - p.warmup
	result.StartedAt = startedAt
	result.CompletedAt = time.Now().UTC()

	span.SetAttributes(
		attribute.Int("trades", result.TotalTrades),
		attribute.Float64("total_return_pct", result.TotalReturnPct),
	)
	b.logger.WithFields(logrus.Fields{
		"run_id":           runID,
		"symbol":           symbol,
		"trades":           result.TotalTrades,
		"total_return_pct": result.TotalReturnPct,
		"max_drawdown_pct": result.MaxDrawdownPct,
		"duration_ms":      result.CompletedAt.Sub(startedAt).Milliseconds(),
	}).Info("Backtest completed")

	return &result, nil
}

// processExits closes every position whose stop, target or strategy exit
// triggers on this bar. Stops are checked before targets.
func (b *Backtester) processExits(state *runState, strategy Strategy, window []models.Bar, bar models.Bar) {
	for i := 0; i < len(state.positions); {
		pos := state.positions[i]
		reason := exitReason(pos, bar.Close)
		if reason == "" && strategy.ShouldClose(window, pos.EntryPrice, pos.Side, pos.PnLPct(bar.Close)) {
			reason = models.ExitStrategySignal
		}
		if reason == "" {
			i++
			continue
		}
		state.closePosition(i, bar, reason)
	}
}

func exitReason(pos *models.Position, price float64) models.ExitReason {
	if pos.Side == models.SideLong {
		if pos.StopLoss != nil && price <= *pos.StopLoss {
			return models.ExitStopLoss
		}
		if pos.TakeProfit != nil && price >= *pos.TakeProfit {
			return models.ExitTakeProfit
		}
		return ""
	}
	if pos.StopLoss != nil && price >= *pos.StopLoss {
		return models.ExitStopLoss
	}
	if pos.TakeProfit != nil && price <= *pos.TakeProfit {
		return models.ExitTakeProfit
	}
	return ""
}

// processEntry opens a position for an actionable signal when margin allows.
func (b *Backtester) processEntry(state *runState, sig *models.Signal, bar models.Bar) {
	var side models.Side
	switch sig.Type {
	case models.SignalBuy:
		side = models.SideLong
	case models.SignalSell:
		side = models.SideShort
	default:
		return
	}
	p := state.params
	if sig.Confidence < p.minConfidence {
		return
	}

	available := state.balance - state.usedMargin
	notional := available * p.positionSize
	if notional <= 0 {
		return
	}
	entryPrice := bar.Close * (1 + p.slippage)
	if side == models.SideShort {
		entryPrice = bar.Close * (1 - p.slippage)
	}
	fee := notional * p.feeRate
	margin := notional / p.leverage
	if margin+fee > available {
		b.logger.WithFields(logrus.Fields{
			"symbol":    state.symbol,
			"time":      bar.Time,
			"margin":    margin,
			"fee":       fee,
			"available": available,
		}).Debug("Skipping entry: insufficient margin")
		return
	}

	state.nextID++
	pos := &models.Position{
		ID:           state.nextID,
		Symbol:       state.symbol,
		Side:         side,
		EntryTime:    bar.Time,
		EntryPrice:   entryPrice,
		Size:         notional / entryPrice,
		Margin:       margin,
		EntryFee:     fee,
		StopLoss:     sig.StopLoss,
		TakeProfit:   sig.TakeProfit,
		StrategyName: state.strategy,
		Confidence:   sig.Confidence,
	}
	if pos.StopLoss == nil && p.stopLoss > 0 {
		sl := entryPrice * (1 - p.stopLoss)
		if side == models.SideShort {
			sl = entryPrice * (1 + p.stopLoss)
		}
		pos.StopLoss = &sl
	}
	if pos.TakeProfit == nil && p.takeProfit > 0 {
		tp := entryPrice * (1 + p.takeProfit)
		if side == models.SideShort {
			tp = entryPrice * (1 - p.takeProfit)
		}
		pos.TakeProfit = &tp
	}

	state.balance -= fee
	state.usedMargin += margin
	state.positions = append(state.positions, pos)
}

// closePosition settles the i-th open position at the bar close.
func (s *runState) closePosition(i int, bar models.Bar, reason models.ExitReason) {
	pos := s.positions[i]
	exitPrice := bar.Close * (1 - s.params.slippage)
	if pos.Side == models.SideShort {
		exitPrice = bar.Close * (1 + s.params.slippage)
	}
	gross := pos.UnrealizedPnL(exitPrice)
	exitFee := pos.Size * exitPrice * s.params.feeRate
	net := gross - pos.EntryFee - exitFee

	s.balance += gross - exitFee
	s.usedMargin -= pos.Margin
	if len(s.positions) == 1 {
		s.usedMargin = 0
	}

	pnlPct := 0.0
	if pos.Margin > 0 {
		pnlPct = net / pos.Margin * 100
	}
	s.trades = append(s.trades, models.Trade{
		ID:           pos.ID,
		Symbol:       pos.Symbol,
		Side:         pos.Side,
		EntryTime:    pos.EntryTime,
		ExitTime:     bar.Time,
		EntryPrice:   pos.EntryPrice,
		ExitPrice:    exitPrice,
		Size:         pos.Size,
		GrossPnL:     gross,
		PnL:          net,
		PnLPct:       pnlPct,
		Fees:         pos.EntryFee + exitFee,
		ExitReason:   reason,
		Duration:     bar.Time.Sub(pos.EntryTime),
		StrategyName: pos.StrategyName,
		Confidence:   pos.Confidence,
	})
	s.positions = append(s.positions[:i], s.positions[i+1:]...)
}

func (s *runState) equity(price float64) float64 {
	equity := s.balance
	for _, pos := range s.positions {
		equity += pos.UnrealizedPnL(price)
	}
	return equity
}

func (s *runState) trackDrawdown(equity float64, at time.Time) {
	if equity > s.peak {
		s.peak = equity
		return
	}
	if s.peak <= 0 {
		return
	}
	dd := clamp((s.peak-equity)/s.peak*100, 0, 100)
	if dd > s.maxDrawdown {
		s.maxDrawdown = dd
		s.maxDrawdownAt = at
	}
}

// StrategyFactory builds a fresh strategy for each run of a batch.
type StrategyFactory func(symbol string) (Strategy, error)

// BatchResult is the outcome of one symbol in a batch run.
type BatchResult struct {
	Symbol string                 `json:"symbol"`
	Result *models.BacktestResult `json:"result,omitempty"`
	Err    error                  `json:"-"`
}

// RunBatch backtests every symbol independently and in parallel. Per-symbol
// failures are reported in the results; only context cancellation fails the
// whole batch. Results are ordered by symbol.
func (b *Backtester) RunBatch(ctx context.Context, factory StrategyFactory, bars map[string][]models.Bar, params BacktestParams) ([]BatchResult, error) {
	symbols := make([]string, 0, len(bars))
	for symbol := range bars {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	results := make([]BatchResult, len(symbols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for i, symbol := range symbols {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i].Symbol = symbol
			strategy, err := factory(symbol)
			if err != nil {
				results[i].Err = err
				return nil
			}
			results[i].Result, results[i].Err = b.Run(gctx, strategy, symbol, bars[symbol], params)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	// A run cancelled mid-way only records the error on its own symbol.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
