package models

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// Bar is one OHLCV candle.
type Bar struct {
	Time   time.Time `json:"time" db:"ts"`
	Open   float64   `json:"open" db:"open"`
	High   float64   `json:"high" db:"high"`
	Low    float64   `json:"low" db:"low"`
	Close  float64   `json:"close" db:"close"`
	Volume float64   `json:"volume" db:"volume"`
}

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// SignalType is what a strategy wants to do on a bar.
type SignalType string

const (
	SignalBuy  SignalType = "buy"
	SignalSell SignalType = "sell"
	SignalHold SignalType = "hold"
)

// ExitReason records why a position was closed.
type ExitReason string

const (
	ExitStopLoss       ExitReason = "stop_loss"
	ExitTakeProfit     ExitReason = "take_profit"
	ExitStrategySignal ExitReason = "strategy_signal"
	ExitEndOfData      ExitReason = "end_of_data"
)

// Signal is returned by a strategy's analyze step. StopLoss and TakeProfit are
// absolute prices.
type Signal struct {
	Type       SignalType `json:"type"`
	StopLoss   *float64   `json:"stop_loss,omitempty"`
	TakeProfit *float64   `json:"take_profit,omitempty"`
	Confidence float64    `json:"confidence"`
	Reason     string     `json:"reason,omitempty"`
}

// Position is an open position inside a backtest.
type Position struct {
	ID           int       `json:"id"`
	Symbol       string    `json:"symbol"`
	Side         Side      `json:"side"`
	EntryTime    time.Time `json:"entry_time"`
	EntryPrice   float64   `json:"entry_price"`
	Size         float64   `json:"size"`   // asset quantity
	Margin       float64   `json:"margin"` // notional / leverage
	EntryFee     float64   `json:"entry_fee"`
	StopLoss     *float64  `json:"stop_loss,omitempty"`
	TakeProfit   *float64  `json:"take_profit,omitempty"`
	StrategyName string    `json:"strategy_name"`
	Confidence   float64   `json:"confidence"`
}

// UnrealizedPnL returns the mark-to-market PnL at price, before exit costs.
func (p *Position) UnrealizedPnL(price float64) float64 {
	if p.Side == SideShort {
		return (p.EntryPrice - price) * p.Size
	}
	return (price - p.EntryPrice) * p.Size
}

// PnLPct returns the price move in percent, signed in the trader's favour.
func (p *Position) PnLPct(price float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	move := (price - p.EntryPrice) / p.EntryPrice * 100
	if p.Side == SideShort {
		return -move
	}
	return move
}

// Trade is an immutable record of a closed position.
type Trade struct {
	ID           int           `json:"id" db:"trade_index"`
	Symbol       string        `json:"symbol" db:"symbol"`
	Side         Side          `json:"side" db:"side"`
	EntryTime    time.Time     `json:"entry_time" db:"entry_time"`
	ExitTime     time.Time     `json:"exit_time" db:"exit_time"`
	EntryPrice   float64       `json:"entry_price" db:"entry_price"`
	ExitPrice    float64       `json:"exit_price" db:"exit_price"`
	Size         float64       `json:"size" db:"size"`
	GrossPnL     float64       `json:"gross_pnl" db:"gross_pnl"`
	PnL          float64       `json:"pnl" db:"pnl"`         // after fees and slippage
	PnLPct       float64       `json:"pnl_pct" db:"pnl_pct"` // net PnL relative to margin
	Fees         float64       `json:"fees" db:"fees"`
	ExitReason   ExitReason    `json:"exit_reason" db:"exit_reason"`
	Duration     time.Duration `json:"duration" db:"duration"`
	StrategyName string        `json:"strategy_name" db:"strategy_name"`
	Confidence   float64       `json:"confidence" db:"confidence"`
}

// EquityPoint is account equity at a point in time.
type EquityPoint struct {
	Time   time.Time `json:"time"`
	Equity float64   `json:"equity"`
}

// Ratio is a float64 that may legitimately be +Inf (profit factor with no
// losing trades). It encodes infinities as the JSON string "inf".
type Ratio float64

// MarshalJSON implements json.Marshaler.
func (r Ratio) MarshalJSON() ([]byte, error) {
	f := float64(r)
	switch {
	case math.IsInf(f, 1):
		return []byte(`"inf"`), nil
	case math.IsInf(f, -1):
		return []byte(`"-inf"`), nil
	case math.IsNaN(f):
		return []byte(`null`), nil
	}
	return []byte(strconv.FormatFloat(f, 'g', -1, 64)), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Ratio) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"inf"`:
		*r = Ratio(math.Inf(1))
		return nil
	case `"-inf"`:
		*r = Ratio(math.Inf(-1))
		return nil
	case `null`:
		*r = 0
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*r = Ratio(f)
	return nil
}

// BacktestResult is the aggregate outcome of a backtest run.
type BacktestResult struct {
	RunID          string        `json:"run_id"`
	Symbol         string        `json:"symbol"`
	Strategy       string        `json:"strategy"`
	InitialBalance float64       `json:"initial_balance"`
	FinalBalance   float64       `json:"final_balance"`
	TotalPnL       float64       `json:"total_pnl"`
	TotalReturnPct float64       `json:"total_return_pct"`
	Trades         []Trade       `json:"trades"`
	EquityCurve    []EquityPoint `json:"equity_curve"`

	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	GrossProfit   float64 `json:"gross_profit"`
	GrossLoss     float64 `json:"gross_loss"`
	ProfitFactor  Ratio   `json:"profit_factor"`
	AvgWin        float64 `json:"avg_win"`
	AvgLoss       float64 `json:"avg_loss"`
	LargestWin    float64 `json:"largest_win"`
	LargestLoss   float64 `json:"largest_loss"`
	Expectancy    float64 `json:"expectancy"`

	AvgHoldingTime  time.Duration `json:"avg_holding_time"`
	MaxDrawdownPct  float64       `json:"max_drawdown_pct"`
	MaxDrawdownTime time.Time     `json:"max_drawdown_time"`
	SharpeRatio     float64       `json:"sharpe_ratio"`
	SortinoRatio    Ratio         `json:"sortino_ratio"`

	MaxConsecutiveWins   int `json:"max_consecutive_wins"`
	MaxConsecutiveLosses int `json:"max_consecutive_losses"`

	BarsProcessed int       `json:"bars_processed"`
	StartedAt     time.Time `json:"started_at"`
	CompletedAt   time.Time `json:"completed_at"`
}
