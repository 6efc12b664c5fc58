package services

import (
	"math"
	"time"

	"github.com/irfndi/celebrum-research/internal/models"
)

// annualizationFactor scales per-step Sharpe and Sortino ratios.
var annualizationFactor = math.Sqrt(252)

// Summarize computes aggregate statistics from closed trades and an equity
// curve. It has no side effects.
func Summarize(trades []models.Trade, curve []models.EquityPoint, initialBalance float64) models.BacktestResult {
	result := models.BacktestResult{
		InitialBalance: initialBalance,
		FinalBalance:   initialBalance,
		Trades:         trades,
		EquityCurve:    curve,
		TotalTrades:    len(trades),
	}
	if result.Trades == nil {
		result.Trades = []models.Trade{}
	}
	if result.EquityCurve == nil {
		result.EquityCurve = []models.EquityPoint{}
	}

	var (
		totalHolding time.Duration
		winStreak    int
		lossStreak   int
	)
	for _, trade := range trades {
		result.TotalPnL += trade.PnL
		totalHolding += trade.Duration

		switch {
		case trade.PnL > 0:
			result.WinningTrades++
			result.GrossProfit += trade.PnL
			if trade.PnL > result.LargestWin {
				result.LargestWin = trade.PnL
			}
			winStreak++
			lossStreak = 0
		case trade.PnL < 0:
			result.LosingTrades++
			result.GrossLoss += -trade.PnL
			if trade.PnL < result.LargestLoss {
				result.LargestLoss = trade.PnL
			}
			lossStreak++
			winStreak = 0
		default:
			winStreak, lossStreak = 0, 0
		}
		result.MaxConsecutiveWins = max(result.MaxConsecutiveWins, winStreak)
		result.MaxConsecutiveLosses = max(result.MaxConsecutiveLosses, lossStreak)
	}

	result.FinalBalance = initialBalance + result.TotalPnL
	if initialBalance > 0 {
		result.TotalReturnPct = result.TotalPnL / initialBalance * 100
	}
	if result.TotalTrades > 0 {
		result.WinRate = float64(result.WinningTrades) / float64(result.TotalTrades) * 100
		result.Expectancy = result.TotalPnL / float64(result.TotalTrades)
		result.AvgHoldingTime = totalHolding / time.Duration(result.TotalTrades)
	}
	if result.WinningTrades > 0 {
		result.AvgWin = result.GrossProfit / float64(result.WinningTrades)
	}
	if result.LosingTrades > 0 {
		result.AvgLoss = result.GrossLoss / float64(result.LosingTrades)
	}
	result.ProfitFactor = profitFactor(result.GrossProfit, result.GrossLoss)

	result.MaxDrawdownPct, result.MaxDrawdownTime = calculateMaxDrawdown(curve)
	returns := equityReturns(curve)
	result.SharpeRatio = calculateSharpeRatio(returns)
	result.SortinoRatio = calculateSortinoRatio(returns)
	return result
}

func profitFactor(grossProfit, grossLoss float64) models.Ratio {
	switch {
	case grossLoss > 0:
		return models.Ratio(grossProfit / grossLoss)
	case grossProfit > 0:
		return models.Ratio(math.Inf(1))
	default:
		return 0
	}
}

// calculateMaxDrawdown finds the maximum peak-to-trough decline in percent,
// bounded to [0, 100].
func calculateMaxDrawdown(curve []models.EquityPoint) (float64, time.Time) {
	if len(curve) == 0 {
		return 0, time.Time{}
	}
	var (
		maxDrawdown float64
		at          time.Time
	)
	peak := curve[0].Equity
	for _, point := range curve {
		if point.Equity > peak {
			peak = point.Equity
		}
		if peak <= 0 {
			continue
		}
		dd := clamp((peak-point.Equity)/peak*100, 0, 100)
		if dd > maxDrawdown {
			maxDrawdown = dd
			at = point.Time
		}
	}
	return maxDrawdown, at
}

// equityReturns returns the per-step simple returns of the curve, skipping
// steps from non-positive equity.
func equityReturns(curve []models.EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev <= 0 {
			continue
		}
		returns = append(returns, (curve[i].Equity-prev)/prev)
	}
	return returns
}

func calculateSharpeRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	std := calculatePopulationStdDev(returns)
	if std < epsilon {
		return 0
	}
	return calculateMeanFloat64(returns) / std * annualizationFactor
}

// calculateSortinoRatio divides the mean return by the downside deviation.
// With no downside it is +Inf for a positive mean and 0 otherwise.
func calculateSortinoRatio(returns []float64) models.Ratio {
	if len(returns) < 2 {
		return 0
	}
	mean := calculateMeanFloat64(returns)
	var sumSq float64
	for _, r := range returns {
		if r < 0 {
			sumSq += r * r
		}
	}
	downside := math.Sqrt(sumSq / float64(len(returns)))
	if downside < epsilon {
		if mean > epsilon {
			return models.Ratio(math.Inf(1))
		}
		return 0
	}
	return models.Ratio(mean / downside * annualizationFactor)
}
