package services

import (
	"fmt"
	"math"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/irfndi/celebrum-research/internal/models"
)

// maxReportWaves caps the waves listed in a text report.
const maxReportWaves = 10

func formatRatio(r models.Ratio) string {
	f := float64(r)
	if math.IsInf(f, 1) {
		return "∞"
	}
	return fmt.Sprintf("%.2f", f)
}

func formatLag(d time.Duration) string {
	if d < 0 {
		return "-" + formatLag(-d)
	}
	return d.Round(time.Minute).String()
}

// RenderBacktestSummary renders a backtest result as plain text.
func RenderBacktestSummary(result *models.BacktestResult) string {
	if result == nil {
		return ""
	}
	p := message.NewPrinter(language.English)
	caser := cases.Title(language.English)
	strategy := caser.String(strings.ReplaceAll(result.Strategy, "_", " "))

	var b strings.Builder
	b.WriteString(p.Sprintf("Backtest: %s on %s\n", strategy, result.Symbol))
	b.WriteString(p.Sprintf("Bars processed: %d\n", result.BarsProcessed))
	b.WriteString(p.Sprintf("Balance: %.2f -> %.2f (%+.2f%%)\n", result.InitialBalance, result.FinalBalance, result.TotalReturnPct))
	b.WriteString(p.Sprintf("Trades: %d (won %d, lost %d, win rate %.1f%%)\n",
		result.TotalTrades, result.WinningTrades, result.LosingTrades, result.WinRate))
	b.WriteString(p.Sprintf("Profit factor: %s\n", formatRatio(result.ProfitFactor)))
	b.WriteString(p.Sprintf("Avg win / loss: %.2f / %.2f\n", result.AvgWin, result.AvgLoss))
	b.WriteString(p.Sprintf("Largest win / loss: %.2f / %.2f\n", result.LargestWin, result.LargestLoss))
	b.WriteString(p.Sprintf("Max drawdown: %.2f%%\n", result.MaxDrawdownPct))
	b.WriteString(p.Sprintf("Sharpe: %.2f  Sortino: %s\n", result.SharpeRatio, formatRatio(result.SortinoRatio)))
	b.WriteString(p.Sprintf("Streaks: %d wins, %d losses\n", result.MaxConsecutiveWins, result.MaxConsecutiveLosses))
	if result.TotalTrades > 0 {
		b.WriteString(p.Sprintf("Avg holding time: %s\n", result.AvgHoldingTime.Round(time.Minute)))
	}
	return b.String()
}

// RenderPropagationReport renders a propagation report as plain text.
func RenderPropagationReport(report *models.PropagationReport) string {
	if report == nil {
		return ""
	}
	p := message.NewPrinter(language.English)
	caser := cases.Title(language.English)

	var b strings.Builder
	b.WriteString("Sentiment Propagation Report\n")
	b.WriteString(p.Sprintf("Channels: %s (sampling %s)\n", strings.Join(report.Channels, ", "), report.SamplingInterval))
	if report.Leader != "" {
		b.WriteString(p.Sprintf("Leader: %s (avg lead %s)\n", report.Leader, formatLag(report.LeaderLeadTime)))
	} else {
		b.WriteString("Leader: none\n")
	}

	b.WriteString("\nLeader ranking:\n")
	for i, score := range report.Ranking {
		b.WriteString(p.Sprintf("  %d. %-12s avg lead %-8s leads %d\n", i+1, score.Channel, formatLag(score.AvgLeadTime), score.LeadCount))
	}

	b.WriteString("\nPairs:\n")
	for _, r := range report.Matrix {
		if r.ChannelA > r.ChannelB {
			continue
		}
		line := p.Sprintf("  %s -> %s: %s, lag %s, corr %.3f, confidence %.2f",
			r.ChannelA, r.ChannelB, caser.String(string(r.Direction)), formatLag(r.LagTime), r.Correlation, r.Confidence)
		if r.Timezone != nil && r.Timezone.TimezoneDriven {
			line += p.Sprintf(" (timezone driven, wake-up %s)", formatLag(r.Timezone.WakeupDelay))
		}
		b.WriteString(line + "\n")
	}
	for _, k := range report.SkippedPairs {
		b.WriteString(p.Sprintf("  %s -> %s: skipped (insufficient data)\n", k.A, k.B))
	}

	b.WriteString(p.Sprintf("\nWaves: %d\n", len(report.Waves)))
	for i, w := range report.Waves {
		if i == maxReportWaves {
			b.WriteString(p.Sprintf("  ...and %d more\n", len(report.Waves)-maxReportWaves))
			break
		}
		b.WriteString(p.Sprintf("  %s from %s, magnitude %+.3f, reached %s\n",
			w.WaveTime.UTC().Format(time.RFC3339), w.Origin, w.Magnitude, strings.Join(w.AffectedChannels, ", ")))
	}
	return b.String()
}
