package services

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/celebrum-research/internal/models"
)

// ReportNotifier posts backtest and propagation summaries to a Telegram chat.
type ReportNotifier struct {
	bot     *bot.Bot
	chatID  int64
	logger  *logrus.Logger
	breaker *CircuitBreaker
}

// NewReportNotifier creates a notifier. An empty token yields a disabled
// notifier whose methods are no-ops.
func NewReportNotifier(token string, chatID int64, logger *logrus.Logger, opts ...bot.Option) (*ReportNotifier, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	n := &ReportNotifier{
		chatID:  chatID,
		logger:  logger,
		breaker: NewCircuitBreaker("telegram", CircuitBreakerConfig{}, logger),
	}
	if token == "" {
		return n, nil
	}
	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	n.bot = b
	return n, nil
}

// Enabled reports whether messages will actually be sent.
func (n *ReportNotifier) Enabled() bool {
	return n != nil && n.bot != nil && n.chatID != 0
}

// NotifyBacktest sends a short summary of a backtest result.
func (n *ReportNotifier) NotifyBacktest(ctx context.Context, result *models.BacktestResult) error {
	if !n.Enabled() || result == nil {
		return nil
	}
	return n.send(ctx, formatBacktestMessage(result))
}

// NotifyPropagation sends the leader and wave count of a propagation report.
func (n *ReportNotifier) NotifyPropagation(ctx context.Context, report *models.PropagationReport) error {
	if !n.Enabled() || report == nil {
		return nil
	}
	return n.send(ctx, formatPropagationMessage(report))
}

func (n *ReportNotifier) send(ctx context.Context, text string) error {
	err := n.breaker.Execute(ctx, func(ctx context.Context) error {
		_, err := n.bot.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:    n.chatID,
			Text:      text,
			ParseMode: tgmodels.ParseModeMarkdown,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	n.logger.WithField("chat_id", n.chatID).Debug("Report notification sent")
	return nil
}

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

func formatBacktestMessage(result *models.BacktestResult) string {
	emoji := "📈"
	if result.TotalPnL < 0 {
		emoji = "📉"
	}
	pf := float64(result.ProfitFactor)
	pfText := fmt.Sprintf("%.2f", pf)
	if math.IsInf(pf, 1) {
		pfText = "∞"
	}

	message := fmt.Sprintf("%s *Backtest: %s*\n\n", emoji, markdownEscaper.Replace(result.Symbol))
	message += fmt.Sprintf("🧠 *Strategy:* %s\n", markdownEscaper.Replace(result.Strategy))
	message += fmt.Sprintf("💰 *Return:* %+.2f%% (%.2f → %.2f)\n", result.TotalReturnPct, result.InitialBalance, result.FinalBalance)
	message += fmt.Sprintf("🎯 *Trades:* %d (win rate %.1f%%)\n", result.TotalTrades, result.WinRate)
	message += fmt.Sprintf("⚖️ *Profit factor:* %s\n", pfText)
	message += fmt.Sprintf("🛑 *Max drawdown:* %.2f%%\n", result.MaxDrawdownPct)
	message += fmt.Sprintf("📊 *Sharpe:* %.2f\n", result.SharpeRatio)
	return message
}

func formatPropagationMessage(report *models.PropagationReport) string {
	message := "🌍 *Sentiment Propagation*\n\n"
	message += fmt.Sprintf("📡 *Channels:* %s\n", markdownEscaper.Replace(strings.Join(report.Channels, ", ")))
	if report.Leader != "" {
		message += fmt.Sprintf("🥇 *Leader:* %s (avg lead %s)\n", markdownEscaper.Replace(report.Leader), formatLag(report.LeaderLeadTime))
	} else {
		message += "🥇 *Leader:* none\n"
	}
	message += fmt.Sprintf("🌊 *Waves:* %d\n", len(report.Waves))
	if len(report.Waves) > 0 {
		last := report.Waves[len(report.Waves)-1]
		message += fmt.Sprintf("⏰ *Latest wave:* %s from %s\n", last.WaveTime.UTC().Format("2006-01-02 15:04"), markdownEscaper.Replace(last.Origin))
	}
	return message
}
