package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/irfndi/celebrum-research/internal/database"
	"github.com/irfndi/celebrum-research/internal/models"
	"github.com/irfndi/celebrum-research/internal/services"
)

type backtestOptions struct {
	ohlcvPath        string
	sentimentPath    string
	sentimentChannel string
	symbol           string
	strategy         string
	strategyParams   map[string]string
	format           string

	initialBalance float64
	positionSize   float64
	feeRate        float64
	slippage       float64
	leverage       float64
	warmup         int
	stopLoss       float64
	takeProfit     float64
}

func newBacktestCmd(a *app) *cobra.Command {
	opts := &backtestOptions{}
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Simulate a built-in strategy over OHLCV bars",
		Long: `Simulate a built-in strategy bar by bar over an OHLCV CSV file
(timestamp,open,high,low,close,volume) and print the performance summary.

Percentages are plain numbers: --fee 0.1 means 0.1% per leg.

Examples:
  research backtest --ohlcv btc_1h.csv --symbol BTC/USDT
  research backtest --ohlcv btc_1h.csv --strategy rsi_reversion --param period=7 --format json
  research backtest --ohlcv btc_1h.csv --strategy sentiment_momentum --sentiment kr.csv --sentiment-channel KR`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBacktest(cmd, a, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.ohlcvPath, "ohlcv", "", "OHLCV CSV file")
	f.StringVar(&opts.symbol, "symbol", "", "Symbol label for the run")
	f.StringVar(&opts.strategy, "strategy", services.StrategySMACross, "Strategy name (sma_cross, rsi_reversion, sentiment_momentum)")
	f.StringToStringVar(&opts.strategyParams, "param", nil, "Strategy parameter override, key=value (repeatable)")
	f.StringVar(&opts.sentimentPath, "sentiment", "", "Sentiment CSV for sentiment_momentum")
	f.StringVar(&opts.sentimentChannel, "sentiment-channel", "", "Channel of the sentiment CSV to trade on")
	f.StringVar(&opts.format, "format", formatText, "Output format: text, json, yaml")

	f.Float64Var(&opts.initialBalance, "initial-balance", 0, "Starting balance (default from config)")
	f.Float64Var(&opts.positionSize, "position-size", 0, "Position size as % of available balance")
	f.Float64Var(&opts.feeRate, "fee", 0, "Fee rate % per leg")
	f.Float64Var(&opts.slippage, "slippage", 0, "Slippage %")
	f.Float64Var(&opts.leverage, "leverage", 0, "Leverage multiplier")
	f.IntVar(&opts.warmup, "warmup", 0, "Bars skipped before trading starts")
	f.Float64Var(&opts.stopLoss, "stop-loss", 0, "Stop loss % from entry, 0 disables")
	f.Float64Var(&opts.takeProfit, "take-profit", 0, "Take profit % from entry, 0 disables")

	_ = cmd.MarkFlagRequired("ohlcv")
	_ = cmd.MarkFlagRequired("symbol")
	return cmd
}

// params starts from the configured defaults and applies every flag the user
// set explicitly.
func (o *backtestOptions) params(cmd *cobra.Command, defaults services.BacktestParams) services.BacktestParams {
	p := defaults
	changed := cmd.Flags().Changed
	if changed("initial-balance") {
		p.InitialBalance = o.initialBalance
	}
	if changed("position-size") {
		p.PositionSizePct = o.positionSize
	}
	if changed("fee") {
		p.FeeRatePct = o.feeRate
	}
	if changed("slippage") {
		p.SlippagePct = o.slippage
	}
	if changed("leverage") {
		p.Leverage = o.leverage
	}
	if changed("warmup") {
		p.WarmupBars = o.warmup
	}
	if changed("stop-loss") {
		p.StopLossPct = o.stopLoss
	}
	if changed("take-profit") {
		p.TakeProfitPct = o.takeProfit
	}
	return p
}

func parseStrategyParams(raw map[string]string) (map[string]float64, error) {
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value for --param %s: %w", k, err)
		}
		out[k] = f
	}
	return out, nil
}

func loadSentimentChannel(path, channel string) (models.Series, error) {
	f, err := openInput(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	table, err := database.ReadSentimentCSV(f)
	if err != nil {
		return nil, err
	}
	if channel == "" {
		channels := table.Channels()
		if len(channels) != 1 {
			return nil, fmt.Errorf("--sentiment-channel is required when the file has %d channels", len(channels))
		}
		channel = channels[0]
	}
	series, ok := table.Series(channel)
	if !ok {
		return nil, fmt.Errorf("%w: %s", services.ErrMissingChannel, channel)
	}
	return series, nil
}

func runBacktest(cmd *cobra.Command, a *app, opts *backtestOptions) error {
	if err := validateFormat(opts.format); err != nil {
		return err
	}

	f, err := openInput(opts.ohlcvPath)
	if err != nil {
		return err
	}
	bars, err := database.ReadOHLCVCSV(f)
	f.Close()
	if err != nil {
		return err
	}

	spec := services.StrategySpec{Name: opts.strategy}
	if spec.Params, err = parseStrategyParams(opts.strategyParams); err != nil {
		return err
	}
	if opts.sentimentPath != "" {
		if spec.Sentiment, err = loadSentimentChannel(opts.sentimentPath, opts.sentimentChannel); err != nil {
			return err
		}
	}
	strategy, err := services.NewStrategy(spec)
	if err != nil {
		return err
	}

	params := opts.params(cmd, services.BacktestParamsFromConfig(a.cfg.Backtest))
	result, err := services.NewBacktester(a.logger).Run(cmd.Context(), strategy, opts.symbol, bars, params)
	if err != nil {
		return fmt.Errorf("backtest failed: %w", err)
	}
	return writeOutput(cmd.OutOrStdout(), opts.format, result, services.RenderBacktestSummary(result))
}
