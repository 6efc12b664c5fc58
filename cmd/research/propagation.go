package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/irfndi/celebrum-research/internal/database"
	"github.com/irfndi/celebrum-research/internal/services"
)

type propagationOptions struct {
	sentimentPath string
	channels      []string
	interval      time.Duration
	maxLag        int
	minSamples    int
	thresholdStd  float64
	timezone      bool
	format        string
}

func newPropagationCmd(a *app) *cobra.Command {
	opts := &propagationOptions{}
	cmd := &cobra.Command{
		Use:   "propagation",
		Short: "Measure how sentiment moves between regional channels",
		Long: `Cross-correlate every pair of sentiment channels, rank the leading
region and detect propagation waves.

The CSV may be wide (timestamp,KR,US,...) or long (timestamp,channel,score).

Examples:
  research propagation --sentiment regions.csv
  research propagation --sentiment regions.csv --channels KR,US,JP --max-lag 24
  research propagation --sentiment regions.csv --interval 15m --timezone --format yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPropagation(cmd, a, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.sentimentPath, "sentiment", "", "Sentiment CSV file")
	f.StringSliceVar(&opts.channels, "channels", nil, "Channels to analyse (default all)")
	f.DurationVar(&opts.interval, "interval", time.Hour, "Nominal sampling interval")
	f.IntVar(&opts.maxLag, "max-lag", 0, "Maximum lag in samples (default from config)")
	f.IntVar(&opts.minSamples, "min-samples", 0, "Minimum common samples per pair (default from config)")
	f.Float64Var(&opts.thresholdStd, "threshold-std", 0, "Wave threshold in standard deviations (default from config)")
	f.BoolVar(&opts.timezone, "timezone", false, "Correct lags for channel activity hours")
	f.StringVar(&opts.format, "format", formatText, "Output format: text, json, yaml")

	_ = cmd.MarkFlagRequired("sentiment")
	return cmd
}

// analyzer builds the analyzer from configuration with flag overrides.
func (o *propagationOptions) analyzer(cmd *cobra.Command, a *app) (*services.SentimentAnalyzer, error) {
	sc := a.cfg.Sentiment
	if cmd.Flags().Changed("interval") || sc.SamplingInterval == "" {
		sc.SamplingInterval = o.interval.String()
		sc.WaveSearchWindow = ""
		sc.WaveDedupWindow = ""
	}
	if o.maxLag > 0 {
		sc.MaxLag = o.maxLag
	}
	if o.minSamples > 0 {
		sc.MinSamples = o.minSamples
	}
	if o.thresholdStd > 0 {
		sc.WaveThresholdStd = o.thresholdStd
	}

	tz := a.cfg.Timezone
	if o.timezone {
		tz.Enabled = true
	}
	adjuster, err := services.TimezoneAdjusterFromConfig(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone profiles: %w", err)
	}

	opts := []services.SentimentAnalyzerOption{services.WithAnalyzerLogger(a.logger)}
	if adjuster != nil {
		opts = append(opts, services.WithTimezoneAdjuster(adjuster))
	}
	return services.NewSentimentAnalyzer(services.SentimentConfigFromConfig(sc), opts...), nil
}

func runPropagation(cmd *cobra.Command, a *app, opts *propagationOptions) error {
	if err := validateFormat(opts.format); err != nil {
		return err
	}
	if opts.interval <= 0 {
		return fmt.Errorf("--interval must be positive, got %s", opts.interval)
	}

	f, err := openInput(opts.sentimentPath)
	if err != nil {
		return err
	}
	table, err := database.ReadSentimentCSV(f)
	f.Close()
	if err != nil {
		return err
	}

	analyzer, err := opts.analyzer(cmd, a)
	if err != nil {
		return err
	}
	report, err := analyzer.Analyze(cmd.Context(), table, opts.channels...)
	if err != nil {
		return fmt.Errorf("propagation analysis failed: %w", err)
	}
	return writeOutput(cmd.OutOrStdout(), opts.format, report, services.RenderPropagationReport(report))
}
