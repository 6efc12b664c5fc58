package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/celebrum-research/internal/cache"
	"github.com/irfndi/celebrum-research/internal/middleware"
	"github.com/irfndi/celebrum-research/internal/models"
	"github.com/irfndi/celebrum-research/internal/services"
)

// sentimentLookback is how far before the first bar sentiment is loaded for
// the sentiment_momentum strategy.
const sentimentLookback = 7 * 24 * time.Hour

// BacktestHandler serves backtest runs and stored run history.
type BacktestHandler struct {
	backtester *services.Backtester
	defaults   services.BacktestParams
	store      BacktestStore
	sentiment  SentimentStore
	cache      cache.AnalysisCache
	notifier   Notifier
	logger     *logrus.Logger
}

// BacktestRequest runs one strategy over one symbol. Bars are taken inline or,
// when omitted, loaded from storage for Timeframe and Range. Params override
// the server defaults field by field.
type BacktestRequest struct {
	Symbol           string                `json:"symbol" binding:"required"`
	Strategy         services.StrategySpec `json:"strategy"`
	Bars             []models.Bar          `json:"bars,omitempty"`
	Timeframe        string                `json:"timeframe,omitempty"`
	Range            *TimeRange            `json:"range,omitempty"`
	SentimentChannel string                `json:"sentiment_channel,omitempty"`
	Params           json.RawMessage       `json:"params,omitempty"`
	Persist          bool                  `json:"persist"`
	Notify           bool                  `json:"notify"`
}

// BacktestResponse carries the result and its rendered summary.
type BacktestResponse struct {
	Result  *models.BacktestResult `json:"result"`
	Summary string                 `json:"summary"`
	Cached  bool                   `json:"cached"`
}

// BatchBacktestRequest runs one strategy over several symbols.
type BatchBacktestRequest struct {
	Strategy  services.StrategySpec   `json:"strategy"`
	Bars      map[string][]models.Bar `json:"bars,omitempty"`
	Symbols   []string                `json:"symbols,omitempty"`
	Timeframe string                  `json:"timeframe,omitempty"`
	Range     *TimeRange              `json:"range,omitempty"`
	Params    json.RawMessage         `json:"params,omitempty"`
}

// BatchBacktestEntry is one symbol of a batch response.
type BatchBacktestEntry struct {
	Symbol string                 `json:"symbol"`
	Result *models.BacktestResult `json:"result,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

// NewBacktestHandler creates a backtest handler. store, sentiment, cache and
// notifier may be nil.
func NewBacktestHandler(
	backtester *services.Backtester,
	defaults services.BacktestParams,
	store BacktestStore,
	sentiment SentimentStore,
	analysisCache cache.AnalysisCache,
	notifier Notifier,
	logger *logrus.Logger,
) *BacktestHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &BacktestHandler{
		backtester: backtester,
		defaults:   defaults,
		store:      store,
		sentiment:  sentiment,
		cache:      analysisCache,
		notifier:   notifier,
		logger:     logger,
	}
}

// ListStrategies returns the built-in strategies and the default parameters.
func (h *BacktestHandler) ListStrategies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"strategies": services.AvailableStrategies(),
		"defaults":   h.defaults,
	})
}

func (h *BacktestHandler) params(raw json.RawMessage) (services.BacktestParams, error) {
	params := h.defaults
	if len(raw) == 0 {
		return params, nil
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return params, fmt.Errorf("%w: invalid params: %w", services.ErrMalformedInput, err)
	}
	return params, nil
}

func (h *BacktestHandler) loadBars(ctx context.Context, symbol, timeframe string, r *TimeRange) ([]models.Bar, error) {
	if !r.valid() {
		return nil, fmt.Errorf("%w: bars or a valid range is required", services.ErrMalformedInput)
	}
	if h.store == nil {
		return nil, errStoreUnavailable
	}
	if timeframe == "" {
		timeframe = "1h"
	}
	bars, err := h.store.LoadOHLCV(ctx, symbol, timeframe, r.From, r.To)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: no stored bars for %s %s", services.ErrInsufficientData, symbol, timeframe)
	}
	return bars, nil
}

func (h *BacktestHandler) loadSentiment(ctx context.Context, channel string, bars []models.Bar) (models.Series, error) {
	if h.sentiment == nil {
		return nil, errStoreUnavailable
	}
	from := bars[0].Time.Add(-sentimentLookback)
	to := bars[len(bars)-1].Time.Add(time.Nanosecond)
	table, err := h.sentiment.LoadSentiment(ctx, []string{channel}, from, to)
	if err != nil {
		return nil, err
	}
	series, ok := table.Series(channel)
	if !ok || len(series) == 0 {
		return nil, fmt.Errorf("%w: %s", services.ErrMissingChannel, channel)
	}
	return series, nil
}

// RunBacktest handles POST /api/v1/backtest.
func (h *BacktestHandler) RunBacktest(c *gin.Context) {
	var req BacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	ctx := c.Request.Context()

	params, err := h.params(req.Params)
	if err != nil {
		respondError(c, err, "Invalid backtest parameters")
		return
	}

	bars := req.Bars
	if len(bars) == 0 {
		if bars, err = h.loadBars(ctx, req.Symbol, req.Timeframe, req.Range); err != nil {
			respondError(c, err, "Failed to load market data")
			return
		}
	}

	spec := req.Strategy
	if req.SentimentChannel != "" && len(spec.Sentiment) == 0 {
		if spec.Sentiment, err = h.loadSentiment(ctx, req.SentimentChannel, bars); err != nil {
			respondError(c, err, "Failed to load sentiment data")
			return
		}
	}

	strategy, err := services.NewStrategy(spec)
	if err != nil {
		respondError(c, err, "Invalid strategy")
		return
	}

	middleware.AddSpanAttribute(c, "backtest.symbol", req.Symbol)
	middleware.AddSpanAttribute(c, "backtest.strategy", strategy.Name())
	middleware.AddSpanAttribute(c, "backtest.bars", len(bars))

	var hash string
	if h.cache != nil && !req.Persist {
		hash, err = cache.RequestHash(struct {
			Symbol   string                  `json:"symbol"`
			Strategy services.StrategySpec   `json:"strategy"`
			Params   services.BacktestParams `json:"params"`
			Bars     []models.Bar            `json:"bars"`
		}{req.Symbol, spec, params, bars})
		if err == nil {
			var cached models.BacktestResult
			if h.cache.Get(ctx, cache.KindBacktest, hash, &cached) {
				c.JSON(http.StatusOK, BacktestResponse{
					Result:  &cached,
					Summary: services.RenderBacktestSummary(&cached),
					Cached:  true,
				})
				return
			}
		}
	}

	result, err := h.backtester.Run(ctx, strategy, req.Symbol, bars, params)
	if err != nil {
		respondError(c, err, "Backtest failed")
		return
	}

	if req.Persist {
		if h.store == nil {
			respondError(c, errStoreUnavailable, "Failed to persist backtest run")
			return
		}
		if _, err := h.store.SaveBacktestRun(ctx, result); err != nil {
			h.logger.WithError(err).WithField("run_id", result.RunID).Error("Failed to persist backtest run")
			respondError(c, err, "Failed to persist backtest run")
			return
		}
	}

	if hash != "" {
		h.cache.Set(ctx, cache.KindBacktest, hash, result)
	}

	if req.Notify && h.notifier != nil && h.notifier.Enabled() {
		if err := h.notifier.NotifyBacktest(ctx, result); err != nil {
			h.logger.WithError(err).WithField("run_id", result.RunID).Warn("Failed to send backtest notification")
		}
	}

	c.JSON(http.StatusOK, BacktestResponse{
		Result:  result,
		Summary: services.RenderBacktestSummary(result),
	})
}

// RunBatch handles POST /api/v1/backtest/batch.
func (h *BacktestHandler) RunBatch(c *gin.Context) {
	var req BatchBacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	ctx := c.Request.Context()

	params, err := h.params(req.Params)
	if err != nil {
		respondError(c, err, "Invalid backtest parameters")
		return
	}

	bars := req.Bars
	if len(bars) == 0 {
		if len(req.Symbols) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bars or symbols are required"})
			return
		}
		bars = make(map[string][]models.Bar, len(req.Symbols))
		for _, symbol := range req.Symbols {
			loaded, err := h.loadBars(ctx, symbol, req.Timeframe, req.Range)
			if err != nil && !services.IsNotAvailable(err) {
				respondError(c, err, "Failed to load market data")
				return
			}
			bars[symbol] = loaded
		}
	}

	factory := func(string) (services.Strategy, error) {
		return services.NewStrategy(req.Strategy)
	}
	results, err := h.backtester.RunBatch(ctx, factory, bars, params)
	if err != nil {
		respondError(c, err, "Batch backtest failed")
		return
	}

	entries := make([]BatchBacktestEntry, len(results))
	for i, r := range results {
		entries[i] = BatchBacktestEntry{Symbol: r.Symbol, Result: r.Result}
		if r.Err != nil {
			entries[i].Error = r.Err.Error()
		}
	}
	c.JSON(http.StatusOK, gin.H{"results": entries, "count": len(entries)})
}

// ListRuns handles GET /api/v1/backtest/runs.
func (h *BacktestHandler) ListRuns(c *gin.Context) {
	if h.store == nil {
		respondError(c, errStoreUnavailable, "Storage unavailable")
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 500 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
		return
	}

	runs, err := h.store.ListBacktestRuns(c.Request.Context(), c.Query("symbol"), limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list backtest runs")
		respondError(c, err, "Failed to list backtest runs")
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}
