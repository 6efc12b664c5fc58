package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/celebrum-research/internal/cache"
	"github.com/irfndi/celebrum-research/internal/middleware"
	"github.com/irfndi/celebrum-research/internal/models"
	"github.com/irfndi/celebrum-research/internal/services"
)

// SentimentHandler serves lag detection and propagation analysis.
type SentimentHandler struct {
	analyzer *services.SentimentAnalyzer
	store    SentimentStore
	cache    cache.AnalysisCache
	notifier Notifier
	logger   *logrus.Logger
}

// PropagationRequest analyses inline series or, when Series is empty, stored
// sentiment for Channels within Range.
type PropagationRequest struct {
	Series   map[string]models.Series `json:"series,omitempty"`
	Channels []string                 `json:"channels,omitempty"`
	Range    *TimeRange               `json:"range,omitempty"`
	Notify   bool                     `json:"notify"`
}

// PropagationResponse carries the report and its rendered text form.
type PropagationResponse struct {
	Report   *models.PropagationReport `json:"report"`
	Rendered string                    `json:"rendered"`
	Cached   bool                      `json:"cached"`
}

// LagRequest measures the lag between two channels.
type LagRequest struct {
	Series   map[string]models.Series `json:"series,omitempty"`
	ChannelA string                   `json:"channel_a" binding:"required"`
	ChannelB string                   `json:"channel_b" binding:"required"`
	Range    *TimeRange               `json:"range,omitempty"`
}

// NewSentimentHandler creates a sentiment handler. store, cache and notifier
// may be nil.
func NewSentimentHandler(analyzer *services.SentimentAnalyzer, store SentimentStore, analysisCache cache.AnalysisCache, notifier Notifier, logger *logrus.Logger) *SentimentHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &SentimentHandler{
		analyzer: analyzer,
		store:    store,
		cache:    analysisCache,
		notifier: notifier,
		logger:   logger,
	}
}

// table builds the input table from inline series, in channel order when
// channels are given, or loads it from storage.
func (h *SentimentHandler) table(ctx context.Context, series map[string]models.Series, channels []string, r *TimeRange) (*models.TimeSeriesTable, error) {
	if len(series) == 0 {
		if !r.valid() {
			return nil, fmt.Errorf("%w: series or a valid range is required", services.ErrMalformedInput)
		}
		if h.store == nil {
			return nil, errStoreUnavailable
		}
		return h.store.LoadSentiment(ctx, channels, r.From, r.To)
	}

	order := channels
	if len(order) == 0 {
		order = sortedKeys(series)
	}
	table := models.NewTimeSeriesTable()
	for _, ch := range order {
		if s, ok := series[ch]; ok {
			table.AddSeries(ch, s)
		}
	}
	return table, nil
}

// AnalyzePropagation handles POST /api/v1/sentiment/propagation.
func (h *SentimentHandler) AnalyzePropagation(c *gin.Context) {
	var req PropagationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	ctx := c.Request.Context()

	table, err := h.table(ctx, req.Series, req.Channels, req.Range)
	if err != nil {
		respondError(c, err, "Failed to load sentiment data")
		return
	}
	middleware.AddSpanAttribute(c, "sentiment.channels", len(table.Channels()))

	var hash string
	if h.cache != nil {
		hash, err = cache.RequestHash(struct {
			Config   services.SentimentConfig `json:"config"`
			Channels []string                 `json:"channels"`
			Series   map[string]models.Series `json:"series"`
			Range    *TimeRange               `json:"range"`
		}{h.analyzer.Config(), req.Channels, req.Series, req.Range})
		if err == nil {
			var cached models.PropagationReport
			if h.cache.Get(ctx, cache.KindPropagation, hash, &cached) {
				c.JSON(http.StatusOK, PropagationResponse{
					Report:   &cached,
					Rendered: services.RenderPropagationReport(&cached),
					Cached:   true,
				})
				return
			}
		}
	}

	report, err := h.analyzer.Analyze(ctx, table, req.Channels...)
	if err != nil {
		respondError(c, err, "Propagation analysis failed")
		return
	}

	if hash != "" {
		h.cache.Set(ctx, cache.KindPropagation, hash, report)
	}

	if req.Notify && h.notifier != nil && h.notifier.Enabled() {
		if err := h.notifier.NotifyPropagation(ctx, report); err != nil {
			h.logger.WithError(err).Warn("Failed to send propagation notification")
		}
	}

	c.JSON(http.StatusOK, PropagationResponse{
		Report:   report,
		Rendered: services.RenderPropagationReport(report),
	})
}

// DetectLag handles POST /api/v1/sentiment/lag.
func (h *SentimentHandler) DetectLag(c *gin.Context) {
	var req LagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	channels := []string{req.ChannelA, req.ChannelB}
	table, err := h.table(c.Request.Context(), req.Series, channels, req.Range)
	if err != nil {
		respondError(c, err, "Failed to load sentiment data")
		return
	}

	result, err := h.analyzer.DetectLag(table, req.ChannelA, req.ChannelB)
	if err != nil {
		respondError(c, err, "Lag detection failed")
		return
	}
	c.JSON(http.StatusOK, result)
}
