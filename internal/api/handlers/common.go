package handlers

import (
	"context"
	"errors"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/irfndi/celebrum-research/internal/database"
	"github.com/irfndi/celebrum-research/internal/middleware"
	"github.com/irfndi/celebrum-research/internal/models"
	"github.com/irfndi/celebrum-research/internal/services"
)

// BacktestStore loads bars and persists backtest runs.
type BacktestStore interface {
	LoadOHLCV(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Bar, error)
	SaveBacktestRun(ctx context.Context, result *models.BacktestResult) (uuid.UUID, error)
	ListBacktestRuns(ctx context.Context, symbol string, limit int) ([]database.BacktestRunSummary, error)
}

// SentimentStore loads sentiment scores.
type SentimentStore interface {
	LoadSentiment(ctx context.Context, channels []string, from, to time.Time) (*models.TimeSeriesTable, error)
}

// Notifier delivers analysis summaries to an external channel.
type Notifier interface {
	Enabled() bool
	NotifyBacktest(ctx context.Context, result *models.BacktestResult) error
	NotifyPropagation(ctx context.Context, report *models.PropagationReport) error
}

// TimeRange selects stored data in [From, To).
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (r *TimeRange) valid() bool {
	return r != nil && !r.From.IsZero() && r.To.After(r.From)
}

var errStoreUnavailable = errors.New("storage is not configured")

// statusForError maps analysis errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, services.ErrMalformedInput):
		return http.StatusBadRequest
	case services.IsNotAvailable(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error, description string) {
	status := statusForError(err)
	middleware.RecordError(c, err, description)
	if status == http.StatusInternalServerError {
		c.JSON(status, gin.H{"error": description})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
