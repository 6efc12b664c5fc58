package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/celebrum-research/internal/database"
	"github.com/irfndi/celebrum-research/internal/models"
)

var fixtureStart = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

// oscillatingBars returns hourly bars following a slow sine wave so moving
// average crosses occur.
func oscillatingBars(n int) []models.Bar {
	bars := make([]models.Bar, n)
	for i := range bars {
		price := 100 + 10*math.Sin(float64(i)/8)
		bars[i] = models.Bar{
			Time:   fixtureStart.Add(time.Duration(i) * time.Hour),
			Open:   price,
			High:   price + 0.5,
			Low:    price - 0.5,
			Close:  price,
			Volume: 1000,
		}
	}
	return bars
}

// laggedSeries returns channels where each later channel repeats the first
// with an extra lag of step samples.
func laggedSeries(n, step int, channels ...string) map[string]models.Series {
	rng := rand.New(rand.NewSource(7))
	base := make([]float64, n+step*len(channels))
	for i := range base {
		base[i] = rng.NormFloat64()
	}
	out := make(map[string]models.Series, len(channels))
	for c, ch := range channels {
		s := make(models.Series, n)
		for i := range s {
			s[i] = models.Point{
				Time:  fixtureStart.Add(time.Duration(i) * time.Hour),
				Value: base[i+step*len(channels)-c*step],
			}
		}
		out[ch] = s
	}
	return out
}

func performJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

type MockBacktestStore struct {
	mock.Mock
}

func (m *MockBacktestStore) LoadOHLCV(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Bar, error) {
	args := m.Called(ctx, symbol, timeframe, from, to)
	bars, _ := args.Get(0).([]models.Bar)
	return bars, args.Error(1)
}

func (m *MockBacktestStore) SaveBacktestRun(ctx context.Context, result *models.BacktestResult) (uuid.UUID, error) {
	args := m.Called(ctx, result)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (m *MockBacktestStore) ListBacktestRuns(ctx context.Context, symbol string, limit int) ([]database.BacktestRunSummary, error) {
	args := m.Called(ctx, symbol, limit)
	runs, _ := args.Get(0).([]database.BacktestRunSummary)
	return runs, args.Error(1)
}

type MockSentimentStore struct {
	mock.Mock
}

func (m *MockSentimentStore) LoadSentiment(ctx context.Context, channels []string, from, to time.Time) (*models.TimeSeriesTable, error) {
	args := m.Called(ctx, channels, from, to)
	table, _ := args.Get(0).(*models.TimeSeriesTable)
	return table, args.Error(1)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Enabled() bool {
	return m.Called().Bool(0)
}

func (m *MockNotifier) NotifyBacktest(ctx context.Context, result *models.BacktestResult) error {
	return m.Called(ctx, result).Error(0)
}

func (m *MockNotifier) NotifyPropagation(ctx context.Context, report *models.PropagationReport) error {
	return m.Called(ctx, report).Error(0)
}

type MockHealthChecker struct {
	mock.Mock
}

func (m *MockHealthChecker) HealthCheck(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}
