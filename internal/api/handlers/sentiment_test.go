package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/celebrum-research/internal/cache"
	"github.com/irfndi/celebrum-research/internal/models"
	"github.com/irfndi/celebrum-research/internal/services"
)

type sentimentFixture struct {
	router   *gin.Engine
	store    *MockSentimentStore
	notifier *MockNotifier
	cache    *cache.InMemoryAnalysisCache
}

func newSentimentFixture() *sentimentFixture {
	f := &sentimentFixture{
		store:    &MockSentimentStore{},
		notifier: &MockNotifier{},
		cache:    cache.NewInMemoryAnalysisCache(time.Minute, 0),
	}
	logger := quietLogger()
	analyzer := services.NewSentimentAnalyzer(services.DefaultSentimentConfig(), services.WithAnalyzerLogger(logger))
	h := NewSentimentHandler(analyzer, f.store, f.cache, f.notifier, logger)

	f.router = gin.New()
	f.router.POST("/sentiment/propagation", h.AnalyzePropagation)
	f.router.POST("/sentiment/lag", h.DetectLag)
	return f
}

func TestSentimentHandler_AnalyzePropagation_Inline(t *testing.T) {
	f := newSentimentFixture()
	req := PropagationRequest{
		Series:   laggedSeries(160, 6, "KR", "US", "EU"),
		Channels: []string{"KR", "US", "EU"},
	}

	w := performJSON(t, f.router, http.MethodPost, "/sentiment/propagation", req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp PropagationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Report)
	assert.False(t, resp.Cached)
	assert.Equal(t, []string{"KR", "US", "EU"}, resp.Report.Channels)
	assert.Len(t, resp.Report.Matrix, 6)
	assert.Equal(t, "KR", resp.Report.Leader)
	assert.Equal(t, 9*time.Hour, resp.Report.LeaderLeadTime)
	assert.Contains(t, resp.Rendered, "KR")

	for _, r := range resp.Report.Matrix {
		if r.ChannelA == "KR" && r.ChannelB == "US" {
			assert.Equal(t, -6, r.OptimalLag)
			assert.Equal(t, models.DirectionLeads, r.Direction)
			assert.Greater(t, r.Correlation, 0.8)
		}
	}

	w = performJSON(t, f.router, http.MethodPost, "/sentiment/propagation", req)
	require.Equal(t, http.StatusOK, w.Code)
	var cached PropagationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cached))
	assert.True(t, cached.Cached)
	assert.Equal(t, "KR", cached.Report.Leader)
	assert.Equal(t, int64(1), f.cache.GetStats().Hits)
}

func TestSentimentHandler_AnalyzePropagation_Store(t *testing.T) {
	f := newSentimentFixture()
	series := laggedSeries(100, 4, "JP", "US")
	table := models.NewTimeSeriesTable()
	table.AddSeries("JP", series["JP"])
	table.AddSeries("US", series["US"])

	from := fixtureStart
	to := fixtureStart.Add(100 * time.Hour)
	f.store.On("LoadSentiment", mock.Anything, []string{"JP", "US"}, mock.Anything, mock.Anything).Return(table, nil).Once()
	f.notifier.On("Enabled").Return(true)
	f.notifier.On("NotifyPropagation", mock.Anything, mock.AnythingOfType("*models.PropagationReport")).Return(nil).Once()

	w := performJSON(t, f.router, http.MethodPost, "/sentiment/propagation", PropagationRequest{
		Channels: []string{"JP", "US"},
		Range:    &TimeRange{From: from, To: to},
		Notify:   true,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp PropagationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "JP", resp.Report.Leader)
	assert.Equal(t, 4*time.Hour, resp.Report.LeaderLeadTime)

	f.store.AssertExpectations(t)
	f.notifier.AssertExpectations(t)
}

func TestSentimentHandler_AnalyzePropagation_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     interface{}
		setup    func(f *sentimentFixture)
		expected int
	}{
		{
			name:     "invalid json",
			body:     "{",
			expected: http.StatusBadRequest,
		},
		{
			name:     "no series and no range",
			body:     PropagationRequest{Channels: []string{"KR"}},
			expected: http.StatusBadRequest,
		},
		{
			name: "missing channel",
			body: PropagationRequest{
				Series:   laggedSeries(60, 2, "KR", "US"),
				Channels: []string{"KR", "US", "JP"},
			},
			expected: http.StatusUnprocessableEntity,
		},
		{
			name:     "single channel",
			body:     PropagationRequest{Series: laggedSeries(60, 2, "KR")},
			expected: http.StatusUnprocessableEntity,
		},
		{
			name: "store error",
			body: PropagationRequest{
				Channels: []string{"KR", "US"},
				Range:    &TimeRange{From: fixtureStart, To: fixtureStart.Add(time.Hour)},
			},
			setup: func(f *sentimentFixture) {
				f.store.On("LoadSentiment", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("pool closed"))
			},
			expected: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSentimentFixture()
			if tt.setup != nil {
				tt.setup(f)
			}
			w := performJSON(t, f.router, http.MethodPost, "/sentiment/propagation", tt.body)
			assert.Equal(t, tt.expected, w.Code, w.Body.String())
		})
	}
}

func TestSentimentHandler_DetectLag(t *testing.T) {
	f := newSentimentFixture()

	w := performJSON(t, f.router, http.MethodPost, "/sentiment/lag", LagRequest{
		Series:   laggedSeries(120, 5, "KR", "US"),
		ChannelA: "US",
		ChannelB: "KR",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result models.LagResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "US", result.ChannelA)
	assert.Equal(t, "KR", result.ChannelB)
	assert.Equal(t, 5, result.OptimalLag)
	assert.Equal(t, models.DirectionLags, result.Direction)
	assert.Equal(t, 5*time.Hour, result.LagTime)
	assert.Equal(t, 120, result.SampleCount)
}

func TestSentimentHandler_DetectLag_Errors(t *testing.T) {
	f := newSentimentFixture()

	w := performJSON(t, f.router, http.MethodPost, "/sentiment/lag", map[string]string{"channel_a": "KR"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = performJSON(t, f.router, http.MethodPost, "/sentiment/lag", LagRequest{
		Series:   laggedSeries(10, 1, "KR", "US"),
		ChannelA: "KR",
		ChannelB: "US",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "insufficient data")
}
