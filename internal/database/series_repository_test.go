package database

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/celebrum-research/internal/models"
)

func newMockRepository(t *testing.T) (*SeriesRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)
	return NewSeriesRepository(mockPool), mockPool
}

func TestSeriesRepository_EnsureSchema(t *testing.T) {
	repo, mockPool := newMockRepository(t)

	mockPool.ExpectExec("CREATE TABLE IF NOT EXISTS sentiment_scores").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, repo.EnsureSchema(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestSeriesRepository_EnsureSchema_Error(t *testing.T) {
	repo, mockPool := newMockRepository(t)

	mockPool.ExpectExec("CREATE TABLE").WillReturnError(errors.New("permission denied"))

	err := repo.EnsureSchema(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create research schema")
}

func TestSeriesRepository_LoadSentiment(t *testing.T) {
	repo, mockPool := newMockRepository(t)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	from, to := base, base.Add(24*time.Hour)

	mockPool.ExpectQuery(`SELECT channel, ts, score\s+FROM sentiment_scores`).
		WithArgs([]string{"KR", "US"}, from, to).
		WillReturnRows(pgxmock.NewRows([]string{"channel", "ts", "score"}).
			AddRow("KR", base, 0.4).
			AddRow("KR", base.Add(time.Hour), 0.5).
			AddRow("US", base, -0.1))

	table, err := repo.LoadSentiment(context.Background(), []string{"KR", "US"}, from, to)
	require.NoError(t, err)
	assert.Equal(t, []string{"KR", "US"}, table.Channels())
	assert.Equal(t, 2, table.Len("KR"))
	assert.Equal(t, 1, table.Len("US"))

	kr, ok := table.Series("KR")
	require.True(t, ok)
	assert.Equal(t, []float64{0.4, 0.5}, kr.Values())
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestSeriesRepository_LoadSentiment_AllChannels(t *testing.T) {
	repo, mockPool := newMockRepository(t)

	mockPool.ExpectQuery(`SELECT channel, ts, score\s+FROM sentiment_scores`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"channel", "ts", "score"}))

	table, err := repo.LoadSentiment(context.Background(), nil, time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Empty(t, table.Channels())
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestSeriesRepository_LoadSentiment_QueryError(t *testing.T) {
	repo, mockPool := newMockRepository(t)

	mockPool.ExpectQuery("SELECT channel").WillReturnError(errors.New("connection reset"))

	_, err := repo.LoadSentiment(context.Background(), nil, time.Now(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to query sentiment scores")
}

func TestSeriesRepository_LoadOHLCV(t *testing.T) {
	repo, mockPool := newMockRepository(t)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	mockPool.ExpectQuery(`SELECT ts, open, high, low, close, volume\s+FROM ohlcv`).
		WithArgs("BTC/USDT", "1h", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"ts", "open", "high", "low", "close", "volume"}).
			AddRow(base,
				decimal.RequireFromString("42000.5"),
				decimal.RequireFromString("42100"),
				decimal.RequireFromString("41900"),
				decimal.RequireFromString("42050.25"),
				decimal.RequireFromString("12.5")).
			AddRow(base.Add(time.Hour),
				decimal.RequireFromString("42050.25"),
				decimal.RequireFromString("42200"),
				decimal.RequireFromString("42000"),
				decimal.RequireFromString("42150"),
				decimal.Zero))

	bars, err := repo.LoadOHLCV(context.Background(), "BTC/USDT", "1h", base, base.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, base, bars[0].Time)
	assert.InDelta(t, 42000.5, bars[0].Open, 1e-9)
	assert.InDelta(t, 42050.25, bars[0].Close, 1e-9)
	assert.InDelta(t, 12.5, bars[0].Volume, 1e-9)
	assert.Equal(t, 0.0, bars[1].Volume)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func sampleResult() *models.BacktestResult {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	return &models.BacktestResult{
		RunID:          uuid.New().String(),
		Symbol:         "ETH/USDT",
		Strategy:       "sma_cross",
		InitialBalance: 10000,
		FinalBalance:   10150,
		TotalReturnPct: 1.5,
		TotalTrades:    2,
		WinRate:        100,
		ProfitFactor:   models.Ratio(math.Inf(1)),
		MaxDrawdownPct: 0.8,
		SharpeRatio:    1.2,
		StartedAt:      base,
		CompletedAt:    base.Add(time.Second),
		Trades: []models.Trade{
			{Side: models.SideLong, EntryTime: base, ExitTime: base.Add(time.Hour), EntryPrice: 100, ExitPrice: 101, Size: 10, PnL: 9.8, PnLPct: 0.98, Fees: 0.2, ExitReason: models.ExitTakeProfit},
			{Side: models.SideShort, EntryTime: base.Add(2 * time.Hour), ExitTime: base.Add(3 * time.Hour), EntryPrice: 101, ExitPrice: 100, Size: 10, PnL: 9.8, PnLPct: 0.97, Fees: 0.2, ExitReason: models.ExitEndOfData},
		},
	}
}

func TestSeriesRepository_SaveBacktestRun(t *testing.T) {
	repo, mockPool := newMockRepository(t)
	result := sampleResult()
	runID := uuid.MustParse(result.RunID)

	mockPool.ExpectBegin()
	mockPool.ExpectExec("INSERT INTO backtest_runs").
		WithArgs(runID, "ETH/USDT", "sma_cross",
			decimal.NewFromFloat(10000), decimal.NewFromFloat(10150),
			1.5, 2, 100.0, (*float64)(nil), 0.8, 1.2,
			result.StartedAt, result.CompletedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	for i := range result.Trades {
		mockPool.ExpectExec("INSERT INTO backtest_trades").
			WithArgs(pgxmock.AnyArg(), runID, i,
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), string(result.Trades[i].ExitReason)).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mockPool.ExpectCommit()

	id, err := repo.SaveBacktestRun(context.Background(), result)
	require.NoError(t, err)
	assert.Equal(t, runID, id)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestSeriesRepository_SaveBacktestRun_AssignsRunID(t *testing.T) {
	repo, mockPool := newMockRepository(t)
	result := sampleResult()
	result.RunID = ""
	result.Trades = nil

	mockPool.ExpectBegin()
	mockPool.ExpectExec("INSERT INTO backtest_runs").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectCommit()

	id, err := repo.SaveBacktestRun(context.Background(), result)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)
	assert.Equal(t, id.String(), result.RunID)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestSeriesRepository_SaveBacktestRun_TradeError(t *testing.T) {
	repo, mockPool := newMockRepository(t)
	result := sampleResult()

	require.GreaterOrEqual(t, len(result.Trades), 2)

	mockPool.ExpectBegin()
	mockPool.ExpectExec("INSERT INTO backtest_runs").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectExec("INSERT INTO backtest_trades").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectExec("INSERT INTO backtest_trades").
		WillReturnError(errors.New("foreign key violation"))
	mockPool.ExpectRollback()

	_, err := repo.SaveBacktestRun(context.Background(), result)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert backtest trade 1")
	assert.NoError(t, mockPool.ExpectationsWereMet(), "partial run must be rolled back")
}

func TestSeriesRepository_SaveBacktestRun_BeginError(t *testing.T) {
	repo, mockPool := newMockRepository(t)

	mockPool.ExpectBegin().WillReturnError(errors.New("connection refused"))

	_, err := repo.SaveBacktestRun(context.Background(), sampleResult())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to begin transaction")
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestSeriesRepository_ListBacktestRuns(t *testing.T) {
	repo, mockPool := newMockRepository(t)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	id := uuid.New()
	pf := 1.8

	mockPool.ExpectQuery(`SELECT (.+)\s+FROM backtest_runs`).
		WithArgs("BTC/USDT", 50).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "symbol", "strategy", "initial_balance", "final_balance", "total_return_pct",
			"total_trades", "win_rate", "profit_factor", "max_drawdown_pct", "sharpe_ratio",
			"started_at", "completed_at",
		}).AddRow(id, "BTC/USDT", "rsi_reversion",
			decimal.NewFromInt(10000), decimal.NewFromInt(10420), 4.2,
			7, 57.1, &pf, 3.1, 0.9, base, base.Add(time.Second)))

	runs, err := repo.ListBacktestRuns(context.Background(), "BTC/USDT", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ID)
	assert.Equal(t, "rsi_reversion", runs[0].Strategy)
	assert.True(t, runs[0].FinalBalance.Equal(decimal.NewFromInt(10420)))
	require.NotNil(t, runs[0].ProfitFactor)
	assert.Equal(t, 1.8, *runs[0].ProfitFactor)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
