package database

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/irfndi/celebrum-research/internal/models"
)

// DatabasePool defines the interface for database pool operations.
// This interface allows for both real pool and mock pool implementations.
type DatabasePool interface {
	// QueryRow executes a query that is expected to return at most one row.
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	// Exec executes a query without returning any rows.
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	// Query executes a query that returns rows.
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	// Begin starts a transaction.
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Schema creates the tables read and written by SeriesRepository.
const Schema = `
CREATE TABLE IF NOT EXISTS sentiment_scores (
	channel    TEXT        NOT NULL,
	ts         TIMESTAMPTZ NOT NULL,
	score      DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (channel, ts)
);

CREATE TABLE IF NOT EXISTS ohlcv (
	symbol     TEXT        NOT NULL,
	timeframe  TEXT        NOT NULL,
	ts         TIMESTAMPTZ NOT NULL,
	open       NUMERIC     NOT NULL,
	high       NUMERIC     NOT NULL,
	low        NUMERIC     NOT NULL,
	close      NUMERIC     NOT NULL,
	volume     NUMERIC     NOT NULL DEFAULT 0,
	PRIMARY KEY (symbol, timeframe, ts)
);

CREATE TABLE IF NOT EXISTS backtest_runs (
	id               UUID PRIMARY KEY,
	symbol           TEXT        NOT NULL,
	strategy         TEXT        NOT NULL,
	initial_balance  NUMERIC     NOT NULL,
	final_balance    NUMERIC     NOT NULL,
	total_return_pct DOUBLE PRECISION NOT NULL,
	total_trades     INTEGER     NOT NULL,
	win_rate         DOUBLE PRECISION NOT NULL,
	profit_factor    DOUBLE PRECISION,
	max_drawdown_pct DOUBLE PRECISION NOT NULL,
	sharpe_ratio     DOUBLE PRECISION NOT NULL,
	started_at       TIMESTAMPTZ NOT NULL,
	completed_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS backtest_trades (
	id           UUID PRIMARY KEY,
	run_id       UUID        NOT NULL REFERENCES backtest_runs(id) ON DELETE CASCADE,
	trade_index  INTEGER     NOT NULL,
	side         TEXT        NOT NULL,
	entry_time   TIMESTAMPTZ NOT NULL,
	exit_time    TIMESTAMPTZ NOT NULL,
	entry_price  NUMERIC     NOT NULL,
	exit_price   NUMERIC     NOT NULL,
	size         NUMERIC     NOT NULL,
	pnl          NUMERIC     NOT NULL,
	pnl_pct      DOUBLE PRECISION NOT NULL,
	fees         NUMERIC     NOT NULL,
	exit_reason  TEXT        NOT NULL
);
`

// BacktestRunSummary is a stored backtest run without its trades.
type BacktestRunSummary struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	Symbol         string          `json:"symbol" db:"symbol"`
	Strategy       string          `json:"strategy" db:"strategy"`
	InitialBalance decimal.Decimal `json:"initial_balance" db:"initial_balance"`
	FinalBalance   decimal.Decimal `json:"final_balance" db:"final_balance"`
	TotalReturnPct float64         `json:"total_return_pct" db:"total_return_pct"`
	TotalTrades    int             `json:"total_trades" db:"total_trades"`
	WinRate        float64         `json:"win_rate" db:"win_rate"`
	ProfitFactor   *float64        `json:"profit_factor" db:"profit_factor"` // nil when infinite
	MaxDrawdownPct float64         `json:"max_drawdown_pct" db:"max_drawdown_pct"`
	SharpeRatio    float64         `json:"sharpe_ratio" db:"sharpe_ratio"`
	StartedAt      time.Time       `json:"started_at" db:"started_at"`
	CompletedAt    time.Time       `json:"completed_at" db:"completed_at"`
}

// SeriesRepository loads research inputs and stores backtest runs.
type SeriesRepository struct {
	pool DatabasePool
}

// NewSeriesRepository creates a new series repository.
func NewSeriesRepository(pool DatabasePool) *SeriesRepository {
	return &SeriesRepository{pool: pool}
}

// EnsureSchema creates the research tables when they do not exist.
func (r *SeriesRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create research schema: %w", err)
	}
	return nil
}

// LoadSentiment loads sentiment scores in [from, to) into a table. An empty
// channel list loads every channel.
func (r *SeriesRepository) LoadSentiment(ctx context.Context, channels []string, from, to time.Time) (*models.TimeSeriesTable, error) {
	query := `
		SELECT channel, ts, score
		FROM sentiment_scores
		WHERE ($1::text[] IS NULL OR channel = ANY($1))
		  AND ts >= $2 AND ts < $3
		ORDER BY channel, ts
	`

	var filter interface{}
	if len(channels) > 0 {
		filter = channels
	}

	rows, err := r.pool.Query(ctx, query, filter, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query sentiment scores: %w", err)
	}
	defer rows.Close()

	table := models.NewTimeSeriesTable()
	for rows.Next() {
		var (
			channel string
			ts      time.Time
			score   float64
		)
		if err := rows.Scan(&channel, &ts, &score); err != nil {
			return nil, fmt.Errorf("failed to scan sentiment score: %w", err)
		}
		table.AddPoint(channel, ts.UTC(), score)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sentiment scores: %w", err)
	}
	return table, nil
}

// LoadOHLCV loads bars for a symbol and timeframe in [from, to), oldest first.
func (r *SeriesRepository) LoadOHLCV(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Bar, error) {
	query := `
		SELECT ts, open, high, low, close, volume
		FROM ohlcv
		WHERE symbol = $1 AND timeframe = $2
		  AND ts >= $3 AND ts < $4
		ORDER BY ts ASC
	`

	rows, err := r.pool.Query(ctx, query, symbol, timeframe, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query ohlcv: %w", err)
	}
	defer rows.Close()

	var bars []models.Bar
	for rows.Next() {
		var (
			ts                                  time.Time
			open, high, low, closePrice, volume decimal.Decimal
		)
		if err := rows.Scan(&ts, &open, &high, &low, &closePrice, &volume); err != nil {
			return nil, fmt.Errorf("failed to scan ohlcv row: %w", err)
		}
		bars = append(bars, models.Bar{
			Time:   ts.UTC(),
			Open:   open.InexactFloat64(),
			High:   high.InexactFloat64(),
			Low:    low.InexactFloat64(),
			Close:  closePrice.InexactFloat64(),
			Volume: volume.InexactFloat64(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ohlcv rows: %w", err)
	}
	return bars, nil
}

// SaveBacktestRun stores a run and its trades in one transaction. A result
// without a run ID is assigned a new one.
func (r *SeriesRepository) SaveBacktestRun(ctx context.Context, result *models.BacktestResult) (uuid.UUID, error) {
	runID, err := uuid.Parse(result.RunID)
	if err != nil {
		runID = uuid.New()
		result.RunID = runID.String()
	}

	var profitFactor *float64
	if pf := float64(result.ProfitFactor); !math.IsInf(pf, 0) && !math.IsNaN(pf) {
		profitFactor = &pf
	}

	runQuery := `
		INSERT INTO backtest_runs (
			id, symbol, strategy, initial_balance, final_balance, total_return_pct,
			total_trades, win_rate, profit_factor, max_drawdown_pct, sharpe_ratio,
			started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	_, err = tx.Exec(ctx, runQuery,
		runID,
		result.Symbol,
		result.Strategy,
		decimal.NewFromFloat(result.InitialBalance),
		decimal.NewFromFloat(result.FinalBalance),
		result.TotalReturnPct,
		result.TotalTrades,
		result.WinRate,
		profitFactor,
		result.MaxDrawdownPct,
		result.SharpeRatio,
		result.StartedAt,
		result.CompletedAt,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert backtest run: %w", err)
	}

	tradeQuery := `
		INSERT INTO backtest_trades (
			id, run_id, trade_index, side, entry_time, exit_time, entry_price,
			exit_price, size, pnl, pnl_pct, fees, exit_reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	for i, trade := range result.Trades {
		_, err := tx.Exec(ctx, tradeQuery,
			uuid.New(),
			runID,
			i,
			string(trade.Side),
			trade.EntryTime,
			trade.ExitTime,
			decimal.NewFromFloat(trade.EntryPrice),
			decimal.NewFromFloat(trade.ExitPrice),
			decimal.NewFromFloat(trade.Size),
			decimal.NewFromFloat(trade.PnL),
			trade.PnLPct,
			decimal.NewFromFloat(trade.Fees),
			string(trade.ExitReason),
		)
		if err != nil {
			return uuid.Nil, fmt.Errorf("failed to insert backtest trade %d: %w", i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("failed to commit backtest run: %w", err)
	}
	committed = true
	return runID, nil
}

// ListBacktestRuns returns the most recent stored runs, optionally filtered by
// symbol.
func (r *SeriesRepository) ListBacktestRuns(ctx context.Context, symbol string, limit int) ([]BacktestRunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, symbol, strategy, initial_balance, final_balance, total_return_pct,
		       total_trades, win_rate, profit_factor, max_drawdown_pct, sharpe_ratio,
		       started_at, completed_at
		FROM backtest_runs
		WHERE ($1 = '' OR symbol = $1)
		ORDER BY completed_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query backtest runs: %w", err)
	}
	defer rows.Close()

	runs := make([]BacktestRunSummary, 0)
	for rows.Next() {
		var run BacktestRunSummary
		if err := rows.Scan(
			&run.ID,
			&run.Symbol,
			&run.Strategy,
			&run.InitialBalance,
			&run.FinalBalance,
			&run.TotalReturnPct,
			&run.TotalTrades,
			&run.WinRate,
			&run.ProfitFactor,
			&run.MaxDrawdownPct,
			&run.SharpeRatio,
			&run.StartedAt,
			&run.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan backtest run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read backtest runs: %w", err)
	}
	return runs, nil
}
