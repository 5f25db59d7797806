// Package store persists bar data and finished backtest results. Raw bars
// live in Parquet files (the local cache the gatherer fills); run
// summaries, trades, and regime aggregates live in SQLite; a run's full
// annotated series can be exported to Parquet for later analysis.
package store

import (
	"context"
	"time"

	"kepler/internal/backtest"
	"kepler/internal/domain"
	"kepler/internal/engine"
)

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars for the symbol under the given
	// venue and interval.
	WriteBars(ctx context.Context, venue, interval, symbol string, bars []domain.Bar) error

	// ReadBars returns the symbol's bars within [start, end].
	ReadBars(ctx context.Context, venue, interval, symbol string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols cached for the venue and
	// interval.
	ListSymbols(ctx context.Context, venue, interval string) ([]string, error)
}

// RunRecord is the stored summary of one finished run.
type RunRecord struct {
	ID             string
	Symbol         string
	Params         engine.Params
	Beta           float64
	BetaDefined    bool
	TotalReturnUSD float64
	TotalReturnPct float64
	CreatedAt      time.Time
}

// ResultStore persists finished backtest results.
type ResultStore interface {
	// SaveResult stores the run summary, its trade log, and its per-regime
	// aggregates in one transaction.
	SaveResult(ctx context.Context, res *backtest.Result, params engine.Params) error

	// GetRun retrieves one run summary and its trades by run ID.
	GetRun(ctx context.Context, id string) (*RunRecord, []domain.TradeEvent, error)

	// ListRuns returns all stored run summaries, newest first.
	ListRuns(ctx context.Context) ([]RunRecord, error)
}
