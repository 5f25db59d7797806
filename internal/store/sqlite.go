package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"kepler/internal/backtest"
	"kepler/internal/domain"
	"kepler/internal/engine"
)

// Compile-time interface check.
var _ ResultStore = (*SQLiteStore)(nil)

// SQLiteStore implements ResultStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id               TEXT PRIMARY KEY,
	symbol           TEXT NOT NULL,
	initial_capital  REAL NOT NULL,
	fee              REAL NOT NULL,
	slippage         REAL NOT NULL,
	position_size    REAL NOT NULL,
	max_loss_pct     REAL NOT NULL,
	beta             REAL,
	total_return_usd REAL NOT NULL,
	total_return_pct REAL NOT NULL,
	created_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS run_trades (
	run_id        TEXT    NOT NULL REFERENCES runs(id),
	seq           INTEGER NOT NULL,
	kind          TEXT    NOT NULL,
	time          TEXT    NOT NULL,
	entry_price   REAL,
	entry_capital REAL,
	exit_price    REAL,
	exit_capital  REAL,
	PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS run_regime_returns (
	run_id         TEXT NOT NULL REFERENCES runs(id),
	regime_type    TEXT NOT NULL,
	label          TEXT NOT NULL,
	avg_return_pct REAL NOT NULL,
	PRIMARY KEY (run_id, regime_type, label)
);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, runs the
// schema, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite at %q: %w", dbPath, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveResult stores the run summary, trade log, and regime aggregates in
// one transaction. An undefined beta is stored as NULL, never as zero.
func (s *SQLiteStore) SaveResult(ctx context.Context, res *backtest.Result, params engine.Params) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	beta := sql.NullFloat64{Float64: res.Summary.Beta, Valid: res.Summary.BetaDefined}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, symbol, initial_capital, fee, slippage, position_size, max_loss_pct,
			beta, total_return_usd, total_return_pct, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ID, res.Symbol,
		params.InitialCapital, params.Fee, params.Slippage, params.PositionSize, params.MaxLossPct,
		beta, res.Summary.TotalReturnUSD, res.Summary.TotalReturnPct,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", res.ID, err)
	}

	for seq, ev := range res.Series.AllTrades() {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO run_trades (run_id, seq, kind, time, entry_price, entry_capital, exit_price, exit_capital)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			res.ID, seq, string(ev.Kind), ev.Time.UTC().Format(time.RFC3339),
			nullableField(ev.Kind == domain.TradeEntry, ev.EntryPrice),
			nullableField(ev.Kind == domain.TradeEntry, ev.EntryCapital),
			nullableField(ev.Kind == domain.TradeExit, ev.ExitPrice),
			nullableField(ev.Kind != domain.TradeEntry, ev.ExitCapital),
		)
		if err != nil {
			return fmt.Errorf("inserting trade %d for run %s: %w", seq, res.ID, err)
		}
	}

	regimes := map[string]map[string]float64{
		"market":     res.Summary.MarketRegimeAvgReturns,
		"volatility": res.Summary.VolatilityRegimeAvgReturns,
	}
	for regimeType, avgs := range regimes {
		for label, pct := range avgs {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO run_regime_returns (run_id, regime_type, label, avg_return_pct)
				VALUES (?, ?, ?, ?)`,
				res.ID, regimeType, label, pct,
			)
			if err != nil {
				return fmt.Errorf("inserting %s regime %q for run %s: %w", regimeType, label, res.ID, err)
			}
		}
	}

	return tx.Commit()
}

// GetRun retrieves one run summary and its trades by run ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunRecord, []domain.TradeEvent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, symbol, initial_capital, fee, slippage, position_size, max_loss_pct,
			beta, total_return_usd, total_return_pct, created_at
		FROM runs WHERE id = ?`, id)

	rec, err := scanRun(row)
	if err != nil {
		return nil, nil, fmt.Errorf("reading run %s: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, time, entry_price, entry_capital, exit_price, exit_capital
		FROM run_trades WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("reading trades for run %s: %w", id, err)
	}
	defer rows.Close()

	var trades []domain.TradeEvent
	for rows.Next() {
		var (
			kind                                           string
			ts                                             string
			entryPrice, entryCapital, exitPrice, exitValue sql.NullFloat64
		)
		if err := rows.Scan(&kind, &ts, &entryPrice, &entryCapital, &exitPrice, &exitValue); err != nil {
			return nil, nil, fmt.Errorf("scanning trade: %w", err)
		}
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing trade time %q: %w", ts, err)
		}
		trades = append(trades, domain.TradeEvent{
			Kind:         domain.TradeKind(kind),
			Time:         t,
			EntryPrice:   entryPrice.Float64,
			EntryCapital: entryCapital.Float64,
			ExitPrice:    exitPrice.Float64,
			ExitCapital:  exitValue.Float64,
		})
	}
	return rec, trades, rows.Err()
}

// ListRuns returns all stored run summaries, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, initial_capital, fee, slippage, position_size, max_loss_pct,
			beta, total_return_usd, total_return_pct, created_at
		FROM runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*RunRecord, error) {
	var (
		rec       RunRecord
		beta      sql.NullFloat64
		createdAt string
	)
	err := row.Scan(&rec.ID, &rec.Symbol,
		&rec.Params.InitialCapital, &rec.Params.Fee, &rec.Params.Slippage,
		&rec.Params.PositionSize, &rec.Params.MaxLossPct,
		&beta, &rec.TotalReturnUSD, &rec.TotalReturnPct, &createdAt)
	if err != nil {
		return nil, err
	}
	rec.Beta = beta.Float64
	rec.BetaDefined = beta.Valid
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		rec.CreatedAt = t
	}
	return &rec, nil
}

func nullableField(valid bool, v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: valid}
}
