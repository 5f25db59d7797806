// Package backtest drives the sequential scan of a bar series through the
// trading algorithm and computes post-run performance analytics.
package backtest

import (
	"fmt"
	"log/slog"
	"time"

	"kepler/internal/engine"
)

// SimulationError wraps a failure while processing one bar of the scan. A
// simulation error aborts the entire run: partial backtests are not
// supported, so no state survives the failing bar.
type SimulationError struct {
	Index int
	Time  time.Time
	Err   error
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("simulation failed at bar %d (%s): %v", e.Index, e.Time.Format(time.RFC3339), e.Err)
}

func (e *SimulationError) Unwrap() error { return e.Err }

// Runner scans a bar series in chronological order, invoking the
// algorithm once per bar transition.
type Runner struct {
	log *slog.Logger
}

// NewRunner creates a Runner that logs through the given logger.
func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{log: logger.With("component", "runner")}
}

// Run executes the algorithm over its series. The first bar is consumed
// only to seed "previous" and produces no transition; its capital-log
// cell was pre-seeded at construction. Every later bar runs one
// (previous, current) transition. Any error aborts the run wrapped as a
// SimulationError carrying the offending bar's index and open time.
func (r *Runner) Run(algo *engine.Algorithm) error {
	series := algo.Series()
	if series.Len() < 2 {
		r.log.Warn("series too short to scan", "bars", series.Len())
		return nil
	}

	for i := 1; i < series.Len(); i++ {
		prev, cur := series.Row(i-1), series.Row(i)
		if err := algo.OnBar(prev, cur); err != nil {
			return &SimulationError{Index: i, Time: cur.Bar.OpenTime, Err: err}
		}
	}

	r.log.Info("scan complete",
		"bars", series.Len(),
		"trades", len(series.AllTrades()),
		"total_capital", algo.Capital().Total(),
		"in_trade", algo.InTrade(),
	)
	return nil
}
