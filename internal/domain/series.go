package domain

import (
	"fmt"
	"math"
)

// Series is an ordered sequence of bars plus the derived state appended to
// it over the lifecycle of a run: the per-bar capital log, the per-bar
// ordered trade log, and named float/label columns for indicators, returns,
// and regimes. Bars are never mutated; everything derived is appended
// alongside them.
type Series struct {
	Symbol string
	Bars   []Bar

	// CapitalLog holds total capital as of entering each bar. NaN until
	// written by the capital manager.
	CapitalLog []float64

	trades  [][]TradeEvent
	columns map[string][]float64
	labels  map[string][]string
}

// NewSeries creates a Series over the given bars with an empty trade log
// and a NaN-filled capital log.
func NewSeries(symbol string, bars []Bar) *Series {
	capLog := make([]float64, len(bars))
	for i := range capLog {
		capLog[i] = math.NaN()
	}
	return &Series{
		Symbol:     symbol,
		Bars:       bars,
		CapitalLog: capLog,
		trades:     make([][]TradeEvent, len(bars)),
		columns:    make(map[string][]float64),
		labels:     make(map[string][]string),
	}
}

// Len returns the number of bars.
func (s *Series) Len() int { return len(s.Bars) }

// SetColumn attaches a named float column aligned index-for-index with the
// bars. The column length must match the series length.
func (s *Series) SetColumn(name string, values []float64) error {
	if len(values) != len(s.Bars) {
		return fmt.Errorf("column %q: length %d does not match series length %d", name, len(values), len(s.Bars))
	}
	s.columns[name] = values
	return nil
}

// Column returns the named float column, or nil if it was never set.
func (s *Series) Column(name string) []float64 { return s.columns[name] }

// SetLabels attaches a named label column aligned index-for-index with the
// bars.
func (s *Series) SetLabels(name string, values []string) error {
	if len(values) != len(s.Bars) {
		return fmt.Errorf("label column %q: length %d does not match series length %d", name, len(values), len(s.Bars))
	}
	s.labels[name] = values
	return nil
}

// Labels returns the named label column, or nil if it was never set.
func (s *Series) Labels(name string) []string { return s.labels[name] }

// ColumnNames returns the names of all float columns that have been set.
func (s *Series) ColumnNames() []string {
	names := make([]string, 0, len(s.columns))
	for name := range s.columns {
		names = append(names, name)
	}
	return names
}

// AppendTrade appends a trade event to bar i's trade log. A bar's trade
// log is an ordered sequence, not a single slot.
func (s *Series) AppendTrade(i int, ev TradeEvent) {
	s.trades[i] = append(s.trades[i], ev)
}

// Trades returns the trade events recorded on bar i.
func (s *Series) Trades(i int) []TradeEvent { return s.trades[i] }

// AllTrades returns every trade event in chronological order.
func (s *Series) AllTrades() []TradeEvent {
	var all []TradeEvent
	for _, evs := range s.trades {
		all = append(all, evs...)
	}
	return all
}

// Row returns a view of bar i together with its column values.
func (s *Series) Row(i int) Row {
	return Row{Index: i, Bar: s.Bars[i], series: s}
}

// Split divides the series into a backtest window and a walk-forward
// window. A bar at position i (0-based) belongs to the backtest window
// when its position fraction (i+1)/n is at most frac. Derived columns,
// trade logs, and the capital log are carried into both halves.
func (s *Series) Split(frac float64) (backtest, walkforward *Series) {
	n := len(s.Bars)
	cut := 0
	for i := 0; i < n; i++ {
		if float64(i+1)/float64(n) <= frac {
			cut = i + 1
		}
	}
	return s.slice(0, cut), s.slice(cut, n)
}

// slice returns a sub-series over [lo, hi). Column and log storage is
// shared with the parent; the ranges are disjoint between Split halves so
// mutation of one half never touches the other.
func (s *Series) slice(lo, hi int) *Series {
	sub := &Series{
		Symbol:     s.Symbol,
		Bars:       s.Bars[lo:hi],
		CapitalLog: s.CapitalLog[lo:hi],
		trades:     s.trades[lo:hi],
		columns:    make(map[string][]float64, len(s.columns)),
		labels:     make(map[string][]string, len(s.labels)),
	}
	for name, col := range s.columns {
		sub.columns[name] = col[lo:hi]
	}
	for name, col := range s.labels {
		sub.labels[name] = col[lo:hi]
	}
	return sub
}

// Row is a read view of one bar plus the derived column values at its
// index.
type Row struct {
	Index int
	Bar   Bar

	series *Series
}

// Value returns the named column's value at this row, or NaN when the
// column is missing or not yet warmed up. Signal detectors rely on this:
// a missing indicator reads as NaN, which compares false against
// everything and therefore yields "no signal" rather than a panic.
func (r Row) Value(name string) float64 {
	col := r.series.Column(name)
	if col == nil {
		return math.NaN()
	}
	return col[r.Index]
}
