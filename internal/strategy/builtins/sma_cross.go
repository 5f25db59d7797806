// Package builtins provides built-in signal detector implementations that
// ship with kepler.
package builtins

import (
	"math"

	"kepler/internal/domain"
	"kepler/internal/strategy"
)

// Column names the SMA crossover detector reads. The columns must already
// be shifted one period so that the value at a row was computed without
// that row's own prices.
const (
	ColumnFastSMA = "sma_fast"
	ColumnSlowSMA = "sma_slow"
)

// Compile-time interface check.
var _ strategy.Detector = (*SMACross)(nil)

// SMACross signals entry when the fast SMA crosses above the slow SMA
// between two adjacent rows, and exit when it crosses back below.
type SMACross struct{}

// NewSMACross creates the SMA crossover detector.
func NewSMACross() *SMACross {
	return &SMACross{}
}

// Name returns "sma-cross".
func (s *SMACross) Name() string {
	return "sma-cross"
}

// DetectEntry reports a fast-over-slow crossover: fast was at or below
// slow on the previous row and is above it on the current row. Warmup
// rows carry NaN, and every NaN comparison is false, so the first rows
// never signal.
func (s *SMACross) DetectEntry(prev, cur domain.Row) bool {
	prevFast, prevSlow := prev.Value(ColumnFastSMA), prev.Value(ColumnSlowSMA)
	curFast, curSlow := cur.Value(ColumnFastSMA), cur.Value(ColumnSlowSMA)
	if anyNaN(prevFast, prevSlow, curFast, curSlow) {
		return false
	}
	return prevFast <= prevSlow && curFast > curSlow
}

// DetectExit reports a fast-under-slow crossover.
func (s *SMACross) DetectExit(prev, cur domain.Row) bool {
	prevFast, prevSlow := prev.Value(ColumnFastSMA), prev.Value(ColumnSlowSMA)
	curFast, curSlow := cur.Value(ColumnFastSMA), cur.Value(ColumnSlowSMA)
	if anyNaN(prevFast, prevSlow, curFast, curSlow) {
		return false
	}
	return prevFast >= prevSlow && curFast < curSlow
}

func anyNaN(xs ...float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) {
			return true
		}
	}
	return false
}
