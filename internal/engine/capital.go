// Package engine implements the trade-simulation core: capital accounting,
// risk limits, trade execution, and the per-bar position state machine that
// coordinates them.
package engine

import (
	"fmt"

	"kepler/internal/domain"
)

// CapitalManager tracks the account's capital. Total capital equals liquid
// capital whenever no trade is open; while a trade is open, total is liquid
// plus the mark-to-market value of the position. Capital moves only through
// the Executor and mark-to-market updates.
type CapitalManager struct {
	total    float64
	liquid   float64
	fee      float64
	slippage float64

	series *domain.Series
}

// NewCapitalManager creates a CapitalManager holding initialCapital. Fee
// and slippage are fractional costs applied once per entry and once per
// exit (0.002 means 0.2%).
//
// The first bar's capital-log cell is pre-seeded with initialCapital: the
// scan starts at the second bar (the first only seeds "previous"), so no
// transition ever logs capital for bar zero.
func NewCapitalManager(initialCapital, fee, slippage float64, series *domain.Series) (*CapitalManager, error) {
	if initialCapital <= 0 {
		return nil, fmt.Errorf("initial capital must be > 0, got %v", initialCapital)
	}
	if fee < 0 || slippage < 0 {
		return nil, fmt.Errorf("fee and slippage must be >= 0, got fee=%v slippage=%v", fee, slippage)
	}
	if series.Len() == 0 {
		return nil, fmt.Errorf("series is empty")
	}

	cm := &CapitalManager{
		total:    initialCapital,
		liquid:   initialCapital,
		fee:      fee,
		slippage: slippage,
		series:   series,
	}
	cm.series.CapitalLog[0] = initialCapital
	return cm, nil
}

// LogCapital writes the current total capital into bar i's capital-log
// cell. It runs first in every per-bar transition so the log always holds
// the capital entering the bar, before any trade state changes.
func (cm *CapitalManager) LogCapital(i int) {
	cm.series.CapitalLog[i] = cm.total
}

// Total returns total capital (liquid plus any open position's
// mark-to-market value).
func (cm *CapitalManager) Total() float64 { return cm.total }

// Liquid returns the capital not committed to an open trade.
func (cm *CapitalManager) Liquid() float64 { return cm.liquid }
