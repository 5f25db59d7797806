package engine

import (
	"fmt"
	"math"

	"kepler/internal/domain"
	"kepler/internal/strategy"
)

// Params are the construction parameters of an Algorithm.
type Params struct {
	InitialCapital float64 // > 0
	Fee            float64 // fractional, >= 0
	Slippage       float64 // fractional, >= 0
	PositionSize   float64 // (0,1], fraction of liquid capital per entry
	MaxLossPct     float64 // (0,1], stop-limit threshold on entry capital
}

// Algorithm is the per-bar position state machine. It owns the "is a trade
// open" state and coordinates signal detection, risk checks, execution,
// and capital logging. At most one position is open at any time.
type Algorithm struct {
	detector strategy.Detector
	capital  *CapitalManager
	risk     *RiskManager
	executor *Executor
	series   *domain.Series

	open *domain.OpenTrade
}

// NewAlgorithm creates an Algorithm over the series with the given
// detector and parameters.
func NewAlgorithm(series *domain.Series, detector strategy.Detector, p Params) (*Algorithm, error) {
	capital, err := NewCapitalManager(p.InitialCapital, p.Fee, p.Slippage, series)
	if err != nil {
		return nil, err
	}
	risk, err := NewRiskManager(p.PositionSize, p.MaxLossPct)
	if err != nil {
		return nil, err
	}

	return &Algorithm{
		detector: detector,
		capital:  capital,
		risk:     risk,
		executor: NewExecutor(capital, risk, series),
		series:   series,
	}, nil
}

// OnBar processes one transition from prev to cur. Capital is logged
// first, so the log always reflects capital entering the bar. While flat,
// an entry signal opens a position; while in a trade, the stop-limit check
// strictly dominates the signal exit, and if neither fires the position is
// only marked to market. At most one trade event fires per transition.
func (a *Algorithm) OnBar(prev, cur domain.Row) error {
	a.capital.LogCapital(cur.Index)

	if a.open == nil {
		if a.detector.DetectEntry(prev, cur) {
			if !(cur.Bar.Open > 0) {
				return fmt.Errorf("entry signal on bar with unusable open price %v", cur.Bar.Open)
			}
			open := a.executor.ExecuteEntry(cur)
			a.open = &open
		}
		return nil
	}

	if math.IsNaN(cur.Bar.Open) {
		return fmt.Errorf("open price missing while trade is open")
	}

	currentLoss := a.risk.CurrentLoss(*a.open, cur.Bar)
	switch {
	case currentLoss >= a.risk.maxLossPct*a.open.EntryCapital:
		a.executor.ExecuteExit(*a.open, cur, true)
		a.open = nil
	case a.detector.DetectExit(prev, cur):
		a.executor.ExecuteExit(*a.open, cur, false)
		a.open = nil
	default:
		// Mark to market only: no trade event, no state change.
		a.capital.total = a.capital.liquid + a.open.EntryCapital*(cur.Bar.Open/a.open.EntryPrice)
	}
	return nil
}

// InTrade reports whether a position is currently open.
func (a *Algorithm) InTrade() bool { return a.open != nil }

// OpenTrade returns a copy of the current open position. The second
// return value is false while flat.
func (a *Algorithm) OpenTrade() (domain.OpenTrade, bool) {
	if a.open == nil {
		return domain.OpenTrade{}, false
	}
	return *a.open, true
}

// Capital returns the capital manager for inspection.
func (a *Algorithm) Capital() *CapitalManager { return a.capital }

// Series returns the series the algorithm runs over.
func (a *Algorithm) Series() *domain.Series { return a.series }
