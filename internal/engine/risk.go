package engine

import (
	"fmt"

	"kepler/internal/domain"
)

// RiskManager holds position sizing and maximum-adverse-excursion limits.
//
//   - positionSize: fraction of current liquid capital committed to a new
//     entry (0.1 means 10%). Sizing keys off liquid capital, not total:
//     after drawdowns successive entries shrink with the liquid balance.
//   - maxLossPct: fraction of entry capital that, once lost mark-to-market,
//     forces a stop-limit exit (0.05 means 5%).
type RiskManager struct {
	positionSize float64
	maxLossPct   float64
}

// NewRiskManager creates a RiskManager. Both parameters must be in (0,1].
func NewRiskManager(positionSize, maxLossPct float64) (*RiskManager, error) {
	if positionSize <= 0 || positionSize > 1 {
		return nil, fmt.Errorf("position size must be in (0,1], got %v", positionSize)
	}
	if maxLossPct <= 0 || maxLossPct > 1 {
		return nil, fmt.Errorf("max loss pct must be in (0,1], got %v", maxLossPct)
	}
	return &RiskManager{positionSize: positionSize, maxLossPct: maxLossPct}, nil
}

// CurrentLoss returns the unrealized dollar loss of the open trade at the
// bar's open price: entryCapital * (1 - open/entryPrice). Positive when
// the price has fallen below the entry.
func (rm *RiskManager) CurrentLoss(open domain.OpenTrade, bar domain.Bar) float64 {
	potential := open.EntryCapital * (bar.Open / open.EntryPrice)
	return open.EntryCapital - potential
}

// PositionSize returns the entry sizing fraction.
func (rm *RiskManager) PositionSize() float64 { return rm.positionSize }

// MaxLossPct returns the stop-limit loss threshold.
func (rm *RiskManager) MaxLossPct() float64 { return rm.maxLossPct }
