package engine

import (
	"kepler/internal/domain"
)

// Executor realizes entry and exit transactions: it applies fee and
// slippage, moves capital between the liquid balance and the open
// position, and appends trade events to the bar they fired on.
type Executor struct {
	capital *CapitalManager
	risk    *RiskManager
	series  *domain.Series
}

// NewExecutor creates an Executor wired to the given capital and risk
// managers. All three share the same series.
func NewExecutor(capital *CapitalManager, risk *RiskManager, series *domain.Series) *Executor {
	return &Executor{capital: capital, risk: risk, series: series}
}

// ExecuteEntry opens a position at the row's open price. It withdraws
// positionSize of the liquid capital, applies fee and slippage once, and
// records an entry event on the row's bar. The returned OpenTrade becomes
// the algorithm's current position.
func (ex *Executor) ExecuteEntry(row domain.Row) domain.OpenTrade {
	entryAmount := ex.capital.liquid * ex.risk.positionSize
	ex.capital.liquid -= entryAmount
	entryCapital := entryAmount * (1 - ex.capital.fee - ex.capital.slippage)
	ex.capital.total = ex.capital.liquid + entryCapital

	ev := domain.TradeEvent{
		Kind:         domain.TradeEntry,
		Time:         row.Bar.OpenTime,
		EntryPrice:   row.Bar.Open,
		EntryCapital: entryCapital,
	}
	ex.series.AppendTrade(row.Index, ev)

	return domain.OpenTrade{
		Time:         row.Bar.OpenTime,
		EntryPrice:   row.Bar.Open,
		EntryCapital: entryCapital,
	}
}

// ExecuteExit closes the open position at the row, applying fee and
// slippage once, and returns the realized exit capital to the liquid
// balance.
//
// A stop-limit exit does not observe a market exit price: the policy fixes
// the loss at exactly maxLossPct of entry capital regardless of how far
// the open actually fell below the threshold, so the recorded event
// carries no exit price. A signal exit realizes the position at the row's
// open.
func (ex *Executor) ExecuteExit(open domain.OpenTrade, row domain.Row, stopLimit bool) {
	feeSlip := 1 - (ex.capital.fee + ex.capital.slippage)

	var ev domain.TradeEvent
	if stopLimit {
		ev = domain.TradeEvent{
			Kind:        domain.TradeExitStopLimit,
			Time:        row.Bar.OpenTime,
			ExitCapital: open.EntryCapital * (1 - ex.risk.maxLossPct) * feeSlip,
		}
	} else {
		ev = domain.TradeEvent{
			Kind:        domain.TradeExit,
			Time:        row.Bar.OpenTime,
			ExitPrice:   row.Bar.Open,
			ExitCapital: open.EntryCapital * (row.Bar.Open / open.EntryPrice) * feeSlip,
		}
	}

	ex.series.AppendTrade(row.Index, ev)
	ex.capital.liquid += ev.ExitCapital
	ex.capital.total = ex.capital.liquid
}
