// Package domain defines the core data types shared across the simulator:
// OHLCV bars, trade events, open positions, and the annotated bar series
// that every other component operates on.
package domain

import "time"

// TradeKind identifies the kind of trade event recorded on a bar.
type TradeKind string

// Trade event kinds. A stop-limit exit is policy driven: it carries no
// market exit price because the realized capital is fixed by the maximum
// loss threshold rather than observed at the bar's open.
const (
	TradeEntry         TradeKind = "entry"
	TradeExit          TradeKind = "exit"
	TradeExitStopLimit TradeKind = "exit_stop_limit"
)

// Bar is one fixed-interval OHLCV record. Bars are immutable once
// retrieved; derived values (indicators, returns, regimes) live on the
// Series as appended columns, never on the Bar itself.
//
// Numeric fields that could not be parsed from the provider are NaN.
type Bar struct {
	OpenTime      time.Time
	CloseTime     time.Time
	Open          float64
	High          float64
	Low           float64
	Close         float64
	Volume        float64
	QuoteVolume   float64
	TradeCount    int64
	TakerBuyBase  float64
	TakerBuyQuote float64
}

// TradeEvent records one entry or exit, keyed by the open time of the bar
// it fired on. Only the fields relevant to the Kind are populated:
//
//   - TradeEntry: EntryPrice, EntryCapital
//   - TradeExit: ExitPrice, ExitCapital
//   - TradeExitStopLimit: ExitCapital
type TradeEvent struct {
	Kind         TradeKind
	Time         time.Time
	EntryPrice   float64
	EntryCapital float64
	ExitPrice    float64
	ExitCapital  float64
}

// OpenTrade is the single currently open position. The engine holds at
// most one OpenTrade at any time.
type OpenTrade struct {
	Time         time.Time
	EntryPrice   float64
	EntryCapital float64
}
