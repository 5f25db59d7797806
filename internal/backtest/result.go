package backtest

import (
	"github.com/google/uuid"

	"kepler/internal/domain"
)

// Summary holds the scalar statistics of a finished run.
type Summary struct {
	// Beta is the systematic-risk coefficient of strategy returns against
	// market returns. It is only meaningful when BetaDefined is true; a
	// window with zero market-return variance leaves it undefined.
	Beta        float64
	BetaDefined bool

	TotalReturnUSD float64
	TotalReturnPct float64

	// Per-regime mean strategy returns, as percentages rounded to two
	// decimals. Regimes with no bars in the window are absent from the map
	// rather than reported as zero.
	MarketRegimeAvgReturns     map[string]float64
	VolatilityRegimeAvgReturns map[string]float64
}

// Result is the unit returned to the caller after a run: the annotated
// series (capital log, trade log, return and regime columns) plus the
// summary scalars. It is read-only once analytics have finished.
type Result struct {
	ID      string
	Symbol  string
	Series  *domain.Series
	Summary Summary
}

// NewResult wraps a finished run's series into a Result with a fresh run
// ID.
func NewResult(series *domain.Series) *Result {
	return &Result{
		ID:     uuid.NewString(),
		Symbol: series.Symbol,
		Series: series,
	}
}
