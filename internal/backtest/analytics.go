package backtest

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"kepler/internal/domain"
	"kepler/internal/indicator"
)

// Column and label names written by the analytics pass.
const (
	ColumnStrategyReturns = "strategy_returns"
	ColumnMarketReturns   = "market_returns"
	LabelMarketRegime     = "market_regime"
	LabelVolatilityRegime = "volatility_regime"
)

// Regime labels.
const (
	RegimeBull = "bull"
	RegimeBear = "bear"

	VolatilityLow    = "low"
	VolatilityMedium = "medium"
	VolatilityHigh   = "high"
)

// Regime indicator windows.
const (
	marketRegimeSMALen   = 200
	volatilityATRLen     = 14
	volatilityBucketSize = 3
)

// ErrUndefinedStatistic reports that a statistic has no defined value for
// the window: beta over zero-variance market returns, or an average over
// an empty regime bucket. Callers must treat this as a reportable
// condition, never coerce it to zero.
var ErrUndefinedStatistic = errors.New("statistic is undefined for this window")

// Analyze runs the full post-processing pipeline over a finished run:
// return series, beta, total returns, regime labels, and per-regime
// aggregates. The extended series must immediately precede the evaluated
// window and be long enough to warm up the regime indicators.
//
// Analyze only reads the capital log and raw bars, and overwrites every
// column it produces, so re-running it on an already annotated result
// yields identical summary scalars.
func Analyze(res *Result, extended *domain.Series, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "analytics", "run", res.ID)
	s := res.Series

	StrategyReturns(s)
	MarketReturns(s)

	beta, err := Beta(s)
	switch {
	case errors.Is(err, ErrUndefinedStatistic):
		log.Warn("beta undefined: market returns have zero variance")
		res.Summary.Beta = 0
		res.Summary.BetaDefined = false
	case err != nil:
		return fmt.Errorf("beta: %w", err)
	default:
		res.Summary.Beta = beta
		res.Summary.BetaDefined = true
	}

	usd, pct, err := TotalReturns(s)
	if err != nil {
		return fmt.Errorf("total returns: %w", err)
	}
	res.Summary.TotalReturnUSD = usd
	res.Summary.TotalReturnPct = pct

	if err := MarketRegime(s, extended); err != nil {
		return fmt.Errorf("market regime: %w", err)
	}
	if err := VolatilityRegime(s, extended); err != nil {
		return fmt.Errorf("volatility regime: %w", err)
	}

	res.Summary.MarketRegimeAvgReturns = RegimeAvgReturns(s, LabelMarketRegime)
	res.Summary.VolatilityRegimeAvgReturns = RegimeAvgReturns(s, LabelVolatilityRegime)

	log.Info("analytics complete",
		"beta_defined", res.Summary.BetaDefined,
		"total_return_usd", res.Summary.TotalReturnUSD,
		"total_return_pct", res.Summary.TotalReturnPct,
	)
	return nil
}

// StrategyReturns writes the per-bar fractional change of the capital log
// into the strategy-returns column. The first bar has no prior and stays
// NaN.
func StrategyReturns(s *domain.Series) {
	returns := fractionalChange(s.CapitalLog)
	_ = s.SetColumn(ColumnStrategyReturns, returns)
}

// MarketReturns writes the per-bar fractional change of the open price
// into the market-returns column.
func MarketReturns(s *domain.Series) {
	opens := make([]float64, s.Len())
	for i, b := range s.Bars {
		opens[i] = b.Open
	}
	_ = s.SetColumn(ColumnMarketReturns, fractionalChange(opens))
}

// Beta returns cov(strategy, market) / var(market) over the window,
// using pairwise-complete observations. It returns ErrUndefinedStatistic
// when the market returns have zero variance or fewer than two complete
// pairs exist.
func Beta(s *domain.Series) (float64, error) {
	strat := s.Column(ColumnStrategyReturns)
	market := s.Column(ColumnMarketReturns)
	if strat == nil || market == nil {
		return 0, fmt.Errorf("return columns not computed")
	}

	var xs, ys []float64
	for i := range strat {
		if math.IsNaN(strat[i]) || math.IsNaN(market[i]) {
			continue
		}
		xs = append(xs, strat[i])
		ys = append(ys, market[i])
	}
	if len(xs) < 2 {
		return 0, ErrUndefinedStatistic
	}

	meanX, meanY := mean(xs), mean(ys)
	var cov, varY float64
	for i := range xs {
		cov += (xs[i] - meanX) * (ys[i] - meanY)
		varY += (ys[i] - meanY) * (ys[i] - meanY)
	}
	if varY == 0 {
		return 0, ErrUndefinedStatistic
	}
	return cov / varY, nil
}

// TotalReturns returns the absolute and percentage change between the
// first and last capital-log values, rounded to two decimals.
func TotalReturns(s *domain.Series) (usd, pct float64, err error) {
	if s.Len() == 0 {
		return 0, 0, fmt.Errorf("series is empty")
	}
	first := s.CapitalLog[0]
	last := s.CapitalLog[s.Len()-1]
	if math.IsNaN(first) || math.IsNaN(last) {
		return 0, 0, fmt.Errorf("capital log not populated")
	}
	usd = round2(last - first)
	pct = round2((last - first) / first * 100)
	return usd, pct, nil
}

// MarketRegime labels each bar bull or bear: bull when the open price is
// above the 200-period SMA of the open, shifted one period to avoid
// look-ahead. The SMA warms up over the extended series, whose head is
// discarded before labels are emitted; a bar whose shifted SMA is still
// undefined labels bear, matching the strict "above" test.
func MarketRegime(s *domain.Series, extended *domain.Series) error {
	opens := combinedField(extended, s, func(b domain.Bar) float64 { return b.Open })
	sma := indicator.Shift(indicator.SMA(opens, marketRegimeSMALen), 1)
	sma = sma[extended.Len():]

	labels := make([]string, s.Len())
	for i, b := range s.Bars {
		if b.Open > sma[i] {
			labels[i] = RegimeBull
		} else {
			labels[i] = RegimeBear
		}
	}
	return s.SetLabels(LabelMarketRegime, labels)
}

// VolatilityRegime labels each bar low, medium, or high by splitting the
// 14-period ATR (shifted one period, warmed up over the extended series)
// into equal-size terciles.
//
// The tercile cut points are quantiles of the ATR over the entire
// evaluated window, a whole-window statistic rather than a rolling one, so a
// bar's label depends on ATR values that come after it.
func VolatilityRegime(s *domain.Series, extended *domain.Series) error {
	highs := combinedField(extended, s, func(b domain.Bar) float64 { return b.High })
	lows := combinedField(extended, s, func(b domain.Bar) float64 { return b.Low })
	closes := combinedField(extended, s, func(b domain.Bar) float64 { return b.Close })

	atr := indicator.Shift(indicator.ATR(highs, lows, closes, volatilityATRLen), 1)
	atr = atr[extended.Len():]

	var defined []float64
	for _, v := range atr {
		if !math.IsNaN(v) {
			defined = append(defined, v)
		}
	}
	labels := make([]string, s.Len())
	if len(defined) == 0 {
		return s.SetLabels(LabelVolatilityRegime, labels)
	}

	sort.Float64s(defined)
	q1 := quantile(defined, 1.0/volatilityBucketSize)
	q2 := quantile(defined, 2.0/volatilityBucketSize)

	for i, v := range atr {
		switch {
		case math.IsNaN(v):
			labels[i] = ""
		case v <= q1:
			labels[i] = VolatilityLow
		case v <= q2:
			labels[i] = VolatilityMedium
		default:
			labels[i] = VolatilityHigh
		}
	}
	return s.SetLabels(LabelVolatilityRegime, labels)
}

// RegimeAvgReturns returns the mean strategy return per regime label, as
// percentages rounded to two decimals. Bars with an undefined return or an
// empty label are skipped; a regime that never occurs is absent from the
// map rather than zero.
func RegimeAvgReturns(s *domain.Series, labelColumn string) map[string]float64 {
	labels := s.Labels(labelColumn)
	returns := s.Column(ColumnStrategyReturns)
	if labels == nil || returns == nil {
		return map[string]float64{}
	}

	sums := make(map[string]float64)
	counts := make(map[string]int)
	for i, label := range labels {
		if label == "" || math.IsNaN(returns[i]) {
			continue
		}
		sums[label] += returns[i]
		counts[label]++
	}

	avgs := make(map[string]float64, len(sums))
	for label, sum := range sums {
		avgs[label] = round2(sum / float64(counts[label]) * 100)
	}
	return avgs
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// fractionalChange returns (x[t] - x[t-1]) / x[t-1], NaN at t=0.
func fractionalChange(xs []float64) []float64 {
	out := make([]float64, len(xs))
	if len(xs) > 0 {
		out[0] = math.NaN()
	}
	for i := 1; i < len(xs); i++ {
		out[i] = (xs[i] - xs[i-1]) / xs[i-1]
	}
	return out
}

// combinedField concatenates a bar field over extended followed by the
// evaluated series.
func combinedField(extended, s *domain.Series, field func(domain.Bar) float64) []float64 {
	out := make([]float64, 0, extended.Len()+s.Len())
	for _, b := range extended.Bars {
		out = append(out, field(b))
	}
	for _, b := range s.Bars {
		out = append(out, field(b))
	}
	return out
}

// quantile returns the q-quantile of sorted xs with linear interpolation
// between closest ranks.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[lo+1]*frac
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
