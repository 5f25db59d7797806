// Package indicator computes derived series from raw price data. Every
// function returns a slice aligned index-for-index with its input, with
// NaN filling the warmup entries that have no defined value yet. Callers
// deciding trades at a bar's open must Shift the output one step so the
// current bar's own prices never leak into the decision.
package indicator

import "math"

// SMA returns the simple moving average of xs over window n. The first
// n-1 entries are NaN.
func SMA(xs []float64, n int) []float64 {
	out := make([]float64, len(xs))
	if n <= 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}

	var sum float64
	for i := range xs {
		sum += xs[i]
		if i >= n {
			sum -= xs[i-n]
		}
		if i < n-1 {
			out[i] = math.NaN()
			continue
		}
		out[i] = sum / float64(n)
	}
	return out
}

// ATR returns the n-period average true range using Wilder's smoothing,
// seeded with the simple mean of the first n true ranges. The first n-1
// entries are NaN.
func ATR(high, low, close []float64, n int) []float64 {
	out := make([]float64, len(high))
	if n <= 0 || len(high) == 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}

	tr := make([]float64, len(high))
	tr[0] = high[0] - low[0]
	for i := 1; i < len(high); i++ {
		hl := high[i] - low[i]
		hc := math.Abs(high[i] - close[i-1])
		lc := math.Abs(low[i] - close[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}

	var prev float64
	for i := range tr {
		if i < n-1 {
			out[i] = math.NaN()
			continue
		}
		if i == n-1 {
			var sum float64
			for j := 0; j < n; j++ {
				sum += tr[j]
			}
			prev = sum / float64(n)
		} else {
			// Wilder's smoothing: ATR = (prev*(n-1) + TR) / n.
			prev = (prev*float64(n-1) + tr[i]) / float64(n)
		}
		out[i] = prev
	}
	return out
}

// Shift moves values forward by k steps, filling the head with NaN. A
// one-step shift makes position i carry the value computed through bar
// i-1, which is how look-ahead on the current bar is avoided.
func Shift(xs []float64, k int) []float64 {
	out := make([]float64, len(xs))
	for i := range out {
		if i < k {
			out[i] = math.NaN()
			continue
		}
		out[i] = xs[i-k]
	}
	return out
}
