package builtins

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kepler/internal/domain"
)

// crossSeries builds a two-bar window with the given fast/slow SMA values
// on the previous and current rows.
func crossSeries(t *testing.T, prevFast, prevSlow, curFast, curSlow float64) (prev, cur domain.Row) {
	t.Helper()
	t0 := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := []domain.Bar{
		{OpenTime: t0, Open: 100},
		{OpenTime: t0.AddDate(0, 0, 1), Open: 101},
	}
	s := domain.NewSeries("BTCUSDT", bars)
	require.NoError(t, s.SetColumn(ColumnFastSMA, []float64{prevFast, curFast}))
	require.NoError(t, s.SetColumn(ColumnSlowSMA, []float64{prevSlow, curSlow}))
	return s.Row(0), s.Row(1)
}

func TestDetectEntryCrossover(t *testing.T) {
	d := NewSMACross()
	nan := math.NaN()

	cases := []struct {
		name                                 string
		prevFast, prevSlow, curFast, curSlow float64
		want                                 bool
	}{
		{"crosses above", 9, 10, 11, 10, true},
		{"from equal", 10, 10, 11, 10, true},
		{"already above", 11, 10, 12, 10, false},
		{"stays below", 9, 10, 9.5, 10, false},
		{"touches but does not cross", 9, 10, 10, 10, false},
		{"warmup prev", nan, 10, 11, 10, false},
		{"warmup cur", 9, 10, nan, 10, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			prev, cur := crossSeries(t, tc.prevFast, tc.prevSlow, tc.curFast, tc.curSlow)
			assert.Equal(t, tc.want, d.DetectEntry(prev, cur))
		})
	}
}

func TestDetectExitCrossunder(t *testing.T) {
	d := NewSMACross()
	nan := math.NaN()

	cases := []struct {
		name                                 string
		prevFast, prevSlow, curFast, curSlow float64
		want                                 bool
	}{
		{"crosses below", 11, 10, 9, 10, true},
		{"from equal", 10, 10, 9, 10, true},
		{"already below", 9, 10, 8, 10, false},
		{"stays above", 11, 10, 12, 10, false},
		{"warmup", nan, nan, 9, 10, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			prev, cur := crossSeries(t, tc.prevFast, tc.prevSlow, tc.curFast, tc.curSlow)
			assert.Equal(t, tc.want, d.DetectExit(prev, cur))
		})
	}
}

func TestMissingColumnsNeverSignal(t *testing.T) {
	d := NewSMACross()
	t0 := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	s := domain.NewSeries("BTCUSDT", []domain.Bar{
		{OpenTime: t0, Open: 100},
		{OpenTime: t0.AddDate(0, 0, 1), Open: 101},
	})

	assert.False(t, d.DetectEntry(s.Row(0), s.Row(1)))
	assert.False(t, d.DetectExit(s.Row(0), s.Row(1)))
}
