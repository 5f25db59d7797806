package engine

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kepler/internal/domain"
)

// scriptDetector fires entry/exit signals at fixed bar indexes.
type scriptDetector struct {
	entries map[int]bool
	exits   map[int]bool
}

func (d *scriptDetector) Name() string                       { return "script" }
func (d *scriptDetector) DetectEntry(_, cur domain.Row) bool { return d.entries[cur.Index] }
func (d *scriptDetector) DetectExit(_, cur domain.Row) bool  { return d.exits[cur.Index] }

func barsWithOpens(opens ...float64) []domain.Bar {
	bars := make([]domain.Bar, len(opens))
	t0 := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, open := range opens {
		bars[i] = domain.Bar{
			OpenTime:  t0.AddDate(0, 0, i),
			CloseTime: t0.AddDate(0, 0, i+1).Add(-time.Millisecond),
			Open:      open,
			High:      open * 1.02,
			Low:       open * 0.98,
			Close:     open,
		}
	}
	return bars
}

var testParams = Params{
	InitialCapital: 10000,
	Fee:            0.002,
	Slippage:       0.001,
	PositionSize:   0.1,
	MaxLossPct:     0.05,
}

func scan(t *testing.T, algo *Algorithm, series *domain.Series) {
	t.Helper()
	for i := 1; i < series.Len(); i++ {
		require.NoError(t, algo.OnBar(series.Row(i-1), series.Row(i)))
	}
}

func TestCapitalLogSeededAtFirstBar(t *testing.T) {
	series := domain.NewSeries("BTCUSDT", barsWithOpens(100, 100, 100))
	_, err := NewAlgorithm(series, &scriptDetector{}, testParams)
	require.NoError(t, err)

	assert.Equal(t, 10000.0, series.CapitalLog[0])
	assert.True(t, math.IsNaN(series.CapitalLog[1]))
}

func TestEntryWithdrawsAndAppliesCosts(t *testing.T) {
	series := domain.NewSeries("BTCUSDT", barsWithOpens(100, 100, 100))
	det := &scriptDetector{entries: map[int]bool{1: true}}
	algo, err := NewAlgorithm(series, det, testParams)
	require.NoError(t, err)

	scan(t, algo, series)

	// 10% of 10000 withdrawn, then one round of fee+slippage.
	require.True(t, algo.InTrade())
	open, ok := algo.OpenTrade()
	require.True(t, ok)
	assert.InDelta(t, 997.0, open.EntryCapital, 1e-9)
	assert.Equal(t, 100.0, open.EntryPrice)
	assert.InDelta(t, 9000.0, algo.Capital().Liquid(), 1e-9)
	assert.InDelta(t, 9997.0, algo.Capital().Total(), 1e-9)

	evs := series.Trades(1)
	require.Len(t, evs, 1)
	assert.Equal(t, domain.TradeEntry, evs[0].Kind)
	assert.InDelta(t, 997.0, evs[0].EntryCapital, 1e-9)
	assert.Equal(t, series.Bars[1].OpenTime, evs[0].Time)
}

func TestStopLimitExitFixesLoss(t *testing.T) {
	// Entry at 100, then the open drops 6%: the 5% stop-limit fires and
	// the realized loss is exactly 5% of entry capital plus exit costs,
	// regardless of how far past the threshold the open fell.
	series := domain.NewSeries("BTCUSDT", barsWithOpens(100, 100, 94, 94))
	det := &scriptDetector{entries: map[int]bool{1: true}}
	algo, err := NewAlgorithm(series, det, testParams)
	require.NoError(t, err)

	scan(t, algo, series)

	require.False(t, algo.InTrade())
	evs := series.Trades(2)
	require.Len(t, evs, 1)
	assert.Equal(t, domain.TradeExitStopLimit, evs[0].Kind)
	assert.Zero(t, evs[0].ExitPrice) // no exit price is observed

	wantExit := 997.0 * 0.95 * 0.997
	assert.InDelta(t, wantExit, evs[0].ExitCapital, 1e-9)
	assert.InDelta(t, 9000.0+wantExit, algo.Capital().Liquid(), 1e-9)
	assert.InDelta(t, algo.Capital().Liquid(), algo.Capital().Total(), 1e-9)
}

func TestSignalExitRealizesAtOpen(t *testing.T) {
	series := domain.NewSeries("BTCUSDT", barsWithOpens(100, 100, 102, 102))
	det := &scriptDetector{
		entries: map[int]bool{1: true},
		exits:   map[int]bool{2: true},
	}
	algo, err := NewAlgorithm(series, det, testParams)
	require.NoError(t, err)

	scan(t, algo, series)

	require.False(t, algo.InTrade())
	evs := series.Trades(2)
	require.Len(t, evs, 1)
	assert.Equal(t, domain.TradeExit, evs[0].Kind)
	assert.Equal(t, 102.0, evs[0].ExitPrice)

	wantExit := 997.0 * 1.02 * 0.997
	assert.InDelta(t, wantExit, evs[0].ExitCapital, 1e-9)
	assert.InDelta(t, 9000.0+wantExit, algo.Capital().Total(), 1e-9)
}

func TestStopLimitDominatesSignalExit(t *testing.T) {
	// Both the stop-limit and the signal exit fire on bar 2; the
	// stop-limit wins and only one event is recorded.
	series := domain.NewSeries("BTCUSDT", barsWithOpens(100, 100, 94, 94))
	det := &scriptDetector{
		entries: map[int]bool{1: true},
		exits:   map[int]bool{2: true},
	}
	algo, err := NewAlgorithm(series, det, testParams)
	require.NoError(t, err)

	scan(t, algo, series)

	evs := series.Trades(2)
	require.Len(t, evs, 1)
	assert.Equal(t, domain.TradeExitStopLimit, evs[0].Kind)
}

func TestStopLimitBoundaryIsInclusive(t *testing.T) {
	// Open at exactly 95 makes the unrealized loss exactly 5% of entry
	// capital; the >= comparison fires the stop.
	series := domain.NewSeries("BTCUSDT", barsWithOpens(100, 100, 95, 95))
	det := &scriptDetector{entries: map[int]bool{1: true}}
	algo, err := NewAlgorithm(series, det, testParams)
	require.NoError(t, err)

	scan(t, algo, series)

	require.False(t, algo.InTrade())
	require.Len(t, series.Trades(2), 1)
	assert.Equal(t, domain.TradeExitStopLimit, series.Trades(2)[0].Kind)
}

func TestMarkToMarketWithoutSignals(t *testing.T) {
	series := domain.NewSeries("BTCUSDT", barsWithOpens(100, 100, 101))
	det := &scriptDetector{entries: map[int]bool{1: true}}
	algo, err := NewAlgorithm(series, det, testParams)
	require.NoError(t, err)

	scan(t, algo, series)

	// Capital is logged before the bar is processed: bar 2's cell holds
	// the total as of leaving bar 1.
	assert.InDelta(t, 9997.0, series.CapitalLog[2], 1e-9)

	require.True(t, algo.InTrade())
	assert.InDelta(t, 9000.0+997.0*1.01, algo.Capital().Total(), 1e-9)
	assert.InDelta(t, 9000.0, algo.Capital().Liquid(), 1e-9)
	assert.Empty(t, series.Trades(2))
}

func TestSinglePositionInvariant(t *testing.T) {
	// A second entry signal while a trade is open is ignored.
	series := domain.NewSeries("BTCUSDT", barsWithOpens(100, 100, 101, 102))
	det := &scriptDetector{entries: map[int]bool{1: true, 2: true, 3: true}}
	algo, err := NewAlgorithm(series, det, testParams)
	require.NoError(t, err)

	scan(t, algo, series)

	all := series.AllTrades()
	require.Len(t, all, 1)
	assert.Equal(t, domain.TradeEntry, all[0].Kind)
}

func TestRoundTripCapitalIdentity(t *testing.T) {
	// Entry then signal exit at the same price: final capital is the
	// initial capital minus two rounds of costs on the traded slice.
	series := domain.NewSeries("BTCUSDT", barsWithOpens(100, 100, 100, 100))
	det := &scriptDetector{
		entries: map[int]bool{1: true},
		exits:   map[int]bool{2: true},
	}
	algo, err := NewAlgorithm(series, det, testParams)
	require.NoError(t, err)

	scan(t, algo, series)

	want := 9000.0 + 1000.0*0.997*0.997
	assert.InDelta(t, want, algo.Capital().Total(), 1e-6)
	assert.InDelta(t, algo.Capital().Liquid(), algo.Capital().Total(), 1e-6)
}

func TestEntryOnUnusableOpenFails(t *testing.T) {
	series := domain.NewSeries("BTCUSDT", barsWithOpens(100, 0))
	det := &scriptDetector{entries: map[int]bool{1: true}}
	algo, err := NewAlgorithm(series, det, testParams)
	require.NoError(t, err)

	err = algo.OnBar(series.Row(0), series.Row(1))
	require.Error(t, err)
	assert.False(t, algo.InTrade())
}

func TestMissingOpenWhileInTradeFails(t *testing.T) {
	series := domain.NewSeries("BTCUSDT", barsWithOpens(100, 100, math.NaN()))
	det := &scriptDetector{entries: map[int]bool{1: true}}
	algo, err := NewAlgorithm(series, det, testParams)
	require.NoError(t, err)

	require.NoError(t, algo.OnBar(series.Row(0), series.Row(1)))
	require.Error(t, algo.OnBar(series.Row(1), series.Row(2)))
}

func TestParamValidation(t *testing.T) {
	series := domain.NewSeries("BTCUSDT", barsWithOpens(100, 100))
	det := &scriptDetector{}

	bad := []Params{
		{InitialCapital: 0, Fee: 0, Slippage: 0, PositionSize: 0.1, MaxLossPct: 0.05},
		{InitialCapital: 100, Fee: -0.1, Slippage: 0, PositionSize: 0.1, MaxLossPct: 0.05},
		{InitialCapital: 100, Fee: 0, Slippage: 0, PositionSize: 0, MaxLossPct: 0.05},
		{InitialCapital: 100, Fee: 0, Slippage: 0, PositionSize: 1.5, MaxLossPct: 0.05},
		{InitialCapital: 100, Fee: 0, Slippage: 0, PositionSize: 0.1, MaxLossPct: 0},
	}
	for i, p := range bad {
		_, err := NewAlgorithm(series, det, p)
		assert.Error(t, err, "params case %d", i)
	}
}

func TestSuccessiveEntriesShrinkWithLiquid(t *testing.T) {
	// After a losing round trip the liquid balance is smaller, so the next
	// entry commits less capital.
	series := domain.NewSeries("BTCUSDT", barsWithOpens(100, 100, 94, 94, 94, 94))
	det := &scriptDetector{entries: map[int]bool{1: true, 4: true}}
	algo, err := NewAlgorithm(series, det, testParams)
	require.NoError(t, err)

	scan(t, algo, series)

	all := series.AllTrades()
	require.Len(t, all, 3) // entry, stop-limit exit, entry
	first, second := all[0], all[2]
	require.Equal(t, domain.TradeEntry, first.Kind)
	require.Equal(t, domain.TradeEntry, second.Kind)
	assert.Less(t, second.EntryCapital, first.EntryCapital)

	liquidAfterExit := 9000.0 + 997.0*0.95*0.997
	assert.InDelta(t, liquidAfterExit*0.1*0.997, second.EntryCapital, 1e-9)
}
