package store

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"kepler/internal/backtest"
	"kepler/internal/domain"
)

// Compile-time interface check.
var _ BarStore = (*ParquetStore)(nil)

// ParquetStore implements BarStore using Parquet files on disk, and
// exports annotated result series.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a ParquetStore rooted at the given data
// directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// BarRecord is the Parquet schema for cached kline data.
type BarRecord struct {
	OpenTime      int64   `parquet:"open_time,timestamp(millisecond)"` // Unix ms
	CloseTime     int64   `parquet:"close_time,timestamp(millisecond)"`
	Open          float64 `parquet:"open"`
	High          float64 `parquet:"high"`
	Low           float64 `parquet:"low"`
	Close         float64 `parquet:"close"`
	Volume        float64 `parquet:"volume"`
	QuoteVolume   float64 `parquet:"quote_volume"`
	TradeCount    int64   `parquet:"trade_count"`
	TakerBuyBase  float64 `parquet:"taker_buy_base"`
	TakerBuyQuote float64 `parquet:"taker_buy_quote"`
}

// ResultRow is the Parquet schema for one annotated bar of a finished run.
// Undefined cells (warmup returns, unlogged capital) are NaN; same-version
// round-trip only, no cross-version format guarantee.
type ResultRow struct {
	OpenTime         int64   `parquet:"open_time,timestamp(millisecond)"`
	Open             float64 `parquet:"open"`
	High             float64 `parquet:"high"`
	Low              float64 `parquet:"low"`
	Close            float64 `parquet:"close"`
	Volume           float64 `parquet:"volume"`
	CapitalLog       float64 `parquet:"capital_log"`
	StrategyReturn   float64 `parquet:"strategy_return"`
	MarketReturn     float64 `parquet:"market_return"`
	MarketRegime     string  `parquet:"market_regime"`
	VolatilityRegime string  `parquet:"volatility_regime"`
	TradeEvents      int32   `parquet:"trade_events"`
}

// ---------------------------------------------------------------------------
// BarStore implementation
// ---------------------------------------------------------------------------

// WriteBars writes bars to Parquet files grouped by year. Existing records
// are merged and deduplicated by open time, preferring incoming rows.
// Layout: <dataDir>/<venue>/<interval>/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) WriteBars(_ context.Context, venue, interval, symbol string, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	groups := make(map[int][]BarRecord)
	for _, b := range bars {
		year := b.OpenTime.Year()
		groups[year] = append(groups[year], BarRecord{
			OpenTime:      b.OpenTime.UnixMilli(),
			CloseTime:     b.CloseTime.UnixMilli(),
			Open:          b.Open,
			High:          b.High,
			Low:           b.Low,
			Close:         b.Close,
			Volume:        b.Volume,
			QuoteVolume:   b.QuoteVolume,
			TradeCount:    b.TradeCount,
			TakerBuyBase:  b.TakerBuyBase,
			TakerBuyQuote: b.TakerBuyQuote,
		})
	}

	for year, records := range groups {
		path := s.barPath(venue, interval, symbol, year)

		existing, _ := readParquetFile[BarRecord](path)
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%d: %w", symbol, year, err)
		}
	}
	return nil
}

// ReadBars reads cached bars for the symbol within [start, end].
func (s *ParquetStore) ReadBars(_ context.Context, venue, interval, symbol string, start, end time.Time) ([]domain.Bar, error) {
	var bars []domain.Bar
	for year := start.Year(); year <= end.Year(); year++ {
		path := s.barPath(venue, interval, symbol, year)

		records, err := readParquetFile[BarRecord](path)
		if err != nil {
			// No file for this year, skip.
			continue
		}

		for _, r := range records {
			ts := time.UnixMilli(r.OpenTime).UTC()
			if ts.Before(start) || ts.After(end) {
				continue
			}
			bars = append(bars, domain.Bar{
				OpenTime:      ts,
				CloseTime:     time.UnixMilli(r.CloseTime).UTC(),
				Open:          r.Open,
				High:          r.High,
				Low:           r.Low,
				Close:         r.Close,
				Volume:        r.Volume,
				QuoteVolume:   r.QuoteVolume,
				TradeCount:    r.TradeCount,
				TakerBuyBase:  r.TakerBuyBase,
				TakerBuyQuote: r.TakerBuyQuote,
			})
		}
	}
	return bars, nil
}

// ListSymbols lists all symbols cached for the venue and interval.
func (s *ParquetStore) ListSymbols(_ context.Context, venue, interval string) ([]string, error) {
	dir := filepath.Join(s.DataDir, venue, interval)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// ---------------------------------------------------------------------------
// Result series export
// ---------------------------------------------------------------------------

// WriteResultSeries exports the run's annotated series to
// <dataDir>/results/<runID>.parquet and returns the path.
func (s *ParquetStore) WriteResultSeries(res *backtest.Result) (string, error) {
	series := res.Series
	strategyReturns := series.Column(backtest.ColumnStrategyReturns)
	marketReturns := series.Column(backtest.ColumnMarketReturns)
	marketRegime := series.Labels(backtest.LabelMarketRegime)
	volRegime := series.Labels(backtest.LabelVolatilityRegime)

	rows := make([]ResultRow, series.Len())
	for i, b := range series.Bars {
		rows[i] = ResultRow{
			OpenTime:         b.OpenTime.UnixMilli(),
			Open:             b.Open,
			High:             b.High,
			Low:              b.Low,
			Close:            b.Close,
			Volume:           b.Volume,
			CapitalLog:       series.CapitalLog[i],
			StrategyReturn:   columnAt(strategyReturns, i),
			MarketReturn:     columnAt(marketReturns, i),
			MarketRegime:     labelAt(marketRegime, i),
			VolatilityRegime: labelAt(volRegime, i),
			TradeEvents:      int32(len(series.Trades(i))),
		}
	}

	path := filepath.Join(s.DataDir, "results", res.ID+".parquet")
	if err := writeParquetFile(path, rows); err != nil {
		return "", fmt.Errorf("writing result series %s: %w", res.ID, err)
	}
	return path, nil
}

// ---------------------------------------------------------------------------
// Path and file helpers
// ---------------------------------------------------------------------------

// barPath returns the filesystem path for a bar Parquet file.
func (s *ParquetStore) barPath(venue, interval, symbol string, year int) string {
	return filepath.Join(s.DataDir, venue, interval, strings.ToUpper(symbol), fmt.Sprintf("%d.parquet", year))
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeBarRecords deduplicates bar records by open time, preferring
// incoming records over existing ones. Results are sorted by open time.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	seen := make(map[int64]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.OpenTime] = r
	}
	for _, r := range incoming {
		seen[r.OpenTime] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].OpenTime < merged[j].OpenTime
	})
	return merged
}

func columnAt(col []float64, i int) float64 {
	if col == nil {
		return math.NaN()
	}
	return col[i]
}

func labelAt(col []string, i int) string {
	if col == nil {
		return ""
	}
	return col[i]
}
