// Command kepler-backtest runs a full simulation: it loads bars (from the
// local cache or the configured provider), computes the strategy
// indicators, splits the data into backtest and walk-forward windows,
// scans the backtest window through the trading algorithm, runs the
// analytics pipeline, prints a summary, and persists the result.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"

	"kepler/internal/backtest"
	"kepler/internal/config"
	"kepler/internal/domain"
	"kepler/internal/engine"
	"kepler/internal/gather"
	"kepler/internal/indicator"
	"kepler/internal/store"
	"kepler/internal/strategy"
	"kepler/internal/strategy/builtins"
	"kepler/internal/util"
)

const dateLayout = "2006-01-02"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	walkforward := flag.Bool("walkforward", false, "also run the held-out walk-forward window")
	noPersist := flag.Bool("no-persist", false, "skip writing the result to sqlite/parquet")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	if err := run(context.Background(), cfg, logger, *walkforward, *noPersist); err != nil {
		logger.Error("run failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, walkforward, noPersist bool) error {
	bt := cfg.Backtest

	start, err := time.Parse(dateLayout, bt.Start)
	if err != nil {
		return fmt.Errorf("parsing start date %q: %w", bt.Start, err)
	}
	end, err := time.Parse(dateLayout, bt.End)
	if err != nil {
		return fmt.Errorf("parsing end date %q: %w", bt.End, err)
	}
	extStart, err := time.Parse(dateLayout, bt.ExtendedStart)
	if err != nil {
		return fmt.Errorf("parsing extended start date %q: %w", bt.ExtendedStart, err)
	}

	provider, err := newProvider(cfg, logger)
	if err != nil {
		return err
	}
	barStore := store.NewParquetStore(cfg.Storage.DataDir)

	extBars, err := loadBars(ctx, cfg, barStore, provider, extStart, start.Add(-time.Millisecond))
	if err != nil {
		return fmt.Errorf("loading extended window: %w", err)
	}
	evalBars, err := loadBars(ctx, cfg, barStore, provider, start, end)
	if err != nil {
		return fmt.Errorf("loading evaluated window: %w", err)
	}

	extended := domain.NewSeries(bt.Symbol, extBars)
	evaluated := domain.NewSeries(bt.Symbol, evalBars)

	attachStrategyIndicators(extended, evaluated, bt.FastSMA, bt.SlowSMA)

	registry := strategy.NewRegistry()
	registry.Register(builtins.NewSMACross())
	detector, ok := registry.Get(bt.Strategy)
	if !ok {
		return fmt.Errorf("unknown strategy %q (available: %v)", bt.Strategy, registry.List())
	}

	btSeries, wfSeries := evaluated.Split(bt.SplitFraction)
	logger.Info("windows defined",
		"total", evaluated.Len(), "backtest", btSeries.Len(), "walkforward", wfSeries.Len())

	params := engine.Params{
		InitialCapital: bt.InitialCapital,
		Fee:            bt.Fee,
		Slippage:       bt.Slippage,
		PositionSize:   bt.PositionSize,
		MaxLossPct:     bt.MaxLossPct,
	}

	res, err := runWindow(btSeries, extended, detector, params, logger)
	if err != nil {
		return fmt.Errorf("backtest window: %w", err)
	}
	printSummary("backtest", res)

	if !noPersist {
		if err := persist(ctx, cfg, barStore, res, params); err != nil {
			return err
		}
	}

	if walkforward && wfSeries.Len() > 1 {
		// The walk-forward window's warmup data is everything before it:
		// the extended bars plus the backtest window.
		wfExtended := domain.NewSeries(bt.Symbol, append(append([]domain.Bar{}, extBars...), btSeries.Bars...))

		wfRes, err := runWindow(wfSeries, wfExtended, detector, params, logger)
		if err != nil {
			return fmt.Errorf("walk-forward window: %w", err)
		}
		printSummary("walk-forward", wfRes)

		if !noPersist {
			if err := persist(ctx, cfg, barStore, wfRes, params); err != nil {
				return err
			}
		}
	}

	return nil
}

// runWindow scans one window through a fresh algorithm and runs analytics
// over the finished series.
func runWindow(series, extended *domain.Series, detector strategy.Detector, params engine.Params, logger *slog.Logger) (*backtest.Result, error) {
	algo, err := engine.NewAlgorithm(series, detector, params)
	if err != nil {
		return nil, err
	}
	if err := backtest.NewRunner(logger).Run(algo); err != nil {
		return nil, err
	}

	res := backtest.NewResult(series)
	if err := backtest.Analyze(res, extended, logger); err != nil {
		return nil, err
	}
	return res, nil
}

// newProvider picks the bar provider for the configured venue.
func newProvider(cfg *config.Config, logger *slog.Logger) (gather.BarProvider, error) {
	switch cfg.Data.Venue {
	case "binance":
		return gather.NewBinanceClient(cfg.Data.BinanceBaseURL, cfg.Data.RateLimitPerMin, cfg.Data.MaxRetries, logger), nil
	case "alpaca":
		return gather.NewAlpacaProvider(cfg.Data.AlpacaAPIKey, cfg.Data.AlpacaAPISecret, cfg.Data.AlpacaDataURL, logger), nil
	default:
		return nil, fmt.Errorf("unknown data venue %q", cfg.Data.Venue)
	}
}

// loadBars prefers the local parquet cache and falls back to the provider,
// caching whatever it fetched.
func loadBars(ctx context.Context, cfg *config.Config, barStore store.BarStore, provider gather.BarProvider, start, end time.Time) ([]domain.Bar, error) {
	venue, interval, symbol := cfg.Data.Venue, cfg.Backtest.Interval, cfg.Backtest.Symbol

	cached, err := barStore.ReadBars(ctx, venue, interval, symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("reading bar cache: %w", err)
	}
	if len(cached) > 0 {
		slog.Debug("using cached bars", "symbol", symbol, "count", len(cached))
		return cached, nil
	}

	bars, err := provider.FetchBars(ctx, symbol, interval, start, end)
	if err != nil {
		if errors.Is(err, gather.ErrEmptyResult) {
			return nil, fmt.Errorf("no data available: %w", err)
		}
		return nil, err
	}
	if err := barStore.WriteBars(ctx, venue, interval, symbol, bars); err != nil {
		return nil, fmt.Errorf("caching bars: %w", err)
	}
	return bars, nil
}

// attachStrategyIndicators computes the fast/slow SMAs of the close over
// extended+evaluated, shifts them one period to avoid look-ahead, drops
// the extended head, and attaches the columns to the evaluated series.
func attachStrategyIndicators(extended, evaluated *domain.Series, fastLen, slowLen int) {
	closes := make([]float64, 0, extended.Len()+evaluated.Len())
	for _, b := range extended.Bars {
		closes = append(closes, b.Close)
	}
	for _, b := range evaluated.Bars {
		closes = append(closes, b.Close)
	}

	fast := indicator.Shift(indicator.SMA(closes, fastLen), 1)[extended.Len():]
	slow := indicator.Shift(indicator.SMA(closes, slowLen), 1)[extended.Len():]
	_ = evaluated.SetColumn(builtins.ColumnFastSMA, fast)
	_ = evaluated.SetColumn(builtins.ColumnSlowSMA, slow)
}

// persist writes the run to sqlite and exports the annotated series.
func persist(ctx context.Context, cfg *config.Config, parquetStore *store.ParquetStore, res *backtest.Result, params engine.Params) error {
	resultStore, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return err
	}
	defer resultStore.Close()

	if err := resultStore.SaveResult(ctx, res, params); err != nil {
		return fmt.Errorf("saving run %s: %w", res.ID, err)
	}
	path, err := parquetStore.WriteResultSeries(res)
	if err != nil {
		return err
	}
	slog.Info("result persisted", "run", res.ID, "sqlite", cfg.Storage.SQLitePath, "series", path)
	return nil
}

// printSummary renders the run's summary scalars and regime aggregates.
func printSummary(window string, res *backtest.Result) {
	fmt.Printf("\n%s: %s (run %s)\n", window, res.Symbol, res.ID)

	beta := "undefined (zero market variance)"
	if res.Summary.BetaDefined {
		beta = fmt.Sprintf("%.4f", res.Summary.Beta)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Metric", "Value")
	table.Append("Bars", fmt.Sprintf("%d", res.Series.Len()))
	table.Append("Trades", fmt.Sprintf("%d", len(res.Series.AllTrades())))
	table.Append("Beta", beta)
	table.Append("Total return (USD)", fmt.Sprintf("%.2f", res.Summary.TotalReturnUSD))
	table.Append("Total return (%)", fmt.Sprintf("%.2f", res.Summary.TotalReturnPct))
	for _, label := range []string{backtest.RegimeBull, backtest.RegimeBear} {
		if pct, ok := res.Summary.MarketRegimeAvgReturns[label]; ok {
			table.Append("Avg return, "+label+" (%)", fmt.Sprintf("%.2f", pct))
		}
	}
	for _, label := range []string{backtest.VolatilityLow, backtest.VolatilityMedium, backtest.VolatilityHigh} {
		if pct, ok := res.Summary.VolatilityRegimeAvgReturns[label]; ok {
			table.Append("Avg return, "+label+" vol (%)", fmt.Sprintf("%.2f", pct))
		}
	}
	table.Render()
}
