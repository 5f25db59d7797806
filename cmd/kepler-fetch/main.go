// Command kepler-fetch downloads bars from the configured market data
// provider and stores them in the local parquet cache, so later backtests
// can run offline.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"kepler/internal/config"
	"kepler/internal/gather"
	"kepler/internal/store"
	"kepler/internal/util"
)

const dateLayout = "2006-01-02"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	symbol := flag.String("symbol", "", "symbol to fetch (defaults to backtest.symbol)")
	startStr := flag.String("start", "", "range start, YYYY-MM-DD (defaults to backtest.extended_start)")
	endStr := flag.String("end", "", "range end, YYYY-MM-DD (defaults to backtest.end)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	if *symbol == "" {
		*symbol = cfg.Backtest.Symbol
	}
	if *startStr == "" {
		*startStr = cfg.Backtest.ExtendedStart
	}
	if *endStr == "" {
		*endStr = cfg.Backtest.End
	}

	start, err := time.Parse(dateLayout, *startStr)
	if err != nil {
		logger.Error("bad start date", "value", *startStr, "err", err)
		os.Exit(1)
	}
	end, err := time.Parse(dateLayout, *endStr)
	if err != nil {
		logger.Error("bad end date", "value", *endStr, "err", err)
		os.Exit(1)
	}

	ctx := context.Background()

	var provider gather.BarProvider
	switch cfg.Data.Venue {
	case "binance":
		provider = gather.NewBinanceClient(cfg.Data.BinanceBaseURL, cfg.Data.RateLimitPerMin, cfg.Data.MaxRetries, logger)
	case "alpaca":
		provider = gather.NewAlpacaProvider(cfg.Data.AlpacaAPIKey, cfg.Data.AlpacaAPISecret, cfg.Data.AlpacaDataURL, logger)
	default:
		logger.Error("unknown data venue", "venue", cfg.Data.Venue)
		os.Exit(1)
	}

	bars, err := provider.FetchBars(ctx, *symbol, cfg.Backtest.Interval, start, end)
	if err != nil {
		logger.Error("fetch failed", "symbol", *symbol, "err", err)
		os.Exit(1)
	}

	barStore := store.NewParquetStore(cfg.Storage.DataDir)
	if err := barStore.WriteBars(ctx, cfg.Data.Venue, cfg.Backtest.Interval, *symbol, bars); err != nil {
		logger.Error("cache write failed", "symbol", *symbol, "err", err)
		os.Exit(1)
	}

	logger.Info("bars cached",
		"symbol", *symbol, "interval", cfg.Backtest.Interval, "count", len(bars),
		"first", bars[0].OpenTime.Format(dateLayout), "last", bars[len(bars)-1].OpenTime.Format(dateLayout))
}
