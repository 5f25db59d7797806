package gather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"kepler/internal/domain"
	"kepler/internal/util"
)

const (
	defaultBinanceBase = "https://api.binance.us"

	klinePageLimit = 1000
	baseRetryDelay = time.Second
)

// Compile-time interface check.
var _ BarProvider = (*BinanceClient)(nil)

// BinanceClient fetches historical klines from the Binance REST API. It
// rate-limits requests, retries transient failures with exponential
// backoff, and coerces malformed numeric cells to NaN instead of failing
// the whole fetch.
type BinanceClient struct {
	http        *http.Client
	baseURL     string
	limiter     *rate.Limiter
	maxAttempts int
	log         *slog.Logger
}

// NewBinanceClient creates a BinanceClient against baseURL (the production
// binance.us API when empty), allowing ratePerMin requests per minute and
// maxAttempts tries per request.
func NewBinanceClient(baseURL string, ratePerMin, maxAttempts int, logger *slog.Logger) *BinanceClient {
	if baseURL == "" {
		baseURL = defaultBinanceBase
	}
	if ratePerMin <= 0 {
		ratePerMin = 1200
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BinanceClient{
		http:        &http.Client{Timeout: 15 * time.Second},
		baseURL:     baseURL,
		limiter:     rate.NewLimiter(rate.Limit(float64(ratePerMin)/60.0), 10),
		maxAttempts: maxAttempts,
		log:         logger.With("provider", "binance"),
	}
}

// FetchBars retrieves klines for [start, end], paginating in pages of 1000
// rows. It returns ErrEmptyResult when the provider has no data for the
// range.
func (c *BinanceClient) FetchBars(ctx context.Context, symbol, interval string, start, end time.Time) ([]domain.Bar, error) {
	var bars []domain.Bar
	cursor := start.UnixMilli()
	endMs := end.UnixMilli()

	for cursor <= endMs {
		page, err := c.fetchPage(ctx, symbol, interval, cursor, endMs)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		bars = append(bars, page...)
		cursor = page[len(page)-1].OpenTime.UnixMilli() + 1
		if len(page) < klinePageLimit {
			break
		}
	}

	if len(bars) == 0 {
		return nil, fmt.Errorf("%s %s [%s, %s]: %w",
			symbol, interval, start.Format(time.RFC3339), end.Format(time.RFC3339), ErrEmptyResult)
	}
	return bars, nil
}

// fetchPage requests one kline page, retrying transient failures.
func (c *BinanceClient) fetchPage(ctx context.Context, symbol, interval string, startMs, endMs int64) ([]domain.Bar, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("startTime", strconv.FormatInt(startMs, 10))
	q.Set("endTime", strconv.FormatInt(endMs, 10))
	q.Set("limit", strconv.Itoa(klinePageLimit))
	u := c.baseURL + "/api/v3/klines?" + q.Encode()

	var bars []domain.Bar
	attempt := 0
	err := util.RetryIf(ctx, c.maxAttempts, baseRetryDelay, IsTransient, func() error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		page, err := c.doRequest(ctx, u)
		if err != nil {
			if IsTransient(err) {
				c.log.Warn("transient fetch error, will retry",
					"attempt", attempt, "max", c.maxAttempts, "err", err)
			} else {
				c.log.Error("non-transient fetch error", "err", err)
			}
			return err
		}
		bars = page
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetching klines for %s after %d attempts: %w", symbol, attempt, err)
	}
	return bars, nil
}

// doRequest performs one HTTP round trip and decodes either a kline page
// or a classified provider error.
func (c *BinanceClient) doRequest(ctx context.Context, u string) ([]domain.Bar, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Status: resp.StatusCode, Message: string(body)}
		var payload struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		if json.Unmarshal(body, &payload) == nil && payload.Code != 0 {
			apiErr.Code = payload.Code
			apiErr.Message = payload.Msg
		}
		return nil, apiErr
	}

	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decoding kline payload: %w", err)
	}

	bars := make([]domain.Bar, 0, len(rows))
	for _, row := range rows {
		bar, err := parseKline(row)
		if err != nil {
			return nil, err
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// parseKline converts one kline row. Binance encodes prices and volumes as
// strings; a cell that fails to parse becomes NaN rather than an error.
//
// Row layout: openTime, open, high, low, close, volume, closeTime,
// quoteVolume, tradeCount, takerBuyBase, takerBuyQuote, (ignored).
func parseKline(row []json.RawMessage) (domain.Bar, error) {
	if len(row) < 11 {
		return domain.Bar{}, fmt.Errorf("kline row has %d fields, want at least 11", len(row))
	}

	var openMs, closeMs, tradeCount int64
	if err := json.Unmarshal(row[0], &openMs); err != nil {
		return domain.Bar{}, fmt.Errorf("kline open time: %w", err)
	}
	if err := json.Unmarshal(row[6], &closeMs); err != nil {
		return domain.Bar{}, fmt.Errorf("kline close time: %w", err)
	}
	// A malformed trade count is data, not structure: zero it and move on.
	_ = json.Unmarshal(row[8], &tradeCount)

	return domain.Bar{
		OpenTime:      time.UnixMilli(openMs).UTC(),
		CloseTime:     time.UnixMilli(closeMs).UTC(),
		Open:          stringCell(row[1]),
		High:          stringCell(row[2]),
		Low:           stringCell(row[3]),
		Close:         stringCell(row[4]),
		Volume:        stringCell(row[5]),
		QuoteVolume:   stringCell(row[7]),
		TradeCount:    tradeCount,
		TakerBuyBase:  stringCell(row[9]),
		TakerBuyQuote: stringCell(row[10]),
	}, nil
}

// stringCell decodes a string-encoded numeric cell, returning NaN for
// anything malformed.
func stringCell(raw json.RawMessage) float64 {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}
