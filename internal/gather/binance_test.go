package gather

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func klineRow(openMs int64, open, high, low, cls string) string {
	closeMs := openMs + 24*60*60*1000 - 1
	return fmt.Sprintf(`[%d,"%s","%s","%s","%s","1000",%d,"100000",500,"600","60000","0"]`,
		openMs, open, high, low, cls, closeMs)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *BinanceClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewBinanceClient(srv.URL, 60000, 3, nil)
}

func TestFetchBarsParsesKlines(t *testing.T) {
	day := int64(24 * 60 * 60 * 1000)
	t0 := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/klines", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "1d", r.URL.Query().Get("interval"))
		fmt.Fprintf(w, "[%s,%s]",
			klineRow(t0, "100.5", "110.0", "95.0", "105.0"),
			klineRow(t0+day, "105.0", "108.0", "101.0", "102.0"))
	})

	bars, err := c.FetchBars(context.Background(), "BTCUSDT", "1d",
		time.UnixMilli(t0), time.UnixMilli(t0+day))
	require.NoError(t, err)
	require.Len(t, bars, 2)

	assert.Equal(t, time.UnixMilli(t0).UTC(), bars[0].OpenTime)
	assert.Equal(t, 100.5, bars[0].Open)
	assert.Equal(t, 110.0, bars[0].High)
	assert.Equal(t, 95.0, bars[0].Low)
	assert.Equal(t, 105.0, bars[0].Close)
	assert.Equal(t, 1000.0, bars[0].Volume)
	assert.Equal(t, int64(500), bars[0].TradeCount)
	assert.True(t, bars[1].OpenTime.After(bars[0].OpenTime))
}

func TestFetchBarsMalformedCellBecomesNaN(t *testing.T) {
	t0 := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "[%s]", klineRow(t0, "not-a-number", "110.0", "95.0", "105.0"))
	})

	bars, err := c.FetchBars(context.Background(), "BTCUSDT", "1d",
		time.UnixMilli(t0), time.UnixMilli(t0))
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.True(t, math.IsNaN(bars[0].Open))
	assert.Equal(t, 110.0, bars[0].High)
}

func TestFetchBarsEmptyRange(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "[]")
	})

	_, err := c.FetchBars(context.Background(), "BTCUSDT", "1d",
		time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC))
	require.ErrorIs(t, err, ErrEmptyResult)
}

func TestFetchBarsRetriesTransientStatus(t *testing.T) {
	t0 := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"code":-1000,"msg":"internal error"}`)
			return
		}
		fmt.Fprintf(w, "[%s]", klineRow(t0, "100.0", "110.0", "95.0", "105.0"))
	})

	bars, err := c.FetchBars(context.Background(), "BTCUSDT", "1d",
		time.UnixMilli(t0), time.UnixMilli(t0))
	require.NoError(t, err)
	assert.Len(t, bars, 1)
	assert.Equal(t, 2, calls)
}

func TestFetchBarsNonTransientFailsImmediately(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":-1121,"msg":"Invalid symbol."}`)
	})

	_, err := c.FetchBars(context.Background(), "NOPE", "1d",
		time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, -1121, apiErr.Code)
	assert.False(t, apiErr.Transient())
}

func TestFetchBarsPaginates(t *testing.T) {
	day := int64(24 * 60 * 60 * 1000)
	t0 := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	total := klinePageLimit + 5

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var startMs int64
		fmt.Sscanf(r.URL.Query().Get("startTime"), "%d", &startMs)
		// Klines snap to the interval grid, like the real endpoint.
		idx := (startMs - t0 + day - 1) / day

		fmt.Fprint(w, "[")
		n := 0
		for ts := t0 + idx*day; n < klinePageLimit; ts += day {
			if (ts-t0)/day >= int64(total) {
				break
			}
			if n > 0 {
				fmt.Fprint(w, ",")
			}
			fmt.Fprint(w, klineRow(ts, "100.0", "110.0", "95.0", "105.0"))
			n++
		}
		fmt.Fprint(w, "]")
	})

	bars, err := c.FetchBars(context.Background(), "BTCUSDT", "1d",
		time.UnixMilli(t0), time.UnixMilli(t0+int64(total-1)*day))
	require.NoError(t, err)
	require.Len(t, bars, total)

	// Strictly increasing open times across page boundaries.
	for i := 1; i < len(bars); i++ {
		assert.True(t, bars[i].OpenTime.After(bars[i-1].OpenTime), "bar %d", i)
	}
}

func TestAPIErrorClassification(t *testing.T) {
	cases := []struct {
		name string
		err  *APIError
		want bool
	}{
		{"transient code", &APIError{Code: -1021, Status: 400}, true},
		{"rate limited", &APIError{Code: -2010, Status: 429}, true},
		{"server error", &APIError{Status: 503}, true},
		{"bad request", &APIError{Code: -1121, Status: 400}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.err.Transient())
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}
