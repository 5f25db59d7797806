package gather

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"kepler/internal/domain"
)

// Compile-time interface check.
var _ BarProvider = (*AlpacaProvider)(nil)

// AlpacaProvider fetches daily bars for US equities via the Alpaca
// market-data API. Equities feeds carry no quote-volume or taker-side
// fields; those stay zero on the returned bars.
type AlpacaProvider struct {
	client *marketdata.Client
	log    *slog.Logger
}

// NewAlpacaProvider creates an AlpacaProvider with the given credentials.
// dataURL overrides the SDK's default market-data endpoint when non-empty.
func NewAlpacaProvider(apiKey, apiSecret, dataURL string, logger *slog.Logger) *AlpacaProvider {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AlpacaProvider{
		client: marketdata.NewClient(opts),
		log:    logger.With("provider", "alpaca"),
	}
}

// FetchBars retrieves daily bars for [start, end]. Only the "1d" interval
// is supported; Alpaca is the equities path and the simulator runs it on
// daily data. Returns ErrEmptyResult when the range has no bars.
func (p *AlpacaProvider) FetchBars(ctx context.Context, symbol, interval string, start, end time.Time) ([]domain.Bar, error) {
	if interval != "1d" {
		return nil, fmt.Errorf("alpaca provider supports interval 1d only, got %q", interval)
	}
	_ = ctx // the SDK client manages its own request lifecycle

	alpacaBars, err := p.client.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     start,
		End:       end,
	})
	if err != nil {
		return nil, fmt.Errorf("GetBars %s: %w", symbol, err)
	}
	if len(alpacaBars) == 0 {
		return nil, fmt.Errorf("%s 1d [%s, %s]: %w",
			symbol, start.Format("2006-01-02"), end.Format("2006-01-02"), ErrEmptyResult)
	}

	bars := make([]domain.Bar, 0, len(alpacaBars))
	for _, ab := range alpacaBars {
		bars = append(bars, domain.Bar{
			OpenTime:   ab.Timestamp,
			CloseTime:  ab.Timestamp.Add(24 * time.Hour),
			Open:       ab.Open,
			High:       ab.High,
			Low:        ab.Low,
			Close:      ab.Close,
			Volume:     float64(ab.Volume),
			TradeCount: int64(ab.TradeCount),
		})
	}

	p.log.Debug("fetched bars", "symbol", symbol, "count", len(bars))
	return bars, nil
}
