// Package gather retrieves historical bar data from market-data providers.
// It owns the retrieval boundary: transient provider failures are retried
// with exponential backoff here, raw provider errors never leak to the
// core, and an empty (but successful) result is an explicit condition the
// caller checks rather than an error.
package gather

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kepler/internal/domain"
)

// BarProvider fetches ordered historical bars for one symbol and interval.
// The returned bars have unique, strictly increasing open times.
type BarProvider interface {
	FetchBars(ctx context.Context, symbol, interval string, start, end time.Time) ([]domain.Bar, error)
}

// ErrEmptyResult reports that retrieval succeeded but the provider has no
// data for the requested range. Downstream must check for it before
// proceeding; it is a condition, not a failure.
var ErrEmptyResult = errors.New("provider returned no bars for the requested range")

// Transient provider error codes: internal error, disconnect, server-side
// rate limit, client-side rate limit, timestamp skew. Anything else is
// non-transient and propagates immediately.
var transientCodes = map[int]bool{
	-1000: true,
	-1001: true,
	-1008: true,
	-1015: true,
	-1021: true,
}

// APIError is a classified provider error.
type APIError struct {
	Code    int
	Message string
	Status  int // HTTP status
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider error %d (http %d): %s", e.Code, e.Status, e.Message)
}

// Transient reports whether the error is worth retrying: a known transient
// provider code, an HTTP 429, or a server-side 5xx.
func (e *APIError) Transient() bool {
	if transientCodes[e.Code] {
		return true
	}
	return e.Status == 429 || e.Status >= 500
}

// IsTransient reports whether err is a retryable provider error. Network
// errors without a provider classification count as transient.
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	// No provider classification: connection-level failure, retry.
	return true
}
