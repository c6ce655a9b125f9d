package fetcher

import (
	"context"
	"errors"
	"fmt"

	"bolivarwatch/internal/rates"
)

// Kind classifies why a fetch produced no usable quote.
type Kind string

const (
	KindTimeout     Kind = "timeout"
	KindInvalidData Kind = "invalid_data"
	KindUnavailable Kind = "unavailable"
)

// FetchError is the only error type a fetcher returns. Network and parsing
// failures are converted here so the aggregator can continue with partial
// data instead of special-casing transport errors.
type FetchError struct {
	Source rates.Source
	Kind   Kind
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s: %v", e.Source, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// QuoteFetcher retrieves one source's current quote.
type QuoteFetcher interface {
	Source() rates.Source
	Fetch(ctx context.Context) (rates.Quote, error)
}

func classify(source rates.Source, err error) *FetchError {
	kind := KindUnavailable
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return &FetchError{Source: source, Kind: kind, Err: err}
}

func invalidData(source rates.Source, format string, args ...any) *FetchError {
	return &FetchError{Source: source, Kind: KindInvalidData, Err: fmt.Errorf(format, args...)}
}
