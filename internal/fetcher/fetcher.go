package fetcher

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNoQuote indicates the upstream has no value for the instrument right now.
var ErrNoQuote = errors.New("fetcher: no quote available")

// Instrument identifies a listed fund.
type Instrument struct {
	ID       string
	Name     string
	Exchange string
	// LastPrice is the latest traded price when the listing carries one.
	LastPrice decimal.NullDecimal
}

// Quote is one poll's view of an instrument. Absent prices mean "not retrievable this cycle".
type Quote struct {
	Instrument     Instrument
	MarketPrice    decimal.NullDecimal
	ReferenceValue decimal.NullDecimal
	ReferenceDate  string
	State          string
	FetchedAt      time.Time
}

// Lister enumerates the instruments to poll, once per cycle.
type Lister interface {
	ListInstruments(ctx context.Context) ([]Instrument, error)
}

// QuoteSource fetches the prices for one instrument.
type QuoteSource interface {
	Fetch(ctx context.Context, inst Instrument) (Quote, error)
}

// Source combines listing and quoting.
type Source interface {
	Lister
	QuoteSource
}

// ReferenceFetcher retrieves the published reference value (NAV) and its date.
type ReferenceFetcher interface {
	FetchReference(ctx context.Context, id string) (decimal.Decimal, string, error)
}

// StateFetcher retrieves the informational trading-status label.
type StateFetcher interface {
	FetchState(ctx context.Context, id string) (string, error)
}

func nullDecimal(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}
