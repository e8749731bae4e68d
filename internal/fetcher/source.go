package fetcher

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// SourceOptions configure the composite source.
type SourceOptions struct {
	// Watchlist restricts polling to these ids. Listed ids missing from the
	// upstream listing are still polled and surface as no-data.
	Watchlist []string
	// StateTimeout bounds the trading-status lookup. The status is informational
	// and never delays or fails the reference fetch.
	StateTimeout time.Duration
}

const defaultStateTimeout = 5 * time.Second

// Composite lists instruments from the market listing and fills in the
// reference value and trading status per instrument.
type Composite struct {
	opts      SourceOptions
	lister    Lister
	reference ReferenceFetcher
	vaults    *Vault
	state     StateFetcher
	logger    zerolog.Logger
	now       func() time.Time
}

// NewComposite wires the source. vaults and state may be nil.
func NewComposite(opts SourceOptions, lister Lister, reference ReferenceFetcher, vaults *Vault, state StateFetcher, logger zerolog.Logger) *Composite {
	if opts.StateTimeout <= 0 {
		opts.StateTimeout = defaultStateTimeout
	}
	return &Composite{
		opts:      opts,
		lister:    lister,
		reference: reference,
		vaults:    vaults,
		state:     state,
		logger:    logger.With().Str("component", "source").Logger(),
		now:       time.Now,
	}
}

// ListInstruments returns the upstream listing filtered by the watchlist.
func (c *Composite) ListInstruments(ctx context.Context) ([]Instrument, error) {
	listed, err := c.lister.ListInstruments(ctx)
	if err != nil {
		return nil, err
	}
	if len(c.opts.Watchlist) == 0 {
		return listed, nil
	}

	byID := make(map[string]Instrument, len(listed))
	for _, inst := range listed {
		byID[inst.ID] = inst
	}

	out := make([]Instrument, 0, len(c.opts.Watchlist))
	for _, id := range c.opts.Watchlist {
		inst, ok := byID[id]
		if !ok {
			c.logger.Debug().Str("instrument", id).Msg("watchlist instrument missing from listing")
			inst = Instrument{ID: id, Name: id}
		}
		out = append(out, inst)
	}
	return out, nil
}

// Fetch fills the quote. The returned quote carries whatever was retrieved even when err is non-nil.
func (c *Composite) Fetch(ctx context.Context, inst Instrument) (Quote, error) {
	quote := Quote{
		Instrument:  inst,
		MarketPrice: inst.LastPrice,
		FetchedAt:   c.now(),
	}

	var states chan string
	if c.state != nil {
		states = make(chan string, 1)
		go func() {
			states <- c.fetchState(ctx, inst.ID)
		}()
	}

	ref, date, err := c.referenceFor(inst.ID).FetchReference(ctx, inst.ID)
	if states != nil {
		quote.State = <-states
	}
	if err != nil {
		if errors.Is(err, ErrNoQuote) {
			return quote, nil
		}
		return quote, err
	}
	quote.ReferenceValue = nullDecimal(ref)
	quote.ReferenceDate = date

	return quote, nil
}

// fetchState is best effort; failures leave the status empty.
func (c *Composite) fetchState(ctx context.Context, id string) string {
	ctx, cancel := context.WithTimeout(ctx, c.opts.StateTimeout)
	defer cancel()

	state, err := c.state.FetchState(ctx, id)
	if err != nil {
		c.logger.Debug().Err(err).Str("instrument", id).Msg("trading state unavailable")
		return ""
	}
	return state
}

func (c *Composite) referenceFor(id string) ReferenceFetcher {
	if c.vaults != nil && c.vaults.Has(id) {
		return c.vaults
	}
	return c.reference
}

// Static serves fixed quotes; used for simulations and tests.
type Static struct {
	Quotes []Quote
}

// NewStatic builds a static source with one instrument.
func NewStatic(id, name string, market, reference decimal.Decimal, state string) *Static {
	inst := Instrument{ID: id, Name: name, LastPrice: nullDecimal(market)}
	return &Static{Quotes: []Quote{{
		Instrument:     inst,
		MarketPrice:    nullDecimal(market),
		ReferenceValue: nullDecimal(reference),
		State:          state,
	}}}
}

// ListInstruments returns the configured instruments.
func (s *Static) ListInstruments(ctx context.Context) ([]Instrument, error) {
	out := make([]Instrument, len(s.Quotes))
	for i, q := range s.Quotes {
		out[i] = q.Instrument
	}
	return out, nil
}

// Fetch returns the configured quote for inst.
func (s *Static) Fetch(ctx context.Context, inst Instrument) (Quote, error) {
	for _, q := range s.Quotes {
		if q.Instrument.ID == inst.ID {
			q.FetchedAt = time.Now()
			return q, nil
		}
	}
	return Quote{Instrument: inst}, ErrNoQuote
}

var (
	_ Source = (*Composite)(nil)
	_ Source = (*Static)(nil)
)
