package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"navwatch/internal/alerting"
	"navwatch/internal/fetcher"
	"navwatch/internal/journal"
	"navwatch/internal/ledger"
	"navwatch/internal/metrics"
	"navwatch/internal/premium"
)

// Outcome describes what a cycle did with one instrument.
type Outcome string

const (
	OutcomeNone           Outcome = "none"
	OutcomeNoData         Outcome = "no_data"
	OutcomeNotified       Outcome = "notified"
	OutcomeSuppressed     Outcome = "suppressed"
	OutcomeDeliveryFailed Outcome = "delivery_failed"
)

// Result is the per-instrument product of a cycle.
type Result struct {
	Quote   fetcher.Quote
	Rate    premium.Rate
	Status  premium.Status
	Outcome Outcome
	Err     error

	pos int
}

// Report summarises a finished cycle.
type Report struct {
	Started    time.Time
	Finished   time.Time
	Thresholds premium.Thresholds
	Results    []Result
}

// Count returns the number of results with outcome o.
func (r Report) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Alerts returns the number of results in an alert status.
func (r Report) Alerts() int {
	n := 0
	for _, res := range r.Results {
		if res.Status.IsAlert() {
			n++
		}
	}
	return n
}

// CycleOptions bound the work of a cycle.
type CycleOptions struct {
	Workers       int
	FetchTimeout  time.Duration
	NotifyTimeout time.Duration
}

// Cycle runs one polling pass over the instrument set.
type Cycle struct {
	opts     CycleOptions
	source   fetcher.Source
	ledger   *ledger.Ledger
	notifier alerting.Notifier
	journal  journal.Recorder
	metrics  *metrics.Metrics
	now      func() time.Time
	logger   zerolog.Logger
}

// NewCycle wires the collaborators of a monitoring pass. led, rec and m may be nil;
// a nil ledger is replaced by a memory-only one.
func NewCycle(opts CycleOptions, source fetcher.Source, led *ledger.Ledger, notifier alerting.Notifier, rec journal.Recorder, m *metrics.Metrics, logger zerolog.Logger) *Cycle {
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 15 * time.Second
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = 10 * time.Second
	}
	if rec == nil {
		rec = journal.Nop{}
	}
	if led == nil {
		led = ledger.New(ledger.Options{}, nil, logger)
	}
	return &Cycle{
		opts:     opts,
		source:   source,
		ledger:   led,
		notifier: notifier,
		journal:  rec,
		metrics:  m,
		now:      time.Now,
		logger:   logger.With().Str("component", "cycle").Logger(),
	}
}

// Stream lists the instruments and processes them on a bounded worker pool.
// Results arrive in completion order; the channel closes once every started
// instrument finished. A listing failure fails the whole cycle.
func (c *Cycle) Stream(ctx context.Context, th premium.Thresholds) (<-chan Result, error) {
	insts, err := c.source.ListInstruments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list instruments: %w", err)
	}
	c.ledger.Refresh(ctx)
	c.logger.Debug().Int("instruments", len(insts)).Msg("cycle started")

	out := make(chan Result)
	go func() {
		defer close(out)

		var g errgroup.Group
		g.SetLimit(c.opts.Workers)
		for i, inst := range insts {
			if ctx.Err() != nil {
				c.logger.Info().Int("remaining", len(insts)-i).Msg("cycle cancelled")
				break
			}
			g.Go(func() error {
				res := c.process(ctx, inst, th)
				res.pos = i
				c.metrics.ObserveOutcome(string(res.Outcome), string(res.Status))
				select {
				case out <- res:
				case <-ctx.Done():
				}
				return nil
			})
		}
		_ = g.Wait()
	}()
	return out, nil
}

// Run drains Stream into a Report ordered like the instrument listing.
func (c *Cycle) Run(ctx context.Context, th premium.Thresholds) (Report, error) {
	report := Report{Started: c.now(), Thresholds: th}

	results, err := c.Stream(ctx, th)
	if err != nil {
		report.Finished = c.now()
		return report, err
	}
	for res := range results {
		report.Results = append(report.Results, res)
	}
	sort.SliceStable(report.Results, func(i, j int) bool {
		return report.Results[i].pos < report.Results[j].pos
	})

	report.Finished = c.now()
	c.metrics.SetLedgerSize(len(c.ledger.Snapshot().Alerted))
	return report, ctx.Err()
}

func (c *Cycle) process(ctx context.Context, inst fetcher.Instrument, th premium.Thresholds) Result {
	fetchCtx, cancel := context.WithTimeout(ctx, c.opts.FetchTimeout)
	quote, err := c.source.Fetch(fetchCtx, inst)
	cancel()
	if quote.Instrument.ID == "" {
		quote.Instrument = inst
	}

	res := Result{Quote: quote, Status: premium.StatusNormal}
	if err != nil {
		res.Outcome = OutcomeNoData
		res.Err = fmt.Errorf("fetch %s: %w", inst.ID, err)
		c.logger.Warn().Err(err).Str("instrument", inst.ID).Msg("fetch failed, treating as no data")
		return res
	}

	res.Rate = premium.Calculate(quote.MarketPrice, quote.ReferenceValue)
	res.Status = premium.Classify(res.Rate, th)
	switch {
	case res.Rate.IsEmpty():
		res.Outcome = OutcomeNoData
		return res
	case !res.Status.IsAlert():
		res.Outcome = OutcomeNone
		return res
	}

	res.Outcome, res.Err = c.alert(ctx, quote, res.Rate, res.Status, th)
	return res
}

// alert runs the claim, notify, mark sequence for one alerting instrument.
func (c *Cycle) alert(ctx context.Context, quote fetcher.Quote, rate premium.Rate, status premium.Status, th premium.Thresholds) (Outcome, error) {
	id := quote.Instrument.ID
	logger := c.logger.With().Str("instrument", id).Str("status", string(status)).Logger()

	alertRate, threshold, _ := premium.AlertRate(status, rate, th)
	note := alerting.Notification{
		InstrumentID:   id,
		Name:           quote.Instrument.Name,
		Kind:           status.Kind(),
		Rate:           alertRate,
		Threshold:      threshold,
		MarketPrice:    quote.MarketPrice.Decimal,
		ReferenceValue: quote.ReferenceValue.Decimal,
		State:          quote.State,
		At:             c.now(),
	}

	claim, err := c.ledger.Acquire(ctx, id)
	if errors.Is(err, ledger.ErrAlerted) || errors.Is(err, ledger.ErrClaimed) {
		logger.Debug().Err(err).Msg("notification suppressed")
		entry := journalEntry(note, nil)
		entry.Delivered = false
		entry.Suppressed = true
		c.journal.Record(ctx, entry)
		return OutcomeSuppressed, nil
	}
	if err != nil {
		return OutcomeDeliveryFailed, fmt.Errorf("acquire ledger claim: %w", err)
	}
	if ctx.Err() != nil {
		claim.Release(context.WithoutCancel(ctx))
		return OutcomeDeliveryFailed, ctx.Err()
	}

	notifyCtx, cancel := context.WithTimeout(ctx, c.opts.NotifyTimeout)
	notifyErr := c.notifier.Notify(notifyCtx, note)
	cancel()

	c.metrics.ObserveNotification(note.Kind, notifyErr == nil)
	c.journal.Record(ctx, journalEntry(note, notifyErr))

	if notifyErr != nil {
		claim.Release(context.WithoutCancel(ctx))
		logger.Warn().Err(notifyErr).Msg("notification failed, will retry next cycle")
		return OutcomeDeliveryFailed, fmt.Errorf("notify %s: %w", id, notifyErr)
	}

	// a delivered alert is marked even if the cycle was cancelled meanwhile
	if !claim.Commit(context.WithoutCancel(ctx)) {
		logger.Info().Msg("day rolled over during delivery, mark dropped")
	}
	logger.Info().Str("rate_pct", alertRate.StringFixed(2)).Msg("alert delivered")
	return OutcomeNotified, nil
}

func journalEntry(note alerting.Notification, err error) journal.Entry {
	e := journal.Entry{
		At:             note.At,
		InstrumentID:   note.InstrumentID,
		Name:           note.Name,
		Kind:           note.Kind,
		Rate:           note.Rate,
		Threshold:      note.Threshold,
		MarketPrice:    note.MarketPrice,
		ReferenceValue: note.ReferenceValue,
		Delivered:      err == nil,
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}
