package journal

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"navwatch/internal/storage"
)

// Postgres writes entries into the alerts audit table.
type Postgres struct {
	store   storage.AlertStore
	timeout time.Duration
	logger  zerolog.Logger
}

// NewPostgres wraps an alert store.
func NewPostgres(store storage.AlertStore, logger zerolog.Logger) *Postgres {
	return &Postgres{
		store:   store,
		timeout: 5 * time.Second,
		logger:  logger.With().Str("component", "alert_journal_pg").Logger(),
	}
}

// Record inserts the entry; failures are logged only.
func (p *Postgres) Record(ctx context.Context, e Entry) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	rec := storage.AlertRecord{
		InstrumentID:   e.InstrumentID,
		Name:           e.Name,
		Kind:           e.Kind,
		RatePct:        e.Rate,
		ThresholdPct:   e.Threshold,
		MarketPrice:    e.MarketPrice,
		ReferenceValue: e.ReferenceValue,
		Delivered:      e.Delivered,
		Suppressed:     e.Suppressed,
	}
	if e.Error != "" {
		msg := e.Error
		rec.Error = &msg
	}
	if _, err := p.store.InsertAlert(ctx, rec); err != nil {
		p.logger.Error().Err(err).Str("instrument", e.InstrumentID).Msg("failed to persist alert record")
	}
}

// Recent lists audit rows, newest first.
func (p *Postgres) Recent(ctx context.Context, limit int) ([]Entry, error) {
	recs, err := p.store.ListRecentAlerts(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(recs))
	for _, rec := range recs {
		e := Entry{
			At:             rec.CreatedAt,
			InstrumentID:   rec.InstrumentID,
			Name:           rec.Name,
			Kind:           rec.Kind,
			Rate:           rec.RatePct,
			Threshold:      rec.ThresholdPct,
			MarketPrice:    rec.MarketPrice,
			ReferenceValue: rec.ReferenceValue,
			Delivered:      rec.Delivered,
			Suppressed:     rec.Suppressed,
		}
		if rec.Error != nil {
			e.Error = *rec.Error
		}
		out = append(out, e)
	}
	return out, nil
}

// Prune removes audit rows older than maxAge.
func (p *Postgres) Prune(ctx context.Context, maxAge time.Duration, now time.Time) error {
	if maxAge <= 0 {
		return nil
	}
	return p.store.DeleteAlertsBefore(ctx, now.Add(-maxAge))
}

var (
	_ Recorder = (*Postgres)(nil)
	_ Reader   = (*Postgres)(nil)
)
