package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Entry is one alert detection: a notification attempt, or a detection
// suppressed because the instrument already alerted today.
type Entry struct {
	At             time.Time       `json:"at"`
	InstrumentID   string          `json:"instrument_id"`
	Name           string          `json:"name"`
	Kind           string          `json:"kind"`
	Rate           decimal.Decimal `json:"rate"`
	Threshold      decimal.Decimal `json:"threshold"`
	MarketPrice    decimal.Decimal `json:"market_price"`
	ReferenceValue decimal.Decimal `json:"reference_value"`
	Delivered      bool            `json:"delivered"`
	Suppressed     bool            `json:"suppressed,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// Line renders the entry in the classic alerts.log form.
func (e Entry) Line() string {
	label, rateLabel := "折价告警", "折价率"
	if e.Kind == "premium" {
		label, rateLabel = "溢价告警", "溢价率"
	}
	line := fmt.Sprintf("[%s] [%s] %s(%s) %s: %s%% (阈值: %s%%)",
		e.At.Format("2006-01-02 15:04:05"), label, e.Name, e.InstrumentID,
		rateLabel, e.Rate.StringFixed(2), e.Threshold.String())
	switch {
	case e.Suppressed:
		line += " 今日已告警"
	case !e.Delivered:
		line += " 发送失败"
	}
	return line
}

// Recorder stores journal entries. Record never fails the caller.
type Recorder interface {
	Record(ctx context.Context, entry Entry)
}

// Reader lists recent entries, newest first.
type Reader interface {
	Recent(ctx context.Context, limit int) ([]Entry, error)
}

// Fanout records into every recorder.
type Fanout []Recorder

// Record implements Recorder.
func (f Fanout) Record(ctx context.Context, entry Entry) {
	for _, r := range f {
		if r != nil {
			r.Record(ctx, entry)
		}
	}
}

// Nop discards entries.
type Nop struct{}

// Record implements Recorder.
func (Nop) Record(context.Context, Entry) {}

// logRecorder mirrors entries into the process log.
type logRecorder struct {
	logger zerolog.Logger
}

// NewLogRecorder writes every entry as a structured log event.
func NewLogRecorder(logger zerolog.Logger) Recorder {
	return logRecorder{logger: logger.With().Str("component", "alert_journal").Logger()}
}

func (l logRecorder) Record(_ context.Context, e Entry) {
	event := l.logger.Info()
	if !e.Delivered && !e.Suppressed {
		event = l.logger.Warn().Str("error", e.Error)
	}
	event.Str("instrument", e.InstrumentID).
		Str("kind", e.Kind).
		Str("rate_pct", e.Rate.StringFixed(2)).
		Bool("delivered", e.Delivered).
		Bool("suppressed", e.Suppressed).
		Msg(e.Line())
}
