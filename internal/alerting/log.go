package alerting

import (
	"context"

	"github.com/rs/zerolog"
)

// LogNotifier writes alerts to the process log only. It stands in when no
// chat channel is configured. Nothing reaches a person, so every call fails
// with ErrNoChannel and the instrument is not marked alerted.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier constructs a log-only notifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify logs the alert and returns ErrNoChannel.
func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	n.logger.Warn().
		Str("instrument", note.InstrumentID).
		Str("name", note.Name).
		Str("kind", note.Kind).
		Str("rate_pct", note.Rate.StringFixed(2)).
		Str("threshold_pct", note.Threshold.String()).
		Str("state", note.State).
		Msg(kindTitle(note.Kind))
	return ErrNoChannel
}

var _ Notifier = (*LogNotifier)(nil)
