package alerting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ErrNoChannel reports that no chat channel could take the alert. The
// instrument then stays unmarked and is retried on the next cycle.
var ErrNoChannel = errors.New("no alert channel configured")

// Notification carries the context of one alert.
type Notification struct {
	InstrumentID   string
	Name           string
	Kind           string // "premium" or "discount"
	Rate           decimal.Decimal
	Threshold      decimal.Decimal
	MarketPrice    decimal.Decimal
	ReferenceValue decimal.Decimal
	State          string
	At             time.Time
}

// Notifier delivers alerts. A nil error means the message was delivered.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// Multi fans a notification out to several channels. Delivery succeeds when
// at least one channel accepted it.
type Multi struct {
	channels map[string]Notifier
	order    []string
	logger   zerolog.Logger
}

// NewMulti builds a fan-out notifier.
func NewMulti(logger zerolog.Logger) *Multi {
	return &Multi{
		channels: make(map[string]Notifier),
		logger:   logger.With().Str("component", "alert_multi").Logger(),
	}
}

// Add registers a named channel.
func (m *Multi) Add(name string, n Notifier) {
	if _, ok := m.channels[name]; !ok {
		m.order = append(m.order, name)
	}
	m.channels[name] = n
}

// Len returns the number of registered channels.
func (m *Multi) Len() int {
	return len(m.order)
}

// Notify delivers to every channel.
func (m *Multi) Notify(ctx context.Context, note Notification) error {
	if len(m.order) == 0 {
		return ErrNoChannel
	}

	var errs []error
	delivered := 0
	for _, name := range m.order {
		if err := m.channels[name].Notify(ctx, note); err != nil {
			m.logger.Warn().Err(err).Str("channel", name).Str("instrument", note.InstrumentID).Msg("channel delivery failed")
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		delivered++
	}
	if delivered == 0 {
		return errors.Join(errs...)
	}
	return nil
}

func kindTitle(kind string) string {
	if kind == "premium" {
		return "🔴 溢价告警"
	}
	return "🟢 折价告警"
}

func kindLabel(kind string) string {
	if kind == "premium" {
		return "溢价率"
	}
	return "折价率"
}

// renderMarkdown formats the alert body shared by the chat channels.
func renderMarkdown(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("## %s\n\n", kindTitle(note.Kind)))
	builder.WriteString(fmt.Sprintf("**基金名称:** %s\n\n", note.Name))
	builder.WriteString(fmt.Sprintf("**基金代码:** %s\n\n", note.InstrumentID))
	builder.WriteString(fmt.Sprintf("**基金状态:** %s\n\n", note.State))
	builder.WriteString(fmt.Sprintf("**场内价格:** %s\n\n", note.MarketPrice.StringFixed(4)))
	builder.WriteString(fmt.Sprintf("**场外净值:** %s\n\n", note.ReferenceValue.StringFixed(4)))
	builder.WriteString(fmt.Sprintf("**%s: %s%%** (阈值 %s%%)\n\n", kindLabel(note.Kind), note.Rate.StringFixed(2), note.Threshold.String()))
	if !note.At.IsZero() {
		builder.WriteString(fmt.Sprintf("时间: %s\n\n", note.At.Format("2006-01-02 15:04:05")))
	}
	builder.WriteString("---\n*LOF基金溢价监控*\n")
	return builder.String()
}

var _ Notifier = (*Multi)(nil)
