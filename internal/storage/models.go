package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// AlertRecord captures one alert detection for auditing: a notification
// attempt, or a detection suppressed because the instrument already alerted.
type AlertRecord struct {
	ID             int64
	InstrumentID   string
	Name           string
	Kind           string
	RatePct        decimal.Decimal
	ThresholdPct   decimal.Decimal
	MarketPrice    decimal.Decimal
	ReferenceValue decimal.Decimal
	Delivered      bool
	Suppressed     bool
	Error          *string
	CreatedAt      time.Time
}

// LedgerState is the persisted daily alert set.
type LedgerState struct {
	Date      string
	Alerted   []string
	UpdatedAt time.Time
}
