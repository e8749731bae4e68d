package premium

import "github.com/shopspring/decimal"

// Status classifies a Rate against the configured thresholds.
type Status string

const (
	StatusPremiumAlert  Status = "premium_alert"
	StatusDiscountAlert Status = "discount_alert"
	StatusPremium       Status = "premium"
	StatusDiscount      Status = "discount"
	StatusNormal        Status = "normal"
)

// IsAlert reports whether the status requires a notification.
func (s Status) IsAlert() bool {
	return s == StatusPremiumAlert || s == StatusDiscountAlert
}

// Kind names the alert direction used in notifications ("premium" / "discount").
func (s Status) Kind() string {
	switch s {
	case StatusPremiumAlert, StatusPremium:
		return "premium"
	case StatusDiscountAlert, StatusDiscount:
		return "discount"
	default:
		return ""
	}
}

// Thresholds are inclusive percentage limits, e.g. 30 means 30%.
type Thresholds struct {
	Premium  decimal.Decimal
	Discount decimal.Decimal
}

// NewThresholds builds thresholds from float percentages.
func NewThresholds(premium, discount float64) Thresholds {
	return Thresholds{Premium: decimal.NewFromFloat(premium), Discount: decimal.NewFromFloat(discount)}
}

// Classify evaluates the rate in fixed order; absent sides count as zero.
func Classify(rate Rate, th Thresholds) Status {
	premium := orZero(rate.Premium)
	discount := orZero(rate.Discount)

	switch {
	case premium.GreaterThanOrEqual(th.Premium):
		return StatusPremiumAlert
	case discount.GreaterThanOrEqual(th.Discount):
		return StatusDiscountAlert
	case premium.IsPositive():
		return StatusPremium
	case discount.IsPositive():
		return StatusDiscount
	default:
		return StatusNormal
	}
}

// AlertRate returns the rate and threshold that triggered an alert status.
func AlertRate(status Status, rate Rate, th Thresholds) (decimal.Decimal, decimal.Decimal, bool) {
	switch status {
	case StatusPremiumAlert:
		return orZero(rate.Premium), th.Premium, true
	case StatusDiscountAlert:
		return orZero(rate.Discount), th.Discount, true
	default:
		return decimal.Zero, decimal.Zero, false
	}
}

func orZero(d decimal.NullDecimal) decimal.Decimal {
	if !d.Valid {
		return decimal.Zero
	}
	return d.Decimal
}
