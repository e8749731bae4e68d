package premium

import "github.com/shopspring/decimal"

// RatePlaces is the number of decimal places kept on computed rates.
const RatePlaces int32 = 2

var hundred = decimal.NewFromInt(100)

// Rate holds the premium/discount percentages derived from one quote.
// At most one side is present, except for equal prices where both are zero.
type Rate struct {
	Premium  decimal.NullDecimal
	Discount decimal.NullDecimal
}

// Calculate compares the market price against the reference value.
//
// Missing or zero inputs produce an empty Rate. Rates are rounded half away
// from zero to RatePlaces.
func Calculate(market, reference decimal.NullDecimal) Rate {
	if !market.Valid || !reference.Valid {
		return Rate{}
	}
	if market.Decimal.IsZero() || reference.Decimal.IsZero() {
		return Rate{}
	}

	premium, discount := deviation(market.Decimal, reference.Decimal)

	switch {
	case premium.IsPositive():
		return Rate{Premium: present(premium.Round(RatePlaces))}
	case discount.IsPositive():
		return Rate{Discount: present(discount.Round(RatePlaces))}
	default:
		return Rate{Premium: present(decimal.Zero), Discount: present(decimal.Zero)}
	}
}

// deviation returns the unrounded premium and discount; they are exact negatives.
func deviation(market, reference decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	premium := market.Sub(reference).Div(reference).Mul(hundred)
	discount := reference.Sub(market).Div(reference).Mul(hundred)
	return premium, discount
}

// IsEmpty reports whether neither side carries a value.
func (r Rate) IsEmpty() bool {
	return !r.Premium.Valid && !r.Discount.Valid
}

func present(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}
