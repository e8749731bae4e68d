package premium

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func price(v string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: decimal.RequireFromString(v), Valid: true}
}

func assertDecimal(t *testing.T, want string, got decimal.NullDecimal) {
	t.Helper()
	require.True(t, got.Valid, "expected %s, got absent", want)
	assert.True(t, decimal.RequireFromString(want).Equal(got.Decimal), "expected %s, got %s", want, got.Decimal)
}

func TestCalculateMissingInputs(t *testing.T) {
	cases := map[string]struct {
		market, reference decimal.NullDecimal
	}{
		"market absent":    {decimal.NullDecimal{}, price("1.00")},
		"reference absent": {price("1.00"), decimal.NullDecimal{}},
		"both absent":      {decimal.NullDecimal{}, decimal.NullDecimal{}},
		"reference zero":   {price("1.00"), price("0")},
		"market zero":      {price("0"), price("1.00")},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rate := Calculate(tc.market, tc.reference)
			assert.True(t, rate.IsEmpty())
		})
	}
}

func TestCalculateEqualPrices(t *testing.T) {
	for _, v := range []string{"0.001", "1", "1.2345", "250.5"} {
		rate := Calculate(price(v), price(v))
		assertDecimal(t, "0", rate.Premium)
		assertDecimal(t, "0", rate.Discount)
	}
}

func TestCalculatePremium(t *testing.T) {
	rate := Calculate(price("1.10"), price("1.00"))
	assertDecimal(t, "10", rate.Premium)
	assert.False(t, rate.Discount.Valid)
}

func TestCalculateDiscount(t *testing.T) {
	rate := Calculate(price("0.90"), price("1.00"))
	assertDecimal(t, "10", rate.Discount)
	assert.False(t, rate.Premium.Valid)
}

func TestCalculateRoundsHalfAwayFromZero(t *testing.T) {
	rate := Calculate(price("1.00125"), price("1"))
	assertDecimal(t, "0.13", rate.Premium)

	rate = Calculate(price("0.99875"), price("1"))
	assertDecimal(t, "0.13", rate.Discount)

	rate = Calculate(price("1.2"), price("1.1"))
	assertDecimal(t, "9.09", rate.Premium)
}

func TestCalculateExclusive(t *testing.T) {
	pairs := [][2]string{
		{"1.0001", "1"}, {"0.9999", "1"}, {"3.21", "2.87"}, {"2.87", "3.21"}, {"100", "0.5"}, {"0.5", "100"},
	}
	for _, p := range pairs {
		rate := Calculate(price(p[0]), price(p[1]))
		assert.NotEqual(t, rate.Premium.Valid, rate.Discount.Valid, "market=%s reference=%s", p[0], p[1])
	}
}

func TestDeviationSymmetry(t *testing.T) {
	pairs := [][2]string{{"1.10", "1.00"}, {"0.7", "0.9"}, {"1.2345", "1.3333"}, {"7", "3"}}
	for _, p := range pairs {
		premium, discount := deviation(decimal.RequireFromString(p[0]), decimal.RequireFromString(p[1]))
		assert.True(t, premium.Equal(discount.Neg()), "premium %s discount %s", premium, discount)
	}
}

func TestClassifyOrder(t *testing.T) {
	th := NewThresholds(5, 15)

	cases := []struct {
		name string
		rate Rate
		want Status
	}{
		{"premium at threshold", Rate{Premium: price("5")}, StatusPremiumAlert},
		{"premium just below", Rate{Premium: price("4.99")}, StatusPremium},
		{"discount at threshold", Rate{Discount: price("15")}, StatusDiscountAlert},
		{"discount just below", Rate{Discount: price("14.99")}, StatusDiscount},
		{"equal prices", Rate{Premium: price("0"), Discount: price("0")}, StatusNormal},
		{"no data", Rate{}, StatusNormal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.rate, th))
		})
	}
}

func TestClassifyScenarios(t *testing.T) {
	rate := Calculate(price("1.10"), price("1.00"))
	assert.Equal(t, StatusPremiumAlert, Classify(rate, NewThresholds(5, 40)))

	rate = Calculate(price("0.90"), price("1.00"))
	assertDecimal(t, "10", rate.Discount)
	assert.Equal(t, StatusDiscount, Classify(rate, NewThresholds(30, 15)))
}

func TestAlertRate(t *testing.T) {
	th := NewThresholds(5, 15)

	value, limit, ok := AlertRate(StatusDiscountAlert, Rate{Discount: price("20")}, th)
	require.True(t, ok)
	assert.True(t, value.Equal(decimal.NewFromInt(20)))
	assert.True(t, limit.Equal(decimal.NewFromInt(15)))

	_, _, ok = AlertRate(StatusPremium, Rate{Premium: price("2")}, th)
	assert.False(t, ok)
}

func TestStatusKind(t *testing.T) {
	assert.Equal(t, "premium", StatusPremiumAlert.Kind())
	assert.Equal(t, "discount", StatusDiscountAlert.Kind())
	assert.Equal(t, "", StatusNormal.Kind())
	assert.True(t, StatusDiscountAlert.IsAlert())
	assert.False(t, StatusDiscount.IsAlert())
}
