package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func line(qty float64, price int64, discount float64, taxable bool) Line {
	return Line{
		Quantity:        decimal.NewFromFloat(qty),
		UnitPrice:       price,
		DiscountPercent: decimal.NewFromFloat(discount),
		Taxable:         taxable,
	}
}

func TestCompute_SingleTaxableItem(t *testing.T) {
	lines := []Line{line(1, 10000, 0, true)}
	totals := Compute(lines, decimal.NewFromInt(13))

	assert.Equal(t, int64(10000), totals.Subtotal)
	assert.Equal(t, int64(1300), totals.TaxTotal)
	assert.Equal(t, int64(11300), totals.Total)
}

func TestCompute_GrandTotalIsSubtotalPlusTax(t *testing.T) {
	lines := []Line{
		line(2, 4999, 10, true),
		line(1.5, 12000, 0, true),
		line(3, 2500, 25, false),
	}
	rate := decimal.NewFromFloat(8.875)
	totals := Compute(lines, rate)

	assert.Equal(t, totals.Subtotal+totals.TaxTotal, totals.Total)
	assert.Equal(t, Subtotal(lines), totals.Subtotal)
	assert.Equal(t, TaxTotal(lines, rate), totals.TaxTotal)
	assert.Equal(t, GrandTotal(lines, rate), totals.Total)
}

func TestCompute_OrderIndependent(t *testing.T) {
	a := line(2, 4999, 10, true)
	b := line(1.5, 12000, 0, true)
	c := line(3, 2500, 25, false)
	rate := decimal.NewFromFloat(7.25)

	forward := Compute([]Line{a, b, c}, rate)
	reversed := Compute([]Line{c, b, a}, rate)
	shuffled := Compute([]Line{b, a, c}, rate)

	assert.Equal(t, forward, reversed)
	assert.Equal(t, forward, shuffled)
}

func TestLineTotal_Discount(t *testing.T) {
	// 3 * $20.00 with 15% off = $51.00
	got := LineTotal(line(3, 2000, 15, true))
	assert.Equal(t, int64(5100), got)
}

func TestLineTotal_FractionalQuantityRoundsOnce(t *testing.T) {
	// 2.5 hours * $33.33 = $83.325 -> 8333 cents, rounded at the line,
	// not per unit.
	got := LineTotal(line(2.5, 3333, 0, true))
	assert.Equal(t, int64(8333), got)
}

func TestTaxTotal_OnlyTaxableLines(t *testing.T) {
	lines := []Line{
		line(1, 10000, 0, true),
		line(1, 5000, 0, false),
	}
	assert.Equal(t, int64(1300), TaxTotal(lines, decimal.NewFromInt(13)))
}

func TestTaxTotal_AccumulatesBeforeRounding(t *testing.T) {
	// Three taxable lines of $0.33 at 7%: tax is 0.0231 each. Rounding per
	// line would give 2+2+2=6; the correct accumulated tax is 0.0693 -> 7.
	lines := []Line{
		line(1, 33, 0, true),
		line(1, 33, 0, true),
		line(1, 33, 0, true),
	}
	assert.Equal(t, int64(7), TaxTotal(lines, decimal.NewFromInt(7)))
}

func TestMargin(t *testing.T) {
	l := line(2, 10000, 0, true)
	l.OurCost = 6000

	assert.Equal(t, int64(8000), Margin(l))
}

func TestMarginPercent_ZeroSubtotal(t *testing.T) {
	assert.True(t, MarginPercent(nil).IsZero())
}

func TestMarginPercent(t *testing.T) {
	l := line(1, 10000, 0, true)
	l.OurCost = 7500

	got := MarginPercent([]Line{l})
	assert.True(t, got.Equal(decimal.NewFromInt(25)), "got %s", got)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		line Line
		want error
	}{
		{"zero quantity", line(0, 100, 0, true), ErrInvalidQuantity},
		{"negative quantity", line(-1, 100, 0, true), ErrInvalidQuantity},
		{"negative price", line(1, -100, 0, true), ErrInvalidPrice},
		{"discount over 100", line(1, 100, 101, true), ErrInvalidDiscount},
		{"negative discount", line(1, 100, -5, true), ErrInvalidDiscount},
		{"valid", line(1, 100, 100, true), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.want == nil {
				assert.NoError(t, tt.line.Validate())
				return
			}
			assert.ErrorIs(t, tt.line.Validate(), tt.want)
		})
	}
}

func TestValidRate(t *testing.T) {
	assert.True(t, ValidRate(decimal.Zero))
	assert.True(t, ValidRate(decimal.NewFromInt(100)))
	assert.False(t, ValidRate(decimal.NewFromInt(-1)))
	assert.False(t, ValidRate(decimal.NewFromFloat(100.01)))
}

func TestFormatCents(t *testing.T) {
	assert.Equal(t, "113.00", FormatCents(11300))
	assert.Equal(t, "0.07", FormatCents(7))
	assert.Equal(t, "-5.25", FormatCents(-525))
}
