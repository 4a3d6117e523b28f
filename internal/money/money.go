// Package money implements the line item calculator. All persisted amounts
// are integer cents; percentage and quantity arithmetic runs on
// decimal.Decimal so discount/tax/margin chains never accumulate float
// drift. Rounding to cents happens once per line total and once per tax
// total, never mid-chain.
package money

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidQuantity = errors.New("invalid_quantity")
	ErrInvalidPrice    = errors.New("invalid_price")
	ErrInvalidDiscount = errors.New("invalid_discount")
	ErrInvalidTaxRate  = errors.New("invalid_tax_rate")
)

var hundred = decimal.NewFromInt(100)

// Line carries the fields of a line item the calculator needs.
type Line struct {
	Quantity        decimal.Decimal
	UnitPrice       int64 // cents
	DiscountPercent decimal.Decimal
	Taxable         bool
	OurCost         int64 // cents
}

// Totals is the derived money state of a document.
type Totals struct {
	Subtotal int64 `json:"subtotal"`
	TaxTotal int64 `json:"tax_total"`
	Total    int64 `json:"total"`
}

// Validate rejects lines the calculator is not defined over.
func (l Line) Validate() error {
	if !l.Quantity.IsPositive() {
		return ErrInvalidQuantity
	}
	if l.UnitPrice < 0 || l.OurCost < 0 {
		return ErrInvalidPrice
	}
	if l.DiscountPercent.IsNegative() || l.DiscountPercent.GreaterThan(hundred) {
		return ErrInvalidDiscount
	}
	return nil
}

// ValidRate reports whether a tax rate is within [0, 100].
func ValidRate(rate decimal.Decimal) bool {
	return !rate.IsNegative() && !rate.GreaterThan(hundred)
}

// LineTotal returns quantity * unitPrice * (1 - discount/100) in cents,
// rounded half away from zero.
func LineTotal(l Line) int64 {
	gross := l.Quantity.Mul(decimal.NewFromInt(l.UnitPrice))
	discounted := gross.Mul(hundred.Sub(l.DiscountPercent)).Div(hundred)
	return discounted.Round(0).IntPart()
}

// Subtotal sums line totals. Addition over int64 is order independent.
func Subtotal(lines []Line) int64 {
	var sum int64
	for _, l := range lines {
		sum += LineTotal(l)
	}
	return sum
}

// TaxTotal applies taxRate (percent) to the taxable line totals. The sum is
// accumulated in decimal and rounded to cents once.
func TaxTotal(lines []Line, taxRate decimal.Decimal) int64 {
	taxable := decimal.Zero
	for _, l := range lines {
		if l.Taxable {
			taxable = taxable.Add(decimal.NewFromInt(LineTotal(l)))
		}
	}
	return taxable.Mul(taxRate).Div(hundred).Round(0).IntPart()
}

// GrandTotal is the subtotal plus tax.
func GrandTotal(lines []Line, taxRate decimal.Decimal) int64 {
	return Subtotal(lines) + TaxTotal(lines, taxRate)
}

// Compute derives the full totals for a document.
func Compute(lines []Line, taxRate decimal.Decimal) Totals {
	subtotal := Subtotal(lines)
	tax := TaxTotal(lines, taxRate)
	return Totals{
		Subtotal: subtotal,
		TaxTotal: tax,
		Total:    subtotal + tax,
	}
}

// Margin is the line total minus quantity * ourCost, in cents.
func Margin(l Line) int64 {
	cost := l.Quantity.Mul(decimal.NewFromInt(l.OurCost)).Round(0).IntPart()
	return LineTotal(l) - cost
}

// MarginPercent returns margin over subtotal as a percentage, zero when the
// subtotal is zero.
func MarginPercent(lines []Line) decimal.Decimal {
	subtotal := Subtotal(lines)
	if subtotal == 0 {
		return decimal.Zero
	}
	var margin int64
	for _, l := range lines {
		margin += Margin(l)
	}
	return decimal.NewFromInt(margin).Mul(hundred).Div(decimal.NewFromInt(subtotal))
}

// FormatCents renders cents as a plain decimal string, e.g. 12345 -> "123.45".
func FormatCents(cents int64) string {
	return decimal.NewFromInt(cents).Div(hundred).StringFixed(2)
}
