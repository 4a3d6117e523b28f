package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestSettlementStatus(t *testing.T) {
	tests := []struct {
		name       string
		total      int64
		amountPaid int64
		want       Status
	}{
		{"nothing paid", 20000, 0, StatusUnpaid},
		{"negative paid clamps to unpaid", 20000, -100, StatusUnpaid},
		{"partial", 20000, 12000, StatusPartial},
		{"one cent short", 20000, 19999, StatusPartial},
		{"exactly paid", 20000, 20000, StatusPaid},
		{"overpaid still paid", 20000, 20001, StatusPaid},
		{"zero total zero paid", 0, 0, StatusUnpaid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SettlementStatus(tt.total, tt.amountPaid))
		})
	}
}

func TestKindValid(t *testing.T) {
	assert.True(t, KindEstimate.Valid())
	assert.True(t, KindInvoice.Valid())
	assert.False(t, Kind("receipt").Valid())
	assert.False(t, Kind("").Valid())
}

func TestDocumentTotals_DerivedFromItems(t *testing.T) {
	doc := Document{
		TaxRate: decimal.NewFromInt(13),
		// Stored totals are stale on purpose.
		Subtotal: 1,
		TaxTotal: 1,
		Total:    2,
		Items: []LineItem{
			{Quantity: decimal.NewFromInt(1), UnitPrice: 10000, Taxable: true},
		},
	}

	totals := doc.Totals()
	assert.Equal(t, int64(10000), totals.Subtotal)
	assert.Equal(t, int64(1300), totals.TaxTotal)
	assert.Equal(t, int64(11300), totals.Total)
}
