// Package domain contains the sales document models shared by the draft
// store, builder, conversion and dispatch services.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/servicepad/servicepad/internal/money"
	"github.com/shopspring/decimal"
)

// Kind distinguishes the two sales document types.
type Kind string

const (
	KindEstimate Kind = "estimate"
	KindInvoice  Kind = "invoice"
)

func (k Kind) Valid() bool {
	return k == KindEstimate || k == KindInvoice
}

// Status covers both lifecycles. Estimates move
// draft -> sent -> (converted | expired). Invoices move
// draft -> sent and from the first ledger mutation onward carry the
// settlement status derived from (total, amountPaid).
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSent      Status = "sent"
	StatusConverted Status = "converted"
	StatusExpired   Status = "expired"
	StatusUnpaid    Status = "unpaid"
	StatusPartial   Status = "partial"
	StatusPaid      Status = "paid"
)

// SettlementStatus is the pure derivation of an invoice's settlement state:
// zero paid -> unpaid, under total -> partial, total or more -> paid.
func SettlementStatus(total, amountPaid int64) Status {
	switch {
	case amountPaid <= 0:
		return StatusUnpaid
	case amountPaid < total:
		return StatusPartial
	default:
		return StatusPaid
	}
}

// LineItem is owned by the draft until saved, then by its document.
type LineItem struct {
	ID              snowflake.ID    `gorm:"primaryKey" json:"id"`
	DocumentID      snowflake.ID    `gorm:"not null;index" json:"document_id"`
	Description     string          `gorm:"type:text;not null" json:"description"`
	Quantity        decimal.Decimal `gorm:"type:decimal(12,3);not null" json:"quantity"`
	UnitPrice       int64           `gorm:"not null" json:"unit_price"`
	DiscountPercent decimal.Decimal `gorm:"type:decimal(5,2);not null;default:0" json:"discount_percent"`
	Taxable         bool            `gorm:"not null;default:true" json:"taxable"`
	OurCost         int64           `gorm:"not null;default:0" json:"our_cost"`
	CreatedAt       time.Time       `gorm:"not null" json:"created_at"`
}

func (LineItem) TableName() string { return "document_items" }

// Line adapts the item for the calculator.
func (i LineItem) Line() money.Line {
	return money.Line{
		Quantity:        i.Quantity,
		UnitPrice:       i.UnitPrice,
		DiscountPercent: i.DiscountPercent,
		Taxable:         i.Taxable,
		OurCost:         i.OurCost,
	}
}

// Lines maps items into calculator lines.
func Lines(items []LineItem) []money.Line {
	lines := make([]money.Line, 0, len(items))
	for _, item := range items {
		lines = append(lines, item.Line())
	}
	return lines
}

// Document is an estimate or invoice. Stored totals are always recomputed
// from Items on save; they never diverge from the derived values.
type Document struct {
	ID                 snowflake.ID    `gorm:"primaryKey" json:"id"`
	Kind               Kind            `gorm:"type:text;not null;uniqueIndex:ux_documents_kind_number" json:"kind"`
	Number             string          `gorm:"type:text;not null;uniqueIndex:ux_documents_kind_number" json:"number"`
	NumberProvisional  bool            `gorm:"not null;default:false" json:"number_provisional"`
	Status             Status          `gorm:"type:text;not null;default:'draft'" json:"status"`
	ClientID           snowflake.ID    `gorm:"index" json:"client_id"`
	JobID              snowflake.ID    `gorm:"index" json:"job_id"`
	TaxRate            decimal.Decimal `gorm:"type:decimal(5,2);not null;default:0" json:"tax_rate"`
	Subtotal           int64           `gorm:"not null;default:0" json:"subtotal"`
	TaxTotal           int64           `gorm:"not null;default:0" json:"tax_total"`
	Total              int64           `gorm:"not null;default:0" json:"total"`
	AmountPaid         int64           `gorm:"not null;default:0" json:"amount_paid"`
	Balance            int64           `gorm:"not null;default:0" json:"balance"`
	Notes              string          `gorm:"type:text" json:"notes"`
	ConvertedInvoiceID *snowflake.ID   `gorm:"index" json:"converted_invoice_id,omitempty"`
	SentAt             *time.Time      `json:"sent_at,omitempty"`
	Items              []LineItem      `gorm:"foreignKey:DocumentID" json:"items"`
	CreatedAt          time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"not null" json:"updated_at"`
}

func (Document) TableName() string { return "documents" }

// Totals recomputes the money state from the in-memory items.
func (d Document) Totals() money.Totals {
	return money.Compute(Lines(d.Items), d.TaxRate)
}
