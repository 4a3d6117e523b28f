// Package domain contains the payment ledger models. Every ledger field on
// an invoice (amountPaid, balance, settlement status) is derivable from the
// payment history alone; the stored values are a cache the ledger keeps in
// sync on every mutation.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	docdomain "github.com/servicepad/servicepad/internal/document/domain"
)

type Status string

const (
	StatusPaid     Status = "paid"
	StatusRefunded Status = "refunded"
	StatusDisputed Status = "disputed"
)

// Payment is one ledger entry against an invoice. A refunded payment stays
// in the table with its status flipped; only paid payments count toward the
// invoice's amountPaid.
type Payment struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	InvoiceID      snowflake.ID `gorm:"not null;index" json:"invoice_id"`
	Amount         int64        `gorm:"not null" json:"amount"`
	Method         string       `gorm:"type:text;not null" json:"method"`
	Reference      string       `gorm:"type:text" json:"reference"`
	Notes          string       `gorm:"type:text" json:"notes"`
	Status         Status       `gorm:"type:text;not null;default:'paid'" json:"status"`
	IdempotencyKey *string      `gorm:"uniqueIndex" json:"idempotency_key,omitempty"`
	CreatedAt      time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time    `gorm:"not null" json:"updated_at"`
}

func (Payment) TableName() string { return "payments" }

var (
	ErrNotFound        = errors.New("payment_not_found")
	ErrInvalidAmount   = errors.New("invalid_payment_amount")
	ErrInvalidMethod   = errors.New("invalid_payment_method")
	ErrOverpayment     = errors.New("payment_exceeds_balance")
	ErrNotRefundable   = errors.New("payment_not_refundable")
	ErrLedgerMismatch  = errors.New("ledger_diverges_from_payment_history")
	ErrRequestInFlight = errors.New("payment_request_in_flight")
	ErrKeyReused       = errors.New("idempotency_key_used_for_another_invoice")
)

// RecordInput is one user intent to record a payment. IdempotencyKey, when
// supplied by the caller, makes the record call replay-safe: the same key
// always resolves to the same Payment.
type RecordInput struct {
	Amount         int64   `json:"amount"`
	Method         string  `json:"method"`
	Reference      string  `json:"reference,omitempty"`
	Notes          string  `json:"notes,omitempty"`
	IdempotencyKey *string `json:"idempotency_key,omitempty"`
}

// Result pairs a ledger mutation with the invoice state it produced.
// Warning carries a non-fatal follow-up failure (confirmation not sent);
// the financial mutation itself has already committed when Warning is set.
type Result struct {
	Payment Payment            `json:"payment"`
	Invoice docdomain.Document `json:"invoice"`
	Warning string             `json:"warning,omitempty"`
}

// ConfirmationSender delivers payment and refund confirmations. Implemented
// by the dispatcher; the ledger fires it after commit and never rolls back
// on its failure.
type ConfirmationSender interface {
	PaymentConfirmation(ctx context.Context, invoice docdomain.Document, payment Payment) error
	RefundConfirmation(ctx context.Context, invoice docdomain.Document, payment Payment) error
}

type ListRequest struct {
	InvoiceID snowflake.ID `json:"invoice_id"`
}

// Service is the payment ledger.
type Service interface {
	Get(ctx context.Context, id snowflake.ID) (Payment, error)
	List(ctx context.Context, req ListRequest) ([]Payment, error)

	// Record appends a payment to an invoice's ledger. Overpayment is a
	// validation error and persists nothing.
	Record(ctx context.Context, invoiceID snowflake.ID, in RecordInput) (Result, error)

	// Refund flips a paid payment to refunded and recomputes the ledger.
	Refund(ctx context.Context, paymentID snowflake.ID) (Result, error)

	// Delete removes a payment entered in error and recomputes the ledger
	// as if it never existed.
	Delete(ctx context.Context, paymentID snowflake.ID) (Result, error)

	// VerifyLedger re-derives amountPaid/balance/status from the payment
	// history and reports ErrLedgerMismatch on divergence.
	VerifyLedger(ctx context.Context, invoiceID snowflake.ID) error
}
