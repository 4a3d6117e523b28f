package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrNotFound         = errors.New("document_not_found")
	ErrInvalidKind      = errors.New("invalid_document_kind")
	ErrInvalidNumber    = errors.New("invalid_document_number")
	ErrInvalidTaxRate   = errors.New("invalid_tax_rate")
	ErrInvalidItem      = errors.New("invalid_line_item")
	ErrNoItems          = errors.New("document_has_no_items")
	ErrNotEstimate      = errors.New("document_not_an_estimate")
	ErrNotInvoice       = errors.New("document_not_an_invoice")
	ErrAlreadyConverted = errors.New("estimate_already_converted")
	ErrNotSendable      = errors.New("document_not_sendable")
	ErrConflict         = errors.New("document_number_conflict")
	ErrStaleTotals      = errors.New("stored_totals_diverge_from_items")
)

type ListRequest struct {
	Kind        *Kind
	Status      *Status
	ClientID    *snowflake.ID
	JobID       *snowflake.ID
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Limit       int
}

type ListResponse struct {
	Documents []Document `json:"documents"`
}

// Service is the persistence boundary for sales documents.
type Service interface {
	Get(ctx context.Context, id snowflake.ID) (Document, error)
	GetByNumber(ctx context.Context, kind Kind, number string) (Document, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)

	// SaveDraft persists the working copy. Totals are recomputed from the
	// items before writing. Saving the same logical document twice updates
	// the one record keyed by (kind, number); it never duplicates.
	SaveDraft(ctx context.Context, doc Document) (Document, error)

	// Convert turns a saved estimate into a new invoice atomically,
	// stamping the estimate converted. Retrying a converted estimate
	// returns the already-linked invoice.
	Convert(ctx context.Context, estimateID snowflake.ID) (Document, error)

	// MarkSent transitions draft -> sent exactly once. Re-sending an
	// already sent document is allowed and is not an error.
	MarkSent(ctx context.Context, id snowflake.ID) (Document, error)

	// VerifyTotals re-derives the stored totals from the persisted items
	// and reports ErrStaleTotals on divergence.
	VerifyTotals(ctx context.Context, id snowflake.ID) error
}
