package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/servicepad/servicepad/internal/document/domain"
	"github.com/servicepad/servicepad/internal/money"
	"github.com/servicepad/servicepad/internal/sequence"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Convert turns a saved estimate into a new invoice. The invoice carries
// copies of the estimate's line items under fresh identities and its totals
// are recomputed from those items, never copied from the estimate's stored
// fields. Creating the invoice and stamping the estimate happen in one
// transaction; retrying a converted estimate returns the linked invoice.
func (s *Service) Convert(ctx context.Context, estimateID snowflake.ID) (domain.Document, error) {
	estimate, err := s.Get(ctx, estimateID)
	if err != nil {
		return domain.Document{}, err
	}
	if estimate.Kind != domain.KindEstimate {
		return domain.Document{}, domain.ErrNotEstimate
	}
	if estimate.ConvertedInvoiceID != nil {
		return s.Get(ctx, *estimate.ConvertedInvoiceID)
	}
	if estimate.Status == domain.StatusConverted {
		// Converted without a link is a partial outcome from an earlier
		// failure; refuse rather than mint a second invoice.
		return domain.Document{}, domain.ErrAlreadyConverted
	}

	number, provisional := s.invoiceNumber(ctx)
	now := time.Now().UTC()

	invoice := domain.Document{
		ID:                s.genID.Generate(),
		Kind:              domain.KindInvoice,
		Number:            number,
		NumberProvisional: provisional,
		Status:            domain.StatusDraft,
		ClientID:          estimate.ClientID,
		JobID:             estimate.JobID,
		TaxRate:           estimate.TaxRate,
		Notes:             estimate.Notes,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	items := make([]domain.LineItem, 0, len(estimate.Items))
	for _, item := range estimate.Items {
		items = append(items, domain.LineItem{
			ID:              s.genID.Generate(),
			DocumentID:      invoice.ID,
			Description:     item.Description,
			Quantity:        item.Quantity,
			UnitPrice:       item.UnitPrice,
			DiscountPercent: item.DiscountPercent,
			Taxable:         item.Taxable,
			OurCost:         item.OurCost,
			CreatedAt:       now,
		})
	}

	totals := money.Compute(domain.Lines(items), invoice.TaxRate)
	invoice.Subtotal = totals.Subtotal
	invoice.TaxTotal = totals.TaxTotal
	invoice.Total = totals.Total
	invoice.Balance = totals.Total

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Re-check the link under the transaction so a concurrent retry
		// cannot produce two invoices for one estimate.
		var linked sql.NullInt64
		if err := tx.WithContext(ctx).Raw(
			`SELECT converted_invoice_id FROM documents WHERE id = ?`,
			estimateID,
		).Scan(&linked).Error; err != nil {
			return err
		}
		if linked.Valid && linked.Int64 != 0 {
			invoice.ID = snowflake.ID(linked.Int64)
			return nil
		}

		if err := tx.WithContext(ctx).Create(&invoice).Error; err != nil {
			return err
		}
		if len(items) > 0 {
			if err := tx.WithContext(ctx).Create(&items).Error; err != nil {
				return err
			}
		}

		return tx.WithContext(ctx).Exec(
			`UPDATE documents
			 SET status = ?, converted_invoice_id = ?, updated_at = ?
			 WHERE id = ?`,
			domain.StatusConverted,
			invoice.ID,
			now,
			estimateID,
		).Error
	})
	if err != nil {
		return domain.Document{}, err
	}

	created, err := s.Get(ctx, invoice.ID)
	if err != nil {
		return domain.Document{}, err
	}

	s.emitAudit(ctx, "estimate.converted", &estimate, map[string]any{
		"invoice_id":     created.ID.String(),
		"invoice_number": created.Number,
		"invoice_total":  created.Total,
	})
	return created, nil
}

// invoiceNumber asks the sequence store for the next number and falls back
// to a provisional local number when the store is unreachable.
func (s *Service) invoiceNumber(ctx context.Context) (string, bool) {
	number, err := s.seq.Next(ctx, string(domain.KindInvoice))
	if err != nil {
		s.log.Warn("sequence unavailable, using provisional invoice number", zap.Error(err))
		return sequence.FallbackNumber(string(domain.KindInvoice)), true
	}
	return number, false
}
