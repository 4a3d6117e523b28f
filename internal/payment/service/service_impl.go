package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/servicepad/servicepad/internal/audit/domain"
	docdomain "github.com/servicepad/servicepad/internal/document/domain"
	"github.com/servicepad/servicepad/internal/money"
	"github.com/servicepad/servicepad/internal/payment/domain"
	"github.com/servicepad/servicepad/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	AuditSvc auditdomain.Service
	Sender   domain.ConfirmationSender `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID    *snowflake.Node
	payrepo  repository.Repository[domain.Payment]
	auditSvc auditdomain.Service
	sender   domain.ConfirmationSender

	// inflight suppresses concurrent ledger mutations per invoice. The
	// store-level idempotency key is the second line of defense.
	mu       sync.Mutex
	inflight map[snowflake.ID]struct{}
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("payment.service"),
		genID:    p.GenID,
		payrepo:  repository.ProvideStore[domain.Payment](p.DB),
		auditSvc: p.AuditSvc,
		sender:   p.Sender,
		inflight: map[snowflake.ID]struct{}{},
	}
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (domain.Payment, error) {
	payment, err := s.payrepo.FindOne(ctx, &domain.Payment{ID: id})
	if err != nil {
		return domain.Payment{}, err
	}
	if payment == nil {
		return domain.Payment{}, domain.ErrNotFound
	}
	return *payment, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) ([]domain.Payment, error) {
	items, err := s.payrepo.Find(ctx, &domain.Payment{InvoiceID: req.InvoiceID})
	if err != nil {
		return nil, err
	}
	payments := make([]domain.Payment, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		payments = append(payments, *item)
	}
	return payments, nil
}

// Record appends a payment. Validation failures persist nothing. A replayed
// idempotency key returns the original payment instead of a duplicate. The
// invoice's amountPaid/balance/status are recomputed from the full payment
// history inside the same transaction.
func (s *Service) Record(ctx context.Context, invoiceID snowflake.ID, in domain.RecordInput) (domain.Result, error) {
	if in.Amount <= 0 {
		return domain.Result{}, domain.ErrInvalidAmount
	}
	in.Method = strings.TrimSpace(in.Method)
	if in.Method == "" {
		return domain.Result{}, domain.ErrInvalidMethod
	}

	release, err := s.acquire(invoiceID)
	if err != nil {
		return domain.Result{}, err
	}
	defer release()

	now := time.Now().UTC()
	payment := domain.Payment{
		ID:             s.genID.Generate(),
		InvoiceID:      invoiceID,
		Amount:         in.Amount,
		Method:         in.Method,
		Reference:      strings.TrimSpace(in.Reference),
		Notes:          in.Notes,
		Status:         domain.StatusPaid,
		IdempotencyKey: normalizeKey(in.IdempotencyKey),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var (
		invoice docdomain.Document
		replay  bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.loadInvoice(ctx, tx, invoiceID)
		if err != nil {
			return err
		}

		if payment.IdempotencyKey != nil {
			existing, err := s.payrepo.WithTrx(tx).FindOne(ctx, &domain.Payment{IdempotencyKey: payment.IdempotencyKey})
			if err != nil {
				return err
			}
			if existing != nil {
				if existing.InvoiceID != invoiceID {
					return domain.ErrKeyReused
				}
				payment = *existing
				invoice = current
				replay = true
				return nil
			}
		}

		paid, err := paidSum(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if in.Amount > current.Total-paid {
			return domain.ErrOverpayment
		}

		insert := tx.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "idempotency_key"}},
			DoNothing: true,
		}).Create(&payment)
		if insert.Error != nil {
			return insert.Error
		}
		if insert.RowsAffected == 0 {
			// Lost the race against a concurrent submit with the same key.
			existing, err := s.payrepo.WithTrx(tx).FindOne(ctx, &domain.Payment{IdempotencyKey: payment.IdempotencyKey})
			if err != nil {
				return err
			}
			if existing == nil {
				return domain.ErrRequestInFlight
			}
			if existing.InvoiceID != invoiceID {
				return domain.ErrKeyReused
			}
			payment = *existing
			invoice = current
			replay = true
			return nil
		}

		invoice, err = s.recompute(ctx, tx, invoiceID)
		return err
	})
	if err != nil {
		return domain.Result{}, err
	}
	if replay {
		return domain.Result{Payment: payment, Invoice: invoice}, nil
	}

	s.emitAudit(ctx, "payment.recorded", &invoice, &payment)
	warning := s.confirm(ctx, "payment", invoice, payment)
	return domain.Result{Payment: payment, Invoice: invoice, Warning: warning}, nil
}

// Refund flips a paid payment to refunded. The ledger recompute derives
// amountPaid from the surviving paid payments, so the result is the same
// state as if the payment had never been recorded, while the history keeps
// the refunded row.
func (s *Service) Refund(ctx context.Context, paymentID snowflake.ID) (domain.Result, error) {
	payment, err := s.Get(ctx, paymentID)
	if err != nil {
		return domain.Result{}, err
	}

	release, err := s.acquire(payment.InvoiceID)
	if err != nil {
		return domain.Result{}, err
	}
	defer release()

	now := time.Now().UTC()
	var invoice docdomain.Document
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		flip := tx.WithContext(ctx).Exec(
			`UPDATE payments SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			domain.StatusRefunded,
			now,
			paymentID,
			domain.StatusPaid,
		)
		if flip.Error != nil {
			return flip.Error
		}
		if flip.RowsAffected == 0 {
			return domain.ErrNotRefundable
		}

		invoice, err = s.recompute(ctx, tx, payment.InvoiceID)
		return err
	})
	if err != nil {
		return domain.Result{}, err
	}

	payment.Status = domain.StatusRefunded
	payment.UpdatedAt = now
	s.emitAudit(ctx, "payment.refunded", &invoice, &payment)
	warning := s.confirm(ctx, "refund", invoice, payment)
	return domain.Result{Payment: payment, Invoice: invoice, Warning: warning}, nil
}

// Delete removes a payment entered in error. Refund and delete converge on
// the same recomputation; the difference is only whether the row survives.
func (s *Service) Delete(ctx context.Context, paymentID snowflake.ID) (domain.Result, error) {
	payment, err := s.Get(ctx, paymentID)
	if err != nil {
		return domain.Result{}, err
	}

	release, err := s.acquire(payment.InvoiceID)
	if err != nil {
		return domain.Result{}, err
	}
	defer release()

	var invoice docdomain.Document
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).Delete(&domain.Payment{}, payment.ID).Error; err != nil {
			return err
		}
		invoice, err = s.recompute(ctx, tx, payment.InvoiceID)
		return err
	})
	if err != nil {
		return domain.Result{}, err
	}

	s.emitAudit(ctx, "payment.deleted", &invoice, &payment)
	return domain.Result{Payment: payment, Invoice: invoice}, nil
}

// VerifyLedger re-derives the invoice's ledger fields from the payment
// history. Divergence is reported, never silently corrected.
func (s *Service) VerifyLedger(ctx context.Context, invoiceID snowflake.ID) error {
	var invoice docdomain.Document
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		invoice, err = s.loadInvoice(ctx, tx, invoiceID)
		if err != nil {
			return err
		}

		paid, err := paidSum(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		var count int64
		if err := tx.WithContext(ctx).Model(&domain.Payment{}).
			Where("invoice_id = ?", invoiceID).
			Count(&count).Error; err != nil {
			return err
		}

		if invoice.AmountPaid != paid {
			return fmt.Errorf("invoice %s: amount_paid %d, payment history sums to %d: %w",
				invoice.Number, invoice.AmountPaid, paid, domain.ErrLedgerMismatch)
		}
		if invoice.Balance != maxInt64(0, invoice.Total-paid) {
			return fmt.Errorf("invoice %s: stale balance: %w", invoice.Number, domain.ErrLedgerMismatch)
		}
		// Status only enters the settlement lifecycle with the first ledger
		// mutation; before that draft/sent is the expected state.
		if count > 0 && invoice.Status != docdomain.SettlementStatus(invoice.Total, paid) {
			return fmt.Errorf("invoice %s: status %s does not match ledger: %w",
				invoice.Number, invoice.Status, domain.ErrLedgerMismatch)
		}
		return nil
	})
	if err != nil {
		s.log.Error("ledger verification failed",
			zap.String("invoice_id", invoiceID.String()),
			zap.Error(err),
		)
	}
	return err
}

func (s *Service) acquire(invoiceID snowflake.ID) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[invoiceID]; busy {
		return nil, domain.ErrRequestInFlight
	}
	s.inflight[invoiceID] = struct{}{}
	return func() {
		s.mu.Lock()
		delete(s.inflight, invoiceID)
		s.mu.Unlock()
	}, nil
}

func (s *Service) loadInvoice(ctx context.Context, tx *gorm.DB, id snowflake.ID) (docdomain.Document, error) {
	var doc docdomain.Document
	err := tx.WithContext(ctx).First(&doc, "id = ?", id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return docdomain.Document{}, docdomain.ErrNotFound
		}
		return docdomain.Document{}, err
	}
	if doc.Kind != docdomain.KindInvoice {
		return docdomain.Document{}, docdomain.ErrNotInvoice
	}
	return doc, nil
}

// recompute rewrites the invoice's cached ledger fields from the payment
// history inside the caller's transaction and returns the updated invoice.
func (s *Service) recompute(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID) (docdomain.Document, error) {
	paid, err := paidSum(ctx, tx, invoiceID)
	if err != nil {
		return docdomain.Document{}, err
	}

	var doc docdomain.Document
	if err := tx.WithContext(ctx).First(&doc, "id = ?", invoiceID).Error; err != nil {
		return docdomain.Document{}, err
	}

	doc.AmountPaid = paid
	doc.Balance = maxInt64(0, doc.Total-paid)
	doc.Status = docdomain.SettlementStatus(doc.Total, paid)
	doc.UpdatedAt = time.Now().UTC()

	err = tx.WithContext(ctx).Exec(
		`UPDATE documents SET amount_paid = ?, balance = ?, status = ?, updated_at = ? WHERE id = ?`,
		doc.AmountPaid,
		doc.Balance,
		doc.Status,
		doc.UpdatedAt,
		invoiceID,
	).Error
	if err != nil {
		return docdomain.Document{}, err
	}
	return doc, nil
}

func paidSum(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID) (int64, error) {
	var paid int64
	err := tx.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0) FROM payments WHERE invoice_id = ? AND status = ?`,
		invoiceID,
		domain.StatusPaid,
	).Scan(&paid).Error
	return paid, err
}

// confirm fires the confirmation send and turns any failure into a warning.
// The financial mutation has already committed; nothing is rolled back.
func (s *Service) confirm(ctx context.Context, kind string, invoice docdomain.Document, payment domain.Payment) string {
	if s.sender == nil {
		return ""
	}
	var err error
	switch kind {
	case "refund":
		err = s.sender.RefundConfirmation(ctx, invoice, payment)
	default:
		err = s.sender.PaymentConfirmation(ctx, invoice, payment)
	}
	if err == nil {
		return ""
	}
	s.log.Warn("confirmation not sent",
		zap.String("invoice", invoice.Number),
		zap.String("payment_id", payment.ID.String()),
		zap.Error(err),
	)
	return fmt.Sprintf("%s recorded, but the confirmation could not be sent: %v", kind, err)
}

func (s *Service) emitAudit(ctx context.Context, action string, invoice *docdomain.Document, payment *domain.Payment) {
	if s.auditSvc == nil || invoice == nil || payment == nil {
		return
	}
	metadata := map[string]any{
		"invoice_id":     invoice.ID.String(),
		"invoice_number": invoice.Number,
		"payment_id":     payment.ID.String(),
		"amount":         payment.Amount,
		"method":         payment.Method,
		"balance":        invoice.Balance,
		"status":         string(invoice.Status),
	}

	var jobID *snowflake.ID
	if invoice.JobID != 0 {
		id := invoice.JobID
		jobID = &id
	}
	title := fmt.Sprintf("Payment of %s on invoice %s", money.FormatCents(payment.Amount), invoice.Number)
	switch action {
	case "payment.refunded":
		title = fmt.Sprintf("Refund of %s on invoice %s", money.FormatCents(payment.Amount), invoice.Number)
	case "payment.deleted":
		title = fmt.Sprintf("Payment of %s removed from invoice %s", money.FormatCents(payment.Amount), invoice.Number)
	}
	_ = s.auditSvc.Record(ctx, jobID, action, title, "", metadata)
}

func normalizeKey(key *string) *string {
	if key == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*key)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
