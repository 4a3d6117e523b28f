package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/servicepad/servicepad/internal/audit/domain"
	"github.com/servicepad/servicepad/internal/document/domain"
	"github.com/servicepad/servicepad/internal/money"
	"github.com/servicepad/servicepad/internal/sequence"
	"github.com/servicepad/servicepad/pkg/db/option"
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
	Seq      sequence.Generator
	AuditSvc auditdomain.Service
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID    *snowflake.Node
	seq      sequence.Generator
	docrepo  repository.Repository[domain.Document]
	auditSvc auditdomain.Service
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("document.service"),
		genID:    p.GenID,
		seq:      p.Seq,
		docrepo:  repository.ProvideStore[domain.Document](p.DB),
		auditSvc: p.AuditSvc,
	}
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (domain.Document, error) {
	item, err := s.docrepo.FindOne(ctx, &domain.Document{ID: id}, option.WithPreload("Items"))
	if err != nil {
		return domain.Document{}, err
	}
	if item == nil {
		return domain.Document{}, domain.ErrNotFound
	}
	return *item, nil
}

func (s *Service) GetByNumber(ctx context.Context, kind domain.Kind, number string) (domain.Document, error) {
	if !kind.Valid() {
		return domain.Document{}, domain.ErrInvalidKind
	}
	item, err := s.docrepo.FindOne(ctx,
		&domain.Document{Kind: kind, Number: strings.TrimSpace(number)},
		option.WithPreload("Items"),
	)
	if err != nil {
		return domain.Document{}, err
	}
	if item == nil {
		return domain.Document{}, domain.ErrNotFound
	}
	return *item, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	filter := &domain.Document{}
	if req.Kind != nil {
		if !req.Kind.Valid() {
			return domain.ListResponse{}, domain.ErrInvalidKind
		}
		filter.Kind = *req.Kind
	}
	if req.Status != nil {
		filter.Status = *req.Status
	}
	if req.ClientID != nil {
		filter.ClientID = *req.ClientID
	}
	if req.JobID != nil {
		filter.JobID = *req.JobID
	}

	options := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{Desc: true, Allow: map[string]bool{"created_at": true}}),
		option.WithPreload("Items"),
	}
	if req.CreatedFrom != nil {
		options = append(options, option.ApplyOperator(option.Condition{
			Field:    "created_at",
			Operator: option.GTE,
			Value:    *req.CreatedFrom,
		}))
	}
	if req.CreatedTo != nil {
		options = append(options, option.ApplyOperator(option.Condition{
			Field:    "created_at",
			Operator: option.LTE,
			Value:    *req.CreatedTo,
		}))
	}
	if req.Limit > 0 {
		options = append(options, option.WithLimit(req.Limit))
	}

	items, err := s.docrepo.Find(ctx, filter, options...)
	if err != nil {
		return domain.ListResponse{}, err
	}

	docs := make([]domain.Document, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		docs = append(docs, *item)
	}
	return domain.ListResponse{Documents: docs}, nil
}

// SaveDraft is the single persistence boundary for drafts. The record is
// keyed by (kind, number): the first save inserts, every later save of the
// same logical document updates in place, so calling it twice never creates
// a duplicate. Totals are always recomputed from the submitted items.
func (s *Service) SaveDraft(ctx context.Context, doc domain.Document) (domain.Document, error) {
	if err := validateDraft(&doc); err != nil {
		return domain.Document{}, err
	}

	totals := money.Compute(domain.Lines(doc.Items), doc.TaxRate)
	doc.Subtotal = totals.Subtotal
	doc.TaxTotal = totals.TaxTotal
	doc.Total = totals.Total

	now := time.Now().UTC()
	var saved domain.Document
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.resolveExisting(ctx, tx, &doc)
		if err != nil {
			return err
		}

		items := doc.Items
		doc.Items = nil

		if existing == nil {
			doc.ID = s.genID.Generate()
			// A record is born as a draft with an empty ledger. Settlement
			// state only ever comes from recorded payments, sent/converted
			// from their own transitions.
			doc.Status = domain.StatusDraft
			doc.AmountPaid = 0
			doc.Balance = doc.Total
			doc.CreatedAt = now
			doc.UpdatedAt = now

			insert := tx.WithContext(ctx).Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "kind"}, {Name: "number"}},
				DoNothing: true,
			}).Create(&doc)
			if insert.Error != nil {
				return insert.Error
			}
			if insert.RowsAffected == 0 {
				// A concurrent save of the same number won the race;
				// fall through to the update path against its record.
				existing, err = s.docrepo.WithTrx(tx).FindOne(ctx, &domain.Document{Kind: doc.Kind, Number: doc.Number})
				if err != nil {
					return err
				}
				if existing == nil {
					return domain.ErrConflict
				}
			} else {
				if err := s.writeItems(ctx, tx, doc.ID, items, now); err != nil {
					return err
				}
				saved, err = s.loadDocument(ctx, tx, doc.ID)
				return err
			}
		}

		doc.ID = existing.ID
		if err := tx.WithContext(ctx).Exec(
			`UPDATE documents
			 SET number_provisional = ?, status = ?, client_id = ?, job_id = ?,
			     tax_rate = ?, subtotal = ?, tax_total = ?, total = ?,
			     balance = ?, notes = ?, updated_at = ?
			 WHERE id = ?`,
			doc.NumberProvisional,
			statusForUpdate(existing.Status),
			doc.ClientID,
			doc.JobID,
			doc.TaxRate,
			doc.Subtotal,
			doc.TaxTotal,
			doc.Total,
			maxInt64(0, doc.Total-existing.AmountPaid),
			doc.Notes,
			now,
			doc.ID,
		).Error; err != nil {
			return err
		}

		if err := tx.WithContext(ctx).
			Where("document_id = ?", doc.ID).
			Delete(&domain.LineItem{}).Error; err != nil {
			return err
		}
		if err := s.writeItems(ctx, tx, doc.ID, items, now); err != nil {
			return err
		}

		var loadErr error
		saved, loadErr = s.loadDocument(ctx, tx, doc.ID)
		return loadErr
	})
	if err != nil {
		return domain.Document{}, err
	}

	s.emitAudit(ctx, "document.saved", &saved, nil)
	return saved, nil
}

// MarkSent transitions draft -> sent exactly once. The predicate on the
// current status makes the transition idempotent: re-sending an already
// sent document leaves the record untouched and returns it without error.
func (s *Service) MarkSent(ctx context.Context, id snowflake.ID) (domain.Document, error) {
	now := time.Now().UTC()
	result := s.db.WithContext(ctx).Exec(
		`UPDATE documents
		 SET status = ?, sent_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusSent,
		now,
		now,
		id,
		domain.StatusDraft,
	)
	if result.Error != nil {
		return domain.Document{}, result.Error
	}

	doc, err := s.Get(ctx, id)
	if err != nil {
		return domain.Document{}, err
	}
	if result.RowsAffected > 0 {
		s.emitAudit(ctx, "document.sent", &doc, nil)
	}
	return doc, nil
}

// VerifyTotals re-derives the stored money state from the persisted items.
// Divergence is an integrity violation: reported, never silently corrected.
func (s *Service) VerifyTotals(ctx context.Context, id snowflake.ID) error {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	totals := doc.Totals()
	if doc.Subtotal != totals.Subtotal || doc.TaxTotal != totals.TaxTotal || doc.Total != totals.Total {
		s.log.Error("stored totals diverge from derived totals",
			zap.String("number", doc.Number),
			zap.Int64("stored_total", doc.Total),
			zap.Int64("derived_total", totals.Total),
		)
		return fmt.Errorf("document %s: %w", doc.Number, domain.ErrStaleTotals)
	}
	if doc.Kind == domain.KindInvoice && doc.Balance != maxInt64(0, doc.Total-doc.AmountPaid) {
		return fmt.Errorf("document %s: %w", doc.Number, domain.ErrStaleTotals)
	}
	return nil
}

func (s *Service) resolveExisting(ctx context.Context, tx *gorm.DB, doc *domain.Document) (*domain.Document, error) {
	repo := s.docrepo.WithTrx(tx)
	if doc.ID != 0 {
		existing, err := repo.FindOne(ctx, &domain.Document{ID: doc.ID})
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, domain.ErrNotFound
		}
		return existing, nil
	}
	return repo.FindOne(ctx, &domain.Document{Kind: doc.Kind, Number: doc.Number})
}

func (s *Service) writeItems(ctx context.Context, tx *gorm.DB, docID snowflake.ID, items []domain.LineItem, now time.Time) error {
	for i := range items {
		if items[i].ID == 0 {
			items[i].ID = s.genID.Generate()
		}
		items[i].DocumentID = docID
		if items[i].CreatedAt.IsZero() {
			items[i].CreatedAt = now
		}
	}
	if len(items) == 0 {
		return nil
	}
	return tx.WithContext(ctx).Create(&items).Error
}

func (s *Service) loadDocument(ctx context.Context, tx *gorm.DB, id snowflake.ID) (domain.Document, error) {
	item, err := s.docrepo.WithTrx(tx).FindOne(ctx, &domain.Document{ID: id}, option.WithPreload("Items"))
	if err != nil {
		return domain.Document{}, err
	}
	if item == nil {
		return domain.Document{}, domain.ErrNotFound
	}
	return *item, nil
}

func (s *Service) emitAudit(ctx context.Context, action string, doc *domain.Document, extra map[string]any) {
	if s.auditSvc == nil || doc == nil {
		return
	}
	metadata := map[string]any{
		"document_id": doc.ID.String(),
		"kind":        string(doc.Kind),
		"number":      doc.Number,
		"status":      string(doc.Status),
		"total":       doc.Total,
	}
	for key, value := range extra {
		if key == "" {
			continue
		}
		metadata[key] = value
	}

	var jobID *snowflake.ID
	if doc.JobID != 0 {
		id := doc.JobID
		jobID = &id
	}
	_ = s.auditSvc.Record(ctx, jobID, action, titleFor(action, doc), "", metadata)
}

func titleFor(action string, doc *domain.Document) string {
	kind := "Invoice"
	if doc.Kind == domain.KindEstimate {
		kind = "Estimate"
	}
	switch action {
	case "document.saved":
		return fmt.Sprintf("%s %s saved", kind, doc.Number)
	case "document.sent":
		return fmt.Sprintf("%s %s sent", kind, doc.Number)
	case "estimate.converted":
		return fmt.Sprintf("Estimate %s converted", doc.Number)
	default:
		return action
	}
}

func validateDraft(doc *domain.Document) error {
	if !doc.Kind.Valid() {
		return domain.ErrInvalidKind
	}
	doc.Number = strings.TrimSpace(doc.Number)
	if doc.Number == "" {
		return domain.ErrInvalidNumber
	}
	if !money.ValidRate(doc.TaxRate) {
		return domain.ErrInvalidTaxRate
	}
	for _, item := range doc.Items {
		if strings.TrimSpace(item.Description) == "" {
			return fmt.Errorf("%w: empty description", domain.ErrInvalidItem)
		}
		if err := item.Line().Validate(); err != nil {
			return fmt.Errorf("%w: %s", domain.ErrInvalidItem, err)
		}
	}
	return nil
}

// statusForUpdate keeps the stored status authoritative. Send, convert and
// the payment ledger own their transitions, so a re-save can neither regress
// a sent or converted document to draft nor move a document into a settled
// state the payment history never produced.
func statusForUpdate(current domain.Status) domain.Status {
	if current == "" {
		return domain.StatusDraft
	}
	return current
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
