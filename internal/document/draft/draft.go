// Package draft holds the working copy of a document while the user is
// still editing it. Nothing here touches the store until Save.
package draft

import (
	"context"
	"errors"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/servicepad/servicepad/internal/document/domain"
	"github.com/servicepad/servicepad/internal/money"
	"github.com/servicepad/servicepad/internal/sequence"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	ErrItemNotFound  = errors.New("draft_item_not_found")
	ErrSaveInFlight  = errors.New("draft_save_in_flight")
	ErrNumberMissing = errors.New("draft_number_missing")
)

// ItemPatch carries the fields of an update; nil fields are left unchanged.
type ItemPatch struct {
	Description     *string
	Quantity        *decimal.Decimal
	UnitPrice       *int64
	DiscountPercent *decimal.Decimal
	Taxable         *bool
	OurCost         *int64
}

type FactoryParam struct {
	fx.In

	Log   *zap.Logger
	GenID *snowflake.Node
	Seq   sequence.Generator
	Docs  domain.Service
}

// Factory builds drafts with the shared collaborators wired in.
type Factory struct {
	log   *zap.Logger
	genID *snowflake.Node
	seq   sequence.Generator
	docs  domain.Service
}

func NewFactory(p FactoryParam) *Factory {
	return &Factory{
		log:   p.Log.Named("document.draft"),
		genID: p.GenID,
		seq:   p.Seq,
		docs:  p.Docs,
	}
}

// New starts an empty draft of the given kind.
func (f *Factory) New(kind domain.Kind) *Draft {
	return &Draft{
		factory: f,
		kind:    kind,
	}
}

// Resume wraps an already-persisted document for further editing.
func (f *Factory) Resume(doc domain.Document) *Draft {
	d := &Draft{
		factory:           f,
		kind:              doc.Kind,
		id:                doc.ID,
		number:            doc.Number,
		numberProvisional: doc.NumberProvisional,
		taxRate:           doc.TaxRate,
		notes:             doc.Notes,
		clientID:          doc.ClientID,
		jobID:             doc.JobID,
		items:             append([]domain.LineItem(nil), doc.Items...),
		saved:             &doc,
	}
	d.recompute()
	return d
}

// Draft is the mutable working copy. Every item mutation recomputes the
// derived totals synchronously; Save is the only persistence boundary.
type Draft struct {
	factory *Factory

	mu sync.Mutex

	kind              domain.Kind
	id                snowflake.ID
	number            string
	numberProvisional bool
	taxRate           decimal.Decimal
	notes             string
	clientID          snowflake.ID
	jobID             snowflake.ID
	items             []domain.LineItem
	totals            money.Totals

	dirty  bool
	saving bool
	saved  *domain.Document
}

func (d *Draft) Kind() domain.Kind { return d.kind }

func (d *Draft) Number() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.number
}

// NumberProvisional reports whether the current number came from the local
// fallback rather than the authoritative sequence.
func (d *Draft) NumberProvisional() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.numberProvisional
}

func (d *Draft) Items() []domain.LineItem {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]domain.LineItem(nil), d.items...)
}

func (d *Draft) ItemCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}

func (d *Draft) Totals() money.Totals {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.totals
}

func (d *Draft) Notes() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.notes
}

func (d *Draft) SetTaxRate(rate decimal.Decimal) error {
	if !money.ValidRate(rate) {
		return domain.ErrInvalidTaxRate
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.taxRate = rate
	d.markDirty()
	return nil
}

func (d *Draft) SetNotes(notes string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notes = notes
	d.dirty = true
}

// AppendNotes adds a line to the document notes, used by the upsell step.
func (d *Draft) AppendNotes(line string) {
	if line == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.notes == "" {
		d.notes = line
	} else {
		d.notes += "\n" + line
	}
	d.dirty = true
}

func (d *Draft) SetClient(clientID, jobID snowflake.ID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clientID = clientID
	d.jobID = jobID
	d.dirty = true
}

// AddItem appends a line item under a fresh identity and returns it with
// the id filled in.
func (d *Draft) AddItem(item domain.LineItem) (domain.LineItem, error) {
	if err := item.Line().Validate(); err != nil {
		return domain.LineItem{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	item.ID = d.factory.genID.Generate()
	d.items = append(d.items, item)
	d.markDirty()
	return item, nil
}

func (d *Draft) RemoveItem(id snowflake.ID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.items {
		if d.items[i].ID == id {
			d.items = append(d.items[:i], d.items[i+1:]...)
			d.markDirty()
			return nil
		}
	}
	return ErrItemNotFound
}

func (d *Draft) UpdateItem(id snowflake.ID, patch ItemPatch) (domain.LineItem, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.items {
		if d.items[i].ID != id {
			continue
		}
		next := d.items[i]
		if patch.Description != nil {
			next.Description = *patch.Description
		}
		if patch.Quantity != nil {
			next.Quantity = *patch.Quantity
		}
		if patch.UnitPrice != nil {
			next.UnitPrice = *patch.UnitPrice
		}
		if patch.DiscountPercent != nil {
			next.DiscountPercent = *patch.DiscountPercent
		}
		if patch.Taxable != nil {
			next.Taxable = *patch.Taxable
		}
		if patch.OurCost != nil {
			next.OurCost = *patch.OurCost
		}
		if err := next.Line().Validate(); err != nil {
			return domain.LineItem{}, err
		}
		d.items[i] = next
		d.markDirty()
		return next, nil
	}
	return domain.LineItem{}, ErrItemNotFound
}

// GenerateNumber assigns the draft its document number. The sequence store
// is authoritative; when it is unreachable the draft takes a local
// timestamp number and is flagged provisional for later reconciliation.
// Calling it again once a number is assigned returns the same number.
func (d *Draft) GenerateNumber(ctx context.Context) (string, error) {
	d.mu.Lock()
	if d.number != "" {
		number := d.number
		d.mu.Unlock()
		return number, nil
	}
	kind := d.kind
	d.mu.Unlock()

	number, err := d.factory.seq.Next(ctx, string(kind))
	provisional := false
	if err != nil {
		d.factory.log.Warn("sequence unavailable, assigning provisional number",
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		number = sequence.FallbackNumber(string(kind))
		provisional = true
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.number != "" {
		return d.number, nil
	}
	d.number = number
	d.numberProvisional = provisional
	d.dirty = true
	return number, nil
}

// Save persists the draft through the document service. It is safe to call
// repeatedly: an unchanged draft short-circuits to the last saved record,
// and the store keys on (kind, number) so no duplicate is ever created.
// A second Save while one is in flight is refused rather than queued.
func (d *Draft) Save(ctx context.Context) (domain.Document, error) {
	d.mu.Lock()
	if d.saving {
		d.mu.Unlock()
		return domain.Document{}, ErrSaveInFlight
	}
	if d.number == "" {
		d.mu.Unlock()
		return domain.Document{}, ErrNumberMissing
	}
	if !d.dirty && d.saved != nil {
		saved := *d.saved
		d.mu.Unlock()
		return saved, nil
	}
	d.saving = true
	doc := d.snapshotLocked()
	d.mu.Unlock()

	saved, err := d.factory.docs.SaveDraft(ctx, doc)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.saving = false
	if err != nil {
		return domain.Document{}, err
	}
	d.id = saved.ID
	d.saved = &saved
	d.dirty = false
	return saved, nil
}

// Saved returns the last persisted record, if any.
func (d *Draft) Saved() *domain.Document {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.saved == nil {
		return nil
	}
	saved := *d.saved
	return &saved
}

func (d *Draft) Dirty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dirty
}

func (d *Draft) snapshotLocked() domain.Document {
	return domain.Document{
		ID:                d.id,
		Kind:              d.kind,
		Number:            d.number,
		NumberProvisional: d.numberProvisional,
		ClientID:          d.clientID,
		JobID:             d.jobID,
		TaxRate:           d.taxRate,
		Notes:             d.notes,
		Items:             append([]domain.LineItem(nil), d.items...),
	}
}

func (d *Draft) markDirty() {
	d.dirty = true
	d.totals = money.Compute(domain.Lines(d.items), d.taxRate)
}

func (d *Draft) recompute() {
	d.totals = money.Compute(domain.Lines(d.items), d.taxRate)
}
