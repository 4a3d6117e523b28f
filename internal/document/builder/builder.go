// Package builder drives the guided document creation flow. An estimate
// moves Items -> Upsell -> Send; an invoice moves Items -> Upsell ->
// Preview. The builder owns the save boundary between steps: a step never
// advances past a failed save.
package builder

import (
	"context"
	"errors"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/servicepad/servicepad/internal/document/domain"
	"github.com/servicepad/servicepad/internal/document/draft"
	"github.com/servicepad/servicepad/internal/upsell"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Step string

const (
	StepItems   Step = "items"
	StepUpsell  Step = "upsell"
	StepSend    Step = "send"
	StepPreview Step = "preview"
)

var (
	ErrAdvanceInFlight = errors.New("builder_advance_in_flight")
	ErrTerminalStep    = errors.New("builder_already_at_terminal_step")
	ErrUnknownUpsell   = errors.New("unknown_upsell_item")
	ErrUnsavedItems    = errors.New("builder_has_unsaved_items")
)

type FactoryParam struct {
	fx.In

	Log     *zap.Logger
	Drafts  *draft.Factory
	Catalog *upsell.Catalog
	Docs    domain.Service
}

type Factory struct {
	log     *zap.Logger
	drafts  *draft.Factory
	catalog *upsell.Catalog
	docs    domain.Service
}

func NewFactory(p FactoryParam) *Factory {
	return &Factory{
		log:     p.Log.Named("document.builder"),
		drafts:  p.Drafts,
		catalog: p.Catalog,
		docs:    p.Docs,
	}
}

func (f *Factory) New(kind domain.Kind) *Builder {
	return &Builder{
		factory: f,
		draft:   f.drafts.New(kind),
		step:    StepItems,
		merged:  map[string]snowflake.ID{},
		wanted:  map[string]bool{},
	}
}

// Resume rebuilds a flow around an already-persisted draft, starting back
// at the Items step.
func (f *Factory) Resume(doc domain.Document) *Builder {
	return &Builder{
		factory: f,
		draft:   f.drafts.Resume(doc),
		step:    StepItems,
		merged:  map[string]snowflake.ID{},
		wanted:  map[string]bool{},
	}
}

// Builder is a single editing session's state machine. It is safe for the
// double-submit case: a second Advance while one is saving is refused.
type Builder struct {
	factory *Factory
	draft   *draft.Draft

	mu        sync.Mutex
	step      Step
	advancing bool

	// wanted is the current upsell selection; merged maps a catalog id to
	// the line item it produced, so toggling never merges twice.
	wanted map[string]bool
	merged map[string]snowflake.ID
}

func (b *Builder) Step() Step {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.step
}

func (b *Builder) Draft() *draft.Draft { return b.draft }

// UpsellSelected reports the current selection state of a catalog item.
func (b *Builder) UpsellSelected(catalogID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.wanted[catalogID]
}

// ToggleUpsell flips the selection of a catalog item. The selection is not
// committed to the draft until the Upsell step advances, so cancelling the
// flow rolls it back for free.
func (b *Builder) ToggleUpsell(catalogID string) (bool, error) {
	if _, ok := b.factory.catalog.Find(catalogID); !ok {
		return false, ErrUnknownUpsell
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wanted[catalogID] = !b.wanted[catalogID]
	return b.wanted[catalogID], nil
}

// Advance moves to the next step. Leaving Items requires at least one line
// item and a successful save; leaving Upsell commits the selection into the
// draft and saves again before entering the terminal step. Any save failure
// leaves the step where it was so the user can retry.
func (b *Builder) Advance(ctx context.Context) (Step, error) {
	b.mu.Lock()
	if b.advancing {
		b.mu.Unlock()
		return b.step, ErrAdvanceInFlight
	}
	b.advancing = true
	step := b.step
	b.mu.Unlock()

	next, err := b.advanceFrom(ctx, step)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.advancing = false
	if err != nil {
		return b.step, err
	}
	b.step = next
	return next, nil
}

func (b *Builder) advanceFrom(ctx context.Context, step Step) (Step, error) {
	switch step {
	case StepItems:
		if b.draft.ItemCount() == 0 {
			return step, domain.ErrNoItems
		}
		if _, err := b.draft.GenerateNumber(ctx); err != nil {
			return step, err
		}
		if _, err := b.draft.Save(ctx); err != nil {
			return step, err
		}
		return StepUpsell, nil

	case StepUpsell:
		if err := b.commitUpsell(); err != nil {
			return step, err
		}
		if _, err := b.draft.Save(ctx); err != nil {
			return step, err
		}
		return b.terminalStep(), nil

	default:
		return step, ErrTerminalStep
	}
}

// Back navigates toward Items. It never discards draft state: items merged
// or persisted so far stay exactly as they are. While an Advance is in
// flight the step belongs to that transition, so Back is a no-op.
func (b *Builder) Back() Step {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.advancing {
		return b.step
	}
	switch b.step {
	case StepUpsell:
		b.step = StepItems
	case StepSend, StepPreview:
		b.step = StepUpsell
	}
	return b.step
}

// Cancel ends the flow. A draft with no items is discarded without
// touching the store. A draft that has items is persisted as a draft
// document so the user's work survives.
func (b *Builder) Cancel(ctx context.Context) (*domain.Document, error) {
	if b.draft.ItemCount() == 0 {
		return nil, nil
	}
	if _, err := b.draft.GenerateNumber(ctx); err != nil {
		return nil, err
	}
	saved, err := b.draft.Save(ctx)
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

// Discard drops the in-memory state without saving, regardless of items.
func (b *Builder) Discard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wanted = map[string]bool{}
	b.merged = map[string]snowflake.ID{}
}

// Convert runs the estimate conversion from the terminal step.
func (b *Builder) Convert(ctx context.Context) (domain.Document, error) {
	if b.draft.Kind() != domain.KindEstimate {
		return domain.Document{}, domain.ErrNotEstimate
	}
	saved := b.draft.Saved()
	if saved == nil {
		return domain.Document{}, domain.ErrNotFound
	}
	return b.factory.docs.Convert(ctx, saved.ID)
}

func (b *Builder) terminalStep() Step {
	if b.draft.Kind() == domain.KindInvoice {
		return StepPreview
	}
	return StepSend
}

// commitUpsell reconciles the selection against what was already merged:
// newly selected catalog items become line items, deselected ones are
// removed again. Each catalog item merges at most once.
func (b *Builder) commitUpsell() error {
	b.mu.Lock()
	wanted := make(map[string]bool, len(b.wanted))
	for id, on := range b.wanted {
		wanted[id] = on
	}
	merged := make(map[string]snowflake.ID, len(b.merged))
	for id, itemID := range b.merged {
		merged[id] = itemID
	}
	b.mu.Unlock()

	for catalogID, on := range wanted {
		itemID, already := merged[catalogID]
		switch {
		case on && !already:
			entry, ok := b.factory.catalog.Find(catalogID)
			if !ok {
				return ErrUnknownUpsell
			}
			added, err := b.draft.AddItem(domain.LineItem{
				Description: entry.Title,
				Quantity:    decimal.NewFromInt(1),
				UnitPrice:   entry.Price,
				Taxable:     entry.Taxable,
			})
			if err != nil {
				return err
			}
			merged[catalogID] = added.ID
			b.draft.AppendNotes(entry.Note)

		case !on && already:
			if err := b.draft.RemoveItem(itemID); err != nil && !errors.Is(err, draft.ErrItemNotFound) {
				return err
			}
			delete(merged, catalogID)
		}
	}

	b.mu.Lock()
	b.merged = merged
	b.mu.Unlock()
	return nil
}
