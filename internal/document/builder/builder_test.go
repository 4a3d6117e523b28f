package builder

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/servicepad/servicepad/internal/document/domain"
	"github.com/servicepad/servicepad/internal/document/draft"
	docservice "github.com/servicepad/servicepad/internal/document/service"
	"github.com/servicepad/servicepad/internal/sequence"
	"github.com/servicepad/servicepad/internal/upsell"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func testFactory(t *testing.T) (*Factory, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s%d?mode=memory&cache=shared", t.Name(), time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&domain.Document{},
		&domain.LineItem{},
		sequence.Model(),
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	logger := zap.NewNop()
	seq := sequence.NewGenerator(sequence.Params{DB: db, Log: logger})
	docs := docservice.NewService(docservice.ServiceParam{
		DB:    db,
		Log:   logger,
		GenID: node,
		Seq:   seq,
	})
	drafts := draft.NewFactory(draft.FactoryParam{
		Log:   logger,
		GenID: node,
		Seq:   seq,
		Docs:  docs,
	})
	catalog := upsell.NewCatalogFromItems(upsell.DefaultItems())
	return NewFactory(FactoryParam{
		Log:     logger,
		Drafts:  drafts,
		Catalog: catalog,
		Docs:    docs,
	}), db
}

func addLabor(t *testing.T, b *Builder) domain.LineItem {
	t.Helper()
	item, err := b.Draft().AddItem(domain.LineItem{
		Description: "Water heater install",
		Quantity:    decimal.NewFromInt(1),
		UnitPrice:   80000,
		Taxable:     true,
	})
	require.NoError(t, err)
	return item
}

func TestAdvance_RequiresItems(t *testing.T) {
	f, db := testFactory(t)
	b := f.New(domain.KindEstimate)

	step, err := b.Advance(context.Background())
	assert.ErrorIs(t, err, domain.ErrNoItems)
	assert.Equal(t, StepItems, step)

	// Nothing was persisted by the failed advance.
	var count int64
	require.NoError(t, db.Model(&domain.Document{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestAdvance_ItemsStepSaves(t *testing.T) {
	f, db := testFactory(t)
	b := f.New(domain.KindEstimate)
	addLabor(t, b)

	step, err := b.Advance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StepUpsell, step)

	var count int64
	require.NoError(t, db.Model(&domain.Document{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	assert.NotNil(t, b.Draft().Saved())
}

func TestAdvance_TerminalStepPerKind(t *testing.T) {
	f, _ := testFactory(t)
	ctx := context.Background()

	estimate := f.New(domain.KindEstimate)
	addLabor(t, estimate)
	_, err := estimate.Advance(ctx)
	require.NoError(t, err)
	step, err := estimate.Advance(ctx)
	require.NoError(t, err)
	assert.Equal(t, StepSend, step)

	invoice := f.New(domain.KindInvoice)
	addLabor(t, invoice)
	_, err = invoice.Advance(ctx)
	require.NoError(t, err)
	step, err = invoice.Advance(ctx)
	require.NoError(t, err)
	assert.Equal(t, StepPreview, step)

	_, err = invoice.Advance(ctx)
	assert.ErrorIs(t, err, ErrTerminalStep)
}

func TestUpsell_MergesOnceOnAdvance(t *testing.T) {
	f, _ := testFactory(t)
	b := f.New(domain.KindEstimate)
	ctx := context.Background()
	addLabor(t, b)

	_, err := b.Advance(ctx)
	require.NoError(t, err)

	on, err := b.ToggleUpsell("warranty-1y")
	require.NoError(t, err)
	assert.True(t, on)

	// Selection is deferred: nothing merged until the step advances.
	assert.Equal(t, 1, b.Draft().ItemCount())

	_, err = b.Advance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, b.Draft().ItemCount())

	// Going back and forward again must not merge a second copy.
	assert.Equal(t, StepUpsell, b.Back())
	_, err = b.Advance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, b.Draft().ItemCount())

	saved := b.Draft().Saved()
	require.NotNil(t, saved)
	assert.Equal(t, int64(80000+9900), saved.Subtotal)
}

func TestUpsell_DeselectRemovesMergedItem(t *testing.T) {
	f, _ := testFactory(t)
	b := f.New(domain.KindEstimate)
	ctx := context.Background()
	addLabor(t, b)

	_, err := b.Advance(ctx)
	require.NoError(t, err)
	_, err = b.ToggleUpsell("warranty-1y")
	require.NoError(t, err)
	_, err = b.Advance(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, b.Draft().ItemCount())

	b.Back()
	off, err := b.ToggleUpsell("warranty-1y")
	require.NoError(t, err)
	assert.False(t, off)

	_, err = b.Advance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Draft().ItemCount())
}

func TestToggleUpsell_UnknownItem(t *testing.T) {
	f, _ := testFactory(t)
	b := f.New(domain.KindEstimate)

	_, err := b.ToggleUpsell("gold-plating")
	assert.ErrorIs(t, err, ErrUnknownUpsell)
}

func TestBack_NeverLosesItems(t *testing.T) {
	f, _ := testFactory(t)
	b := f.New(domain.KindEstimate)
	ctx := context.Background()
	addLabor(t, b)

	_, err := b.Advance(ctx)
	require.NoError(t, err)

	assert.Equal(t, StepItems, b.Back())
	assert.Equal(t, 1, b.Draft().ItemCount())
	assert.NotNil(t, b.Draft().Saved())

	// Back at the Items step, Back is a no-op.
	assert.Equal(t, StepItems, b.Back())
}

func TestBack_NoOpWhileAdvanceInFlight(t *testing.T) {
	f, _ := testFactory(t)
	b := f.New(domain.KindEstimate)
	ctx := context.Background()
	addLabor(t, b)

	_, err := b.Advance(ctx)
	require.NoError(t, err)
	require.Equal(t, StepUpsell, b.Step())

	// While a transition owns the step, Back must not move it out from
	// under the in-flight Advance.
	b.mu.Lock()
	b.advancing = true
	b.mu.Unlock()
	assert.Equal(t, StepUpsell, b.Back())

	b.mu.Lock()
	b.advancing = false
	b.mu.Unlock()
	assert.Equal(t, StepItems, b.Back())
}

func TestCancel_EmptyDraftDiscards(t *testing.T) {
	f, db := testFactory(t)
	b := f.New(domain.KindEstimate)

	saved, err := b.Cancel(context.Background())
	require.NoError(t, err)
	assert.Nil(t, saved)

	var count int64
	require.NoError(t, db.Model(&domain.Document{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCancel_WithItemsSavesDraft(t *testing.T) {
	f, _ := testFactory(t)
	b := f.New(domain.KindEstimate)
	addLabor(t, b)

	saved, err := b.Cancel(context.Background())
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, domain.StatusDraft, saved.Status)
	assert.NotEmpty(t, saved.Number)
}

func TestConvert_FromBuilder(t *testing.T) {
	f, _ := testFactory(t)
	b := f.New(domain.KindEstimate)
	ctx := context.Background()
	addLabor(t, b)

	_, err := b.Advance(ctx)
	require.NoError(t, err)
	_, err = b.Advance(ctx)
	require.NoError(t, err)

	invoice, err := b.Convert(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.KindInvoice, invoice.Kind)

	saved := b.Draft().Saved()
	require.NotNil(t, saved)
	assert.Equal(t, saved.Total, invoice.Total)
}

func TestConvert_RejectsInvoiceBuilder(t *testing.T) {
	f, _ := testFactory(t)
	b := f.New(domain.KindInvoice)

	_, err := b.Convert(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotEstimate)
}
