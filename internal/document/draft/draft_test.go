package draft

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/servicepad/servicepad/internal/document/domain"
	docservice "github.com/servicepad/servicepad/internal/document/service"
	"github.com/servicepad/servicepad/internal/sequence"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func testFactory(t *testing.T, seq sequence.Generator) (*Factory, *gorm.DB) {
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
	if seq == nil {
		seq = sequence.NewGenerator(sequence.Params{DB: db, Log: logger})
	}
	docs := docservice.NewService(docservice.ServiceParam{
		DB:    db,
		Log:   logger,
		GenID: node,
		Seq:   seq,
	})
	return NewFactory(FactoryParam{
		Log:   logger,
		GenID: node,
		Seq:   seq,
		Docs:  docs,
	}), db
}

func laborItem() domain.LineItem {
	return domain.LineItem{
		Description: "Diagnostic labor",
		Quantity:    decimal.NewFromInt(2),
		UnitPrice:   7500,
		Taxable:     true,
		OurCost:     4000,
	}
}

func TestDraft_ItemMutationsRecomputeTotals(t *testing.T) {
	f, _ := testFactory(t, nil)
	d := f.New(domain.KindEstimate)
	require.NoError(t, d.SetTaxRate(decimal.NewFromInt(10)))

	added, err := d.AddItem(laborItem())
	require.NoError(t, err)
	assert.NotZero(t, added.ID)

	totals := d.Totals()
	assert.Equal(t, int64(15000), totals.Subtotal)
	assert.Equal(t, int64(1500), totals.TaxTotal)
	assert.Equal(t, int64(16500), totals.Total)

	price := int64(5000)
	_, err = d.UpdateItem(added.ID, ItemPatch{UnitPrice: &price})
	require.NoError(t, err)
	assert.Equal(t, int64(10000), d.Totals().Subtotal)

	require.NoError(t, d.RemoveItem(added.ID))
	assert.Equal(t, int64(0), d.Totals().Total)
	assert.Zero(t, d.ItemCount())
}

func TestDraft_UpdateUnknownItem(t *testing.T) {
	f, _ := testFactory(t, nil)
	d := f.New(domain.KindEstimate)

	qty := decimal.NewFromInt(3)
	_, err := d.UpdateItem(42, ItemPatch{Quantity: &qty})
	assert.ErrorIs(t, err, ErrItemNotFound)
	assert.ErrorIs(t, d.RemoveItem(42), ErrItemNotFound)
}

func TestDraft_UpdateRejectsInvalidPatch(t *testing.T) {
	f, _ := testFactory(t, nil)
	d := f.New(domain.KindEstimate)
	added, err := d.AddItem(laborItem())
	require.NoError(t, err)

	bad := decimal.NewFromInt(-1)
	_, err = d.UpdateItem(added.ID, ItemPatch{Quantity: &bad})
	assert.Error(t, err)

	// The rejected patch must not have been applied.
	items := d.Items()
	require.Len(t, items, 1)
	assert.True(t, items[0].Quantity.Equal(decimal.NewFromInt(2)))
}

func TestDraft_GenerateNumberFromSequence(t *testing.T) {
	f, _ := testFactory(t, nil)
	d := f.New(domain.KindEstimate)

	number, err := d.GenerateNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "EST-000001", number)
	assert.False(t, d.NumberProvisional())

	// A second call returns the assigned number, not a new one.
	again, err := d.GenerateNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, number, again)
}

func TestDraft_GenerateNumberFallsBack(t *testing.T) {
	f, _ := testFactory(t, downSequence{})
	d := f.New(domain.KindInvoice)

	number, err := d.GenerateNumber(context.Background())
	require.NoError(t, err, "the user is never blocked on the sequence store")
	assert.Contains(t, number, "INV-L")
	assert.True(t, d.NumberProvisional())
}

func TestDraft_SaveRequiresNumber(t *testing.T) {
	f, _ := testFactory(t, nil)
	d := f.New(domain.KindEstimate)
	_, err := d.AddItem(laborItem())
	require.NoError(t, err)

	_, err = d.Save(context.Background())
	assert.ErrorIs(t, err, ErrNumberMissing)
}

func TestDraft_SaveIsIdempotent(t *testing.T) {
	f, db := testFactory(t, nil)
	d := f.New(domain.KindEstimate)
	ctx := context.Background()

	_, err := d.AddItem(laborItem())
	require.NoError(t, err)
	_, err = d.GenerateNumber(ctx)
	require.NoError(t, err)

	first, err := d.Save(ctx)
	require.NoError(t, err)

	second, err := d.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, db.Model(&domain.Document{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestDraft_DirtySaveWritesChanges(t *testing.T) {
	f, _ := testFactory(t, nil)
	d := f.New(domain.KindEstimate)
	ctx := context.Background()

	added, err := d.AddItem(laborItem())
	require.NoError(t, err)
	_, err = d.GenerateNumber(ctx)
	require.NoError(t, err)
	first, err := d.Save(ctx)
	require.NoError(t, err)
	assert.False(t, d.Dirty())

	price := int64(9000)
	_, err = d.UpdateItem(added.ID, ItemPatch{UnitPrice: &price})
	require.NoError(t, err)
	assert.True(t, d.Dirty())

	second, err := d.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(18000), second.Subtotal)
}

func TestDraft_ResumeKeepsPersistedState(t *testing.T) {
	f, _ := testFactory(t, nil)
	ctx := context.Background()

	d := f.New(domain.KindEstimate)
	_, err := d.AddItem(laborItem())
	require.NoError(t, err)
	require.NoError(t, d.SetTaxRate(decimal.NewFromInt(13)))
	_, err = d.GenerateNumber(ctx)
	require.NoError(t, err)
	saved, err := d.Save(ctx)
	require.NoError(t, err)

	resumed := f.Resume(saved)
	assert.Equal(t, saved.Number, resumed.Number())
	assert.Equal(t, 1, resumed.ItemCount())
	assert.Equal(t, saved.Total, resumed.Totals().Total)
	assert.False(t, resumed.Dirty())
}

type downSequence struct{}

func (downSequence) Next(ctx context.Context, kind string) (string, error) {
	return "", errors.New("connection refused")
}
