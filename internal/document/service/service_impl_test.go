package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/servicepad/servicepad/internal/document/domain"
	"github.com/servicepad/servicepad/internal/sequence"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s%d?mode=memory&cache=shared", t.Name(), time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&domain.Document{},
		&domain.LineItem{},
		sequence.Model(),
	))
	return db
}

func testService(t *testing.T, db *gorm.DB) domain.Service {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	logger := zap.NewNop()
	return NewService(ServiceParam{
		DB:    db,
		Log:   logger,
		GenID: node,
		Seq:   sequence.NewGenerator(sequence.Params{DB: db, Log: logger}),
	})
}

func estimateDraft(number string) domain.Document {
	return domain.Document{
		Kind:    domain.KindEstimate,
		Number:  number,
		TaxRate: decimal.NewFromInt(13),
		Items: []domain.LineItem{
			{
				Description: "Furnace inspection",
				Quantity:    decimal.NewFromInt(1),
				UnitPrice:   10000,
				Taxable:     true,
			},
		},
	}
}

func TestSaveDraft_ComputesTotals(t *testing.T) {
	svc := testService(t, testDB(t))

	saved, err := svc.SaveDraft(context.Background(), estimateDraft("EST-000001"))
	require.NoError(t, err)

	assert.Equal(t, int64(10000), saved.Subtotal)
	assert.Equal(t, int64(1300), saved.TaxTotal)
	assert.Equal(t, int64(11300), saved.Total)
	assert.Equal(t, domain.StatusDraft, saved.Status)
	assert.NotZero(t, saved.ID)
	assert.Len(t, saved.Items, 1)
}

func TestSaveDraft_IdempotentPerKindAndNumber(t *testing.T) {
	db := testDB(t)
	svc := testService(t, db)
	ctx := context.Background()

	first, err := svc.SaveDraft(ctx, estimateDraft("EST-000001"))
	require.NoError(t, err)

	second, err := svc.SaveDraft(ctx, estimateDraft("EST-000001"))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, db.Model(&domain.Document{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestSaveDraft_UpdateReplacesItems(t *testing.T) {
	db := testDB(t)
	svc := testService(t, db)
	ctx := context.Background()

	first, err := svc.SaveDraft(ctx, estimateDraft("EST-000001"))
	require.NoError(t, err)

	update := estimateDraft("EST-000001")
	update.Items = append(update.Items, domain.LineItem{
		Description: "Filter replacement",
		Quantity:    decimal.NewFromInt(2),
		UnitPrice:   2500,
		Taxable:     true,
	})

	second, err := svc.SaveDraft(ctx, update)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, second.Items, 2)
	assert.Equal(t, int64(15000), second.Subtotal)

	var itemCount int64
	require.NoError(t, db.Model(&domain.LineItem{}).Where("document_id = ?", first.ID).Count(&itemCount).Error)
	assert.Equal(t, int64(2), itemCount)
}

func TestSaveDraft_Validation(t *testing.T) {
	svc := testService(t, testDB(t))
	ctx := context.Background()

	missingNumber := estimateDraft("  ")
	_, err := svc.SaveDraft(ctx, missingNumber)
	assert.ErrorIs(t, err, domain.ErrInvalidNumber)

	badKind := estimateDraft("EST-000001")
	badKind.Kind = "receipt"
	_, err = svc.SaveDraft(ctx, badKind)
	assert.ErrorIs(t, err, domain.ErrInvalidKind)

	badRate := estimateDraft("EST-000001")
	badRate.TaxRate = decimal.NewFromInt(-1)
	_, err = svc.SaveDraft(ctx, badRate)
	assert.ErrorIs(t, err, domain.ErrInvalidTaxRate)

	badItem := estimateDraft("EST-000001")
	badItem.Items[0].Quantity = decimal.Zero
	_, err = svc.SaveDraft(ctx, badItem)
	assert.ErrorIs(t, err, domain.ErrInvalidItem)
}

func TestMarkSent_ExactlyOnce(t *testing.T) {
	svc := testService(t, testDB(t))
	ctx := context.Background()

	saved, err := svc.SaveDraft(ctx, estimateDraft("EST-000001"))
	require.NoError(t, err)

	sent, err := svc.MarkSent(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, sent.Status)
	require.NotNil(t, sent.SentAt)
	firstSentAt := *sent.SentAt

	// A repeat send is allowed and leaves the record untouched.
	again, err := svc.MarkSent(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, again.Status)
	require.NotNil(t, again.SentAt)
	assert.Equal(t, firstSentAt.Unix(), again.SentAt.Unix())
}

func TestSaveDraft_DoesNotRegressSentStatus(t *testing.T) {
	svc := testService(t, testDB(t))
	ctx := context.Background()

	saved, err := svc.SaveDraft(ctx, estimateDraft("EST-000001"))
	require.NoError(t, err)
	_, err = svc.MarkSent(ctx, saved.ID)
	require.NoError(t, err)

	resaved, err := svc.SaveDraft(ctx, estimateDraft("EST-000001"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, resaved.Status)
}

func TestSaveDraft_NewDocumentIgnoresClaimedLedgerState(t *testing.T) {
	svc := testService(t, testDB(t))

	forged := estimateDraft("INV-000001")
	forged.Kind = domain.KindInvoice
	forged.Status = domain.StatusPaid
	forged.AmountPaid = 11300
	forged.Balance = 0

	saved, err := svc.SaveDraft(context.Background(), forged)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusDraft, saved.Status)
	assert.Equal(t, int64(0), saved.AmountPaid)
	assert.Equal(t, saved.Total, saved.Balance)
}

func TestSaveDraft_ResaveIgnoresClaimedLedgerState(t *testing.T) {
	svc := testService(t, testDB(t))
	ctx := context.Background()

	invoice := estimateDraft("INV-000001")
	invoice.Kind = domain.KindInvoice
	saved, err := svc.SaveDraft(ctx, invoice)
	require.NoError(t, err)

	forged := invoice
	forged.ID = saved.ID
	forged.Status = domain.StatusPaid
	forged.AmountPaid = saved.Total

	resaved, err := svc.SaveDraft(ctx, forged)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusDraft, resaved.Status)
	assert.Equal(t, int64(0), resaved.AmountPaid)
	assert.Equal(t, resaved.Total, resaved.Balance)
}

func TestVerifyTotals_DetectsDivergence(t *testing.T) {
	db := testDB(t)
	svc := testService(t, db)
	ctx := context.Background()

	saved, err := svc.SaveDraft(ctx, estimateDraft("EST-000001"))
	require.NoError(t, err)
	require.NoError(t, svc.VerifyTotals(ctx, saved.ID))

	// Corrupt the stored total behind the service's back.
	require.NoError(t, db.Exec(`UPDATE documents SET total = total + 1 WHERE id = ?`, saved.ID).Error)
	assert.ErrorIs(t, svc.VerifyTotals(ctx, saved.ID), domain.ErrStaleTotals)
}

func TestConvert_TotalsFromItemsNotStoredFields(t *testing.T) {
	db := testDB(t)
	svc := testService(t, db)
	ctx := context.Background()

	estimate, err := svc.SaveDraft(ctx, estimateDraft("EST-000001"))
	require.NoError(t, err)

	// Stale the estimate's cached totals; conversion must ignore them.
	require.NoError(t, db.Exec(`UPDATE documents SET total = 1, subtotal = 1, tax_total = 0 WHERE id = ?`, estimate.ID).Error)

	invoice, err := svc.Convert(ctx, estimate.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.KindInvoice, invoice.Kind)
	assert.Equal(t, int64(10000), invoice.Subtotal)
	assert.Equal(t, int64(1300), invoice.TaxTotal)
	assert.Equal(t, int64(11300), invoice.Total)
	assert.Equal(t, int64(0), invoice.AmountPaid)
	assert.Equal(t, int64(11300), invoice.Balance)
	assert.Len(t, invoice.Items, 1)
	assert.NotEqual(t, estimate.Items[0].ID, invoice.Items[0].ID, "items must get fresh identities")

	stamped, err := svc.Get(ctx, estimate.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConverted, stamped.Status)
	require.NotNil(t, stamped.ConvertedInvoiceID)
	assert.Equal(t, invoice.ID, *stamped.ConvertedInvoiceID)
}

func TestConvert_RetryReturnsLinkedInvoice(t *testing.T) {
	db := testDB(t)
	svc := testService(t, db)
	ctx := context.Background()

	estimate, err := svc.SaveDraft(ctx, estimateDraft("EST-000001"))
	require.NoError(t, err)

	first, err := svc.Convert(ctx, estimate.ID)
	require.NoError(t, err)

	second, err := svc.Convert(ctx, estimate.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, db.Model(&domain.Document{}).Where("kind = ?", domain.KindInvoice).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestConvert_RejectsNonEstimate(t *testing.T) {
	svc := testService(t, testDB(t))
	ctx := context.Background()

	invoice := estimateDraft("INV-000001")
	invoice.Kind = domain.KindInvoice
	saved, err := svc.SaveDraft(ctx, invoice)
	require.NoError(t, err)

	_, err = svc.Convert(ctx, saved.ID)
	assert.ErrorIs(t, err, domain.ErrNotEstimate)
}

func TestConvert_FallsBackToProvisionalNumber(t *testing.T) {
	db := testDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	svc := NewService(ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Seq:   failingSequence{},
	})
	ctx := context.Background()

	estimate, err := svc.SaveDraft(ctx, estimateDraft("EST-000001"))
	require.NoError(t, err)

	invoice, err := svc.Convert(ctx, estimate.ID)
	require.NoError(t, err)
	assert.True(t, invoice.NumberProvisional)
	assert.Contains(t, invoice.Number, "INV-L")
}

func TestGetByNumber(t *testing.T) {
	svc := testService(t, testDB(t))
	ctx := context.Background()

	saved, err := svc.SaveDraft(ctx, estimateDraft("EST-000001"))
	require.NoError(t, err)

	found, err := svc.GetByNumber(ctx, domain.KindEstimate, "EST-000001")
	require.NoError(t, err)
	assert.Equal(t, saved.ID, found.ID)

	_, err = svc.GetByNumber(ctx, domain.KindEstimate, "EST-999999")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestList_FiltersByKind(t *testing.T) {
	svc := testService(t, testDB(t))
	ctx := context.Background()

	_, err := svc.SaveDraft(ctx, estimateDraft("EST-000001"))
	require.NoError(t, err)
	invoice := estimateDraft("INV-000001")
	invoice.Kind = domain.KindInvoice
	_, err = svc.SaveDraft(ctx, invoice)
	require.NoError(t, err)

	kind := domain.KindEstimate
	resp, err := svc.List(ctx, domain.ListRequest{Kind: &kind})
	require.NoError(t, err)
	require.Len(t, resp.Documents, 1)
	assert.Equal(t, domain.KindEstimate, resp.Documents[0].Kind)
}

type failingSequence struct{}

func (failingSequence) Next(ctx context.Context, kind string) (string, error) {
	return "", errors.New("sequence store unavailable")
}
