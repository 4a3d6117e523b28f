package render

import (
	"context"
	"fmt"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/servicepad/servicepad/internal/document/domain"
	"github.com/servicepad/servicepad/internal/money"
)

// RenderPDF produces the attachment-grade document for email delivery.
func RenderPDF(ctx context.Context, input Input) ([]byte, error) {
	doc := input.Doc

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(12,
		text.NewCol(8, input.BusinessName, props.Text{Size: 16, Style: fontstyle.Bold}),
		text.NewCol(4, titleFor(doc.Kind), props.Text{Size: 16, Align: align.Right}),
	)

	m.AddRow(16,
		col.New(6).Add(
			text.New("Number: "+doc.Number, props.Text{Top: 0, Size: 9}),
			text.New("Date: "+doc.CreatedAt.Format("Jan 2, 2006"), props.Text{Top: 4, Size: 9}),
		),
		col.New(6).Add(
			text.New("Prepared for", props.Text{Style: fontstyle.Bold, Size: 9}),
			text.New(input.ClientName, props.Text{Top: 4, Size: 9}),
		),
	)

	m.AddRow(8,
		text.NewCol(6, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Qty", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Unit price", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	for _, item := range doc.Items {
		m.AddRow(10,
			text.NewCol(6, item.Description, props.Text{Size: 9}),
			text.NewCol(2, item.Quantity.String(), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, money.FormatCents(item.UnitPrice), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, money.FormatCents(money.LineTotal(item.Line())), props.Text{Size: 9, Align: align.Right}),
		)
	}

	m.AddRow(8,
		col.New(8),
		text.NewCol(2, "Subtotal", props.Text{Size: 9}),
		text.NewCol(2, money.FormatCents(doc.Subtotal), props.Text{Size: 9, Align: align.Right}),
	)
	m.AddRow(8,
		col.New(8),
		text.NewCol(2, fmt.Sprintf("Tax (%s%%)", doc.TaxRate.String()), props.Text{Size: 9}),
		text.NewCol(2, money.FormatCents(doc.TaxTotal), props.Text{Size: 9, Align: align.Right}),
	)
	m.AddRow(8,
		col.New(8),
		text.NewCol(2, "Total", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, money.FormatCents(doc.Total), props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	if doc.Kind == domain.KindInvoice && doc.AmountPaid > 0 {
		m.AddRow(8,
			col.New(8),
			text.NewCol(2, "Balance due", props.Text{Style: fontstyle.Bold, Size: 9}),
			text.NewCol(2, money.FormatCents(doc.Balance), props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		)
	}

	if doc.Notes != "" {
		m.AddRow(16,
			text.NewCol(12, doc.Notes, props.Text{Size: 8, Top: 4}),
		)
	}

	out, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("render pdf %s: %w", doc.Number, err)
	}
	return out.GetBytes(), nil
}
