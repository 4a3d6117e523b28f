// Package render produces the preview and delivery representations of a
// sales document.
package render

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/servicepad/servicepad/internal/document/domain"
	"github.com/servicepad/servicepad/internal/money"
)

const documentHTMLTemplate = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>{{.Title}} {{.Doc.Number}}</title>
  <style>
    body { margin: 0; padding: 40px; font-family: -apple-system, "Segoe UI", Roboto, Helvetica, Arial, sans-serif; color: #1a1f36; background: #f7f9fc; }
    .card { background: #fff; max-width: 720px; margin: 0 auto; padding: 48px; border-radius: 4px; box-shadow: 0 2px 5px rgba(0,0,0,0.04); }
    .header { display: flex; justify-content: space-between; margin-bottom: 32px; }
    .header h1 { margin: 0; font-size: 22px; }
    .header .number { color: #8792a2; font-weight: 600; }
    .label { font-size: 11px; text-transform: uppercase; color: #8792a2; font-weight: 600; letter-spacing: 0.3px; }
    table { width: 100%; border-collapse: collapse; margin: 24px 0; }
    th { text-align: left; text-transform: uppercase; font-size: 11px; color: #8792a2; border-bottom: 1px solid #e3e8ee; padding: 8px 0; }
    td { padding: 12px 0; border-bottom: 1px solid #e3e8ee; font-size: 14px; vertical-align: top; }
    .right { text-align: right; }
    .totals { margin-left: auto; width: 260px; }
    .totals td { border: none; padding: 6px 0; }
    .grand { font-weight: 700; font-size: 16px; border-top: 1px solid #e3e8ee; }
    .notes { margin-top: 24px; font-size: 13px; color: #697386; white-space: pre-line; }
  </style>
</head>
<body>
  <div class="card">
    <div class="header">
      <div>
        <h1>{{.BusinessName}}</h1>
        <div class="label">{{.Title}}</div>
      </div>
      <div class="number">{{.Doc.Number}}</div>
    </div>
    {{if .ClientName}}<div><span class="label">Prepared for</span><div>{{.ClientName}}</div></div>{{end}}
    <table>
      <thead>
        <tr><th>Description</th><th class="right">Qty</th><th class="right">Unit</th><th class="right">Amount</th></tr>
      </thead>
      <tbody>
        {{range .Lines}}
        <tr>
          <td>{{.Description}}{{if .Discount}} <span class="label">({{.Discount}}% off)</span>{{end}}</td>
          <td class="right">{{.Quantity}}</td>
          <td class="right">{{.UnitPrice}}</td>
          <td class="right">{{.Amount}}</td>
        </tr>
        {{end}}
      </tbody>
    </table>
    <table class="totals">
      <tr><td>Subtotal</td><td class="right">{{.Subtotal}}</td></tr>
      <tr><td>Tax ({{.TaxRate}}%)</td><td class="right">{{.TaxTotal}}</td></tr>
      <tr class="grand"><td>Total</td><td class="right">{{.Total}}</td></tr>
      {{if .ShowBalance}}
      <tr><td>Paid</td><td class="right">{{.AmountPaid}}</td></tr>
      <tr><td>Balance due</td><td class="right">{{.Balance}}</td></tr>
      {{end}}
    </table>
    {{if .Doc.Notes}}<div class="notes">{{.Doc.Notes}}</div>{{end}}
  </div>
</body>
</html>`

var documentTmpl = template.Must(template.New("document").Parse(documentHTMLTemplate))

type Input struct {
	Doc          domain.Document
	BusinessName string
	ClientName   string
}

type lineView struct {
	Description string
	Quantity    string
	UnitPrice   string
	Discount    string
	Amount      string
}

type htmlView struct {
	Input
	Title       string
	Lines       []lineView
	Subtotal    string
	TaxRate     string
	TaxTotal    string
	Total       string
	AmountPaid  string
	Balance     string
	ShowBalance bool
}

// RenderHTML renders the document preview. Amounts come straight from the
// calculator; formatting happens here and nowhere earlier.
func RenderHTML(input Input) (string, error) {
	view := htmlView{
		Input:       input,
		Title:       titleFor(input.Doc.Kind),
		Subtotal:    money.FormatCents(input.Doc.Subtotal),
		TaxRate:     input.Doc.TaxRate.String(),
		TaxTotal:    money.FormatCents(input.Doc.TaxTotal),
		Total:       money.FormatCents(input.Doc.Total),
		AmountPaid:  money.FormatCents(input.Doc.AmountPaid),
		Balance:     money.FormatCents(input.Doc.Balance),
		ShowBalance: input.Doc.Kind == domain.KindInvoice && input.Doc.AmountPaid > 0,
	}
	for _, item := range input.Doc.Items {
		view.Lines = append(view.Lines, lineView{
			Description: item.Description,
			Quantity:    item.Quantity.String(),
			UnitPrice:   money.FormatCents(item.UnitPrice),
			Discount:    discountLabel(item),
			Amount:      money.FormatCents(money.LineTotal(item.Line())),
		})
	}

	var buf bytes.Buffer
	if err := documentTmpl.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("render document %s: %w", input.Doc.Number, err)
	}
	return buf.String(), nil
}

func titleFor(kind domain.Kind) string {
	if kind == domain.KindEstimate {
		return "Estimate"
	}
	return "Invoice"
}

func discountLabel(item domain.LineItem) string {
	if item.DiscountPercent.IsZero() {
		return ""
	}
	return item.DiscountPercent.String()
}
