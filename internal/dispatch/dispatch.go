// Package dispatch sends rendered documents and ledger confirmations over
// the notification transports. Sending is read-then-dispatch: the document
// is looked up as persisted and never re-saved along the way, so a retried
// send can't mint a duplicate record.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/servicepad/servicepad/internal/client"
	"github.com/servicepad/servicepad/internal/config"
	docdomain "github.com/servicepad/servicepad/internal/document/domain"
	"github.com/servicepad/servicepad/internal/money"
	"github.com/servicepad/servicepad/internal/notify"
	paydomain "github.com/servicepad/servicepad/internal/payment/domain"
	"github.com/servicepad/servicepad/internal/render"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

var (
	ErrInvalidChannel   = errors.New("invalid_channel")
	ErrInvalidRecipient = errors.New("invalid_recipient")
	ErrDeliveryFailed   = errors.New("delivery_failed")
	ErrSendInFlight     = errors.New("send_in_flight")
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9.!#$%&'*+/=?^_` + "`" + `{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)+$`)

type DispatcherParam struct {
	fx.In

	Cfg      config.Config
	Log      *zap.Logger
	Docs     docdomain.Service
	Clients  client.Directory
	Provider notify.Provider
}

type Dispatcher struct {
	cfg      config.Config
	log      *zap.Logger
	docs     docdomain.Service
	clients  client.Directory
	provider notify.Provider

	mu       sync.Mutex
	inflight map[snowflake.ID]struct{}
}

func NewDispatcher(p DispatcherParam) *Dispatcher {
	return &Dispatcher{
		cfg:      p.Cfg,
		log:      p.Log.Named("dispatch"),
		docs:     p.Docs,
		clients:  p.Clients,
		provider: p.Provider,
		inflight: map[snowflake.ID]struct{}{},
	}
}

// Send delivers a document over the given channel and, after transport
// acceptance, transitions draft -> sent exactly once. Repeat sends of an
// already sent document deliver again without touching the status. Delivery
// failure leaves the document exactly as it was.
func (d *Dispatcher) Send(ctx context.Context, documentID snowflake.ID, channel Channel, recipient string) (docdomain.Document, error) {
	recipient, err := ValidateRecipient(channel, recipient)
	if err != nil {
		return docdomain.Document{}, err
	}

	release, err := d.acquire(documentID)
	if err != nil {
		return docdomain.Document{}, err
	}
	defer release()

	doc, err := d.docs.Get(ctx, documentID)
	if err != nil {
		return docdomain.Document{}, err
	}
	if !sendable(doc.Status) {
		return docdomain.Document{}, docdomain.ErrNotSendable
	}

	if err := d.deliver(ctx, doc, channel, recipient); err != nil {
		d.log.Warn("delivery failed, document status unchanged",
			zap.String("number", doc.Number),
			zap.String("channel", string(channel)),
			zap.Error(err),
		)
		return docdomain.Document{}, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	return d.docs.MarkSent(ctx, documentID)
}

func (d *Dispatcher) deliver(ctx context.Context, doc docdomain.Document, channel Channel, recipient string) error {
	input := render.Input{
		Doc:          doc,
		BusinessName: d.cfg.BusinessName,
		ClientName:   d.clientName(ctx, doc.ClientID),
	}

	switch channel {
	case ChannelEmail:
		body, err := render.RenderHTML(input)
		if err != nil {
			return err
		}
		var attachment *notify.Attachment
		if pdf, err := render.RenderPDF(ctx, input); err != nil {
			// The HTML body still carries the full document.
			d.log.Warn("pdf attachment skipped", zap.String("number", doc.Number), zap.Error(err))
		} else {
			attachment = &notify.Attachment{
				Filename:    fmt.Sprintf("%s.pdf", doc.Number),
				ContentType: "application/pdf",
				Data:        pdf,
			}
		}
		subject := fmt.Sprintf("%s %s from %s", titleFor(doc.Kind), doc.Number, d.cfg.BusinessName)
		return d.provider.SendEmail(ctx, recipient, subject, body, attachment)

	case ChannelSMS:
		return d.provider.SendSMS(ctx, recipient, smsBody(doc, d.cfg.BusinessName))

	default:
		return ErrInvalidChannel
	}
}

// PaymentConfirmation satisfies the ledger's confirmation contract. The
// client's email is preferred, phone is the fallback; a client with no
// contact details is a reportable failure.
func (d *Dispatcher) PaymentConfirmation(ctx context.Context, invoice docdomain.Document, payment paydomain.Payment) error {
	subject := fmt.Sprintf("Payment received for invoice %s", invoice.Number)
	body := fmt.Sprintf("We received your payment of %s for invoice %s. Remaining balance: %s.",
		money.FormatCents(payment.Amount), invoice.Number, money.FormatCents(invoice.Balance))
	return d.confirm(ctx, invoice, subject, body)
}

func (d *Dispatcher) RefundConfirmation(ctx context.Context, invoice docdomain.Document, payment paydomain.Payment) error {
	subject := fmt.Sprintf("Refund issued for invoice %s", invoice.Number)
	body := fmt.Sprintf("Your payment of %s for invoice %s has been refunded. Remaining balance: %s.",
		money.FormatCents(payment.Amount), invoice.Number, money.FormatCents(invoice.Balance))
	return d.confirm(ctx, invoice, subject, body)
}

func (d *Dispatcher) confirm(ctx context.Context, invoice docdomain.Document, subject, body string) error {
	contact, err := d.clients.Lookup(ctx, invoice.ClientID)
	if err != nil {
		return err
	}
	if contact.Email != "" {
		return d.provider.SendEmail(ctx, contact.Email, subject, body, nil)
	}
	if contact.Phone != "" {
		return d.provider.SendSMS(ctx, contact.Phone, body)
	}
	return fmt.Errorf("client %s has no contact details: %w", contact.ID, ErrInvalidRecipient)
}

func (d *Dispatcher) clientName(ctx context.Context, clientID snowflake.ID) string {
	if clientID == 0 {
		return ""
	}
	contact, err := d.clients.Lookup(ctx, clientID)
	if err != nil {
		return ""
	}
	return contact.Name
}

func (d *Dispatcher) acquire(documentID snowflake.ID) (func(), error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inflight[documentID]; busy {
		return nil, ErrSendInFlight
	}
	d.inflight[documentID] = struct{}{}
	return func() {
		d.mu.Lock()
		delete(d.inflight, documentID)
		d.mu.Unlock()
	}, nil
}

// ValidateRecipient checks recipient shape per channel and returns the
// dispatchable form: emails as given, phones normalized to digits with an
// optional leading plus.
func ValidateRecipient(channel Channel, recipient string) (string, error) {
	recipient = strings.TrimSpace(recipient)
	switch channel {
	case ChannelEmail:
		if !emailPattern.MatchString(recipient) {
			return "", fmt.Errorf("%w: %q is not a valid email address", ErrInvalidRecipient, recipient)
		}
		return recipient, nil
	case ChannelSMS:
		normalized, err := NormalizePhone(recipient)
		if err != nil {
			return "", err
		}
		return normalized, nil
	default:
		return "", ErrInvalidChannel
	}
}

// NormalizePhone strips formatting punctuation and keeps a leading plus.
// Anything that does not reduce to 7-15 digits is rejected.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for i, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
			// formatting only
		default:
			return "", fmt.Errorf("%w: %q is not a dispatchable phone number", ErrInvalidRecipient, raw)
		}
	}
	digits := strings.TrimPrefix(b.String(), "+")
	if len(digits) < 7 || len(digits) > 15 {
		return "", fmt.Errorf("%w: %q is not a dispatchable phone number", ErrInvalidRecipient, raw)
	}
	return b.String(), nil
}

func smsBody(doc docdomain.Document, businessName string) string {
	body := fmt.Sprintf("%s %s from %s: total %s.",
		titleFor(doc.Kind), doc.Number, businessName, money.FormatCents(doc.Total))
	if doc.Kind == docdomain.KindInvoice && doc.Balance > 0 {
		body += fmt.Sprintf(" Balance due: %s.", money.FormatCents(doc.Balance))
	}
	return body
}

func titleFor(kind docdomain.Kind) string {
	if kind == docdomain.KindEstimate {
		return "Estimate"
	}
	return "Invoice"
}

func sendable(status docdomain.Status) bool {
	switch status {
	case docdomain.StatusConverted, docdomain.StatusExpired:
		return false
	default:
		return true
	}
}
