// Package notify defines the outbound notification collaborator. The core
// only depends on transport acceptance; delivery confirmation beyond that
// is out of scope.
package notify

import "context"

// Attachment is an optional file shipped with an email.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

type Provider interface {
	SendEmail(ctx context.Context, to, subject, htmlBody string, attachment *Attachment) error
	SendSMS(ctx context.Context, to, body string) error
}

// NoOpProvider accepts everything without dispatching. Used in development
// and as the default when no transport is configured.
type NoOpProvider struct{}

func (NoOpProvider) SendEmail(ctx context.Context, to, subject, htmlBody string, attachment *Attachment) error {
	return nil
}

func (NoOpProvider) SendSMS(ctx context.Context, to, body string) error {
	return nil
}
