package notify

import (
	"context"

	"github.com/servicepad/servicepad/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("notify",
	fx.Provide(NewFromConfig),
)

type provider struct {
	email *SMTPSender
	sms   *SMSGateway
}

// NewFromConfig assembles the transport provider. Channels without
// configuration fall back to no-op acceptance so development environments
// never block on delivery.
func NewFromConfig(cfg config.Config) Provider {
	p := &provider{}
	if cfg.SMTPHost != "" {
		p.email = NewSMTP(SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
	}
	if cfg.SMSGatewayURL != "" {
		p.sms = NewSMSGateway(SMSConfig{
			GatewayURL: cfg.SMSGatewayURL,
			AuthToken:  cfg.SMSGatewayToken,
		})
	}
	return p
}

func (p *provider) SendEmail(ctx context.Context, to, subject, htmlBody string, attachment *Attachment) error {
	if p.email == nil {
		return nil
	}
	return p.email.Send(ctx, to, subject, htmlBody, attachment)
}

func (p *provider) SendSMS(ctx context.Context, to, body string) error {
	if p.sms == nil {
		return nil
	}
	return p.sms.Send(ctx, to, body)
}
