package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"

	"github.com/wneessen/go-mail"

	"snapaid/internal/config"
	"snapaid/internal/logging"
)

// SMTPMailer sends email through an SMTP relay.
type SMTPMailer struct {
	cfg config.MailConfig
}

// NewSMTPMailer validates cfg and returns a mailer. A client is dialed per send.
func NewSMTPMailer(cfg config.MailConfig) (*SMTPMailer, error) {
	if cfg.Host == "" {
		return nil, errors.New("mail host must be configured")
	}
	if cfg.From == "" {
		return nil, errors.New("mail from address must be configured")
	}
	return &SMTPMailer{cfg: cfg}, nil
}

func (m *SMTPMailer) Send(ctx context.Context, e Email) error {
	msg := mail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return fmt.Errorf("set from: %w", err)
	}
	if err := msg.To(e.To); err != nil {
		return fmt.Errorf("set to: %w", err)
	}
	msg.Subject(e.Subject)
	msg.SetDate()
	msg.SetBodyString(mail.TypeTextHTML, e.HTML)

	opts := []mail.Option{
		mail.WithPort(m.cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTLSConfig(&tls.Config{
			ServerName:         m.cfg.Host,
			InsecureSkipVerify: m.cfg.InsecureSkipVerify,
		}),
	}
	if m.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.cfg.Username),
			mail.WithPassword(m.cfg.Password),
		)
	}
	client, err := mail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// LogMailer drops messages after logging them. It stands in when no SMTP host
// is configured.
type LogMailer struct{}

func (LogMailer) Send(ctx context.Context, e Email) error {
	logging.New("mail").Info("mail disabled, dropping email", "to", e.To, "subject", e.Subject)
	return nil
}
