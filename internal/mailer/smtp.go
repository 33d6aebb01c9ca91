package mailer

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gopkg.in/mail.v2"

	"github.com/unclebandit/mailblast-backend/internal/config"
)

type smtpDialer interface {
	DialAndSend(m ...*mail.Message) error
}

// SMTPTransport sends email through a plain SMTP relay. The returned id is
// the Message-ID header it generates.
type SMTPTransport struct {
	dialer smtpDialer
	from   string
	domain string
}

func NewSMTPTransport(cfg config.SMTPConfig, from string) *SMTPTransport {
	return &SMTPTransport{
		dialer: mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   from,
		domain: cfg.Host,
	}
}

func (t *SMTPTransport) Send(ctx context.Context, email Email) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := uuid.NewString()

	message := mail.NewMessage()
	message.SetHeader("From", t.from)
	if email.ToName != "" {
		message.SetAddressHeader("To", email.To, email.ToName)
	} else {
		message.SetHeader("To", email.To)
	}
	message.SetHeader("Subject", email.Subject)
	message.SetHeader("Message-ID", fmt.Sprintf("<%s@%s>", id, t.domain))
	message.SetBody("text/html", email.HTML)

	if err := t.dialer.DialAndSend(message); err != nil {
		return "", err
	}
	return id, nil
}
