// Package mailer delivers one HTML email per call to a mail provider.
package mailer

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/unclebandit/mailblast-backend/internal/config"
)

// Email is a single outbound message to one recipient.
type Email struct {
	To      string
	ToName  string
	Subject string
	HTML    string
}

// Transport sends one email and returns the provider's message id.
type Transport interface {
	Send(ctx context.Context, email Email) (string, error)
}

// New builds the transport selected by cfg.Provider.
func New(ctx context.Context, cfg config.MailConfig, log *logrus.Entry) (Transport, error) {
	switch cfg.Provider {
	case "ses":
		return NewSESTransport(ctx, cfg.SES, cfg.From)
	case "smtp":
		return NewSMTPTransport(cfg.SMTP, cfg.From), nil
	case "log", "":
		return NewLogTransport(log), nil
	default:
		return nil, fmt.Errorf("unknown mail provider %q", cfg.Provider)
	}
}
