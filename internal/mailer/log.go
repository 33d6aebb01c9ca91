package mailer

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/unclebandit/mailblast-backend/internal/logger"
)

// LogTransport records sends in the log without contacting a provider.
// Used in development and when no provider is configured.
type LogTransport struct {
	log *logrus.Entry
}

func NewLogTransport(log *logrus.Entry) *LogTransport {
	return &LogTransport{log: log}
}

func (t *LogTransport) Send(ctx context.Context, email Email) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	t.log.WithFields(logrus.Fields{
		"to":         logger.RedactEmail(email.To),
		"subject":    email.Subject,
		"message_id": id,
	}).Info("email accepted by log transport")
	return id, nil
}
