// Package mailer delivers transactional email for the auth flows.
package mailer

import (
	"context"
	"log/slog"

	"github.com/nimbusworks/auth-service/pkg/logger"
)

// Mailer delivers a message to a single recipient.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogMailer writes outgoing mail to the log instead of delivering it. Used
// in development and as the default until an SMTP relay is wired in.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer creates a log-only mailer.
func NewLogMailer(l *slog.Logger) *LogMailer {
	return &LogMailer{logger: l}
}

// Send logs the message. The body is not logged in full; reset links and
// codes stay out of log storage.
func (m *LogMailer) Send(ctx context.Context, to, subject, body string) error {
	m.logger.InfoContext(ctx, "email dispatched",
		slog.String("to", logger.Sanitize(to)),
		slog.String("subject", subject),
		slog.Int("body_bytes", len(body)),
	)
	return nil
}
