package notify

import (
	"context"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// LogSender writes messages to the context logger instead of sending them.
// It is used when no SMTP server is configured.
type LogSender struct{}

// Deliver logs m.
func (LogSender) Deliver(ctx context.Context, m Message) error {
	if m.To == "" {
		return ErrNoRecipient
	}
	zctx.From(ctx).Info("Notification",
		zap.String("to", m.To),
		zap.String("subject", m.Subject),
		zap.Int("body_bytes", len(m.Body)),
	)
	return nil
}
