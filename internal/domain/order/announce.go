package order

import (
	"context"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// announcer dispatches the notification and event that follow a committed
// state change. Both are best-effort: failures are logged and swallowed.
type announcer struct {
	notifier Notifier
	events   EventPublisher
}

func (a announcer) announce(ctx context.Context, kind NotificationKind, evt EventType, o *Order, at time.Time) {
	lg := zctx.From(ctx)

	if a.notifier != nil {
		if o.Address.Email == "" {
			lg.Debug("Order has no contact email, skipping notification")
		} else if err := a.notifier.Send(ctx, Notification{
			To:    o.Address.Email,
			Kind:  kind,
			Order: *o,
		}); err != nil {
			lg.Warn("Notification not dispatched",
				zap.String("kind", string(kind)),
				zap.Error(err),
			)
		}
	}

	if a.events != nil {
		if err := a.events.Publish(ctx, Event{
			Type:       evt,
			OrderID:    o.ID,
			UserID:     o.UserID,
			Status:     o.Status,
			Total:      o.Amounts.Total,
			OccurredAt: at,
		}); err != nil {
			lg.Warn("Order event not published",
				zap.String("event", string(evt)),
				zap.Error(err),
			)
		}
	}
}
