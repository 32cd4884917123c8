// Package notify delivers best-effort user notifications: every notification
// is persisted as a record first, then pushed over a realtime channel when
// one is available. Push failures leave the stored record intact.
package notify

import (
	"context"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Notification is the stored record of a dispatched notification.
type Notification struct {
	ID          string
	RecipientID string
	Title       string
	Body        string
	Data        map[string]string
	Delivered   bool
	CreatedAt   time.Time
}

// Store persists notification records.
type Store interface {
	Save(ctx context.Context, n *Notification) error
}

// Dispatcher sends a notification to a recipient. Implementations must keep
// the stored record even when live delivery fails.
type Dispatcher interface {
	Send(ctx context.Context, recipientID, title, body string, data map[string]string) error
}

// BestEffort dispatches a notification and swallows any failure, logging it
// through the request-scoped logger. Callers use it for side effects that
// must never fail or roll back the primary operation.
func BestEffort(ctx context.Context, d Dispatcher, recipientID, title, body string, data map[string]string) {
	if d == nil {
		return
	}
	if err := d.Send(ctx, recipientID, title, body, data); err != nil {
		zctx.From(ctx).Warn("notification dispatch failed",
			zap.String("recipient", recipientID),
			zap.String("title", title),
			zap.Error(err),
		)
	}
}
