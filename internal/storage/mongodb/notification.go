package mongodb

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/techshop/storefront/internal/notify"
)

// NotificationStore implements notify.Store on the notifications
// collection.
type NotificationStore struct {
	col *mongo.Collection
}

var _ notify.Store = (*NotificationStore)(nil)

type notificationDoc struct {
	ID          string            `bson:"_id"`
	RecipientID string            `bson:"recipient_id"`
	Title       string            `bson:"title"`
	Body        string            `bson:"body"`
	Data        map[string]string `bson:"data,omitempty"`
	Delivered   bool              `bson:"delivered"`
	CreatedAt   time.Time         `bson:"created_at"`
}

func (s *NotificationStore) Save(ctx context.Context, n *notify.Notification) error {
	doc := notificationDoc{
		ID:          n.ID,
		RecipientID: n.RecipientID,
		Title:       n.Title,
		Body:        n.Body,
		Data:        n.Data,
		Delivered:   n.Delivered,
		CreatedAt:   n.CreatedAt,
	}
	if _, err := s.col.InsertOne(ctx, doc); err != nil {
		return errors.Wrap(err, "insert notification")
	}
	return nil
}
