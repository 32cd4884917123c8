package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// AMQPDispatcher persists notifications and publishes them to a topic
// exchange for the push-delivery workers. The routing key is the recipient
// id, so a worker can bind per-user or with a wildcard.
type AMQPDispatcher struct {
	ch       *amqp.Channel
	exchange string
	store    Store
}

// NewAMQPDispatcher opens a channel on the given connection and declares the
// durable topic exchange.
func NewAMQPDispatcher(conn *amqp.Connection, exchange string, store Store) (*AMQPDispatcher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "open channel")
	}

	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return nil, errors.Wrap(err, "declare exchange")
	}

	return &AMQPDispatcher{ch: ch, exchange: exchange, store: store}, nil
}

// Send publishes the notification and persists its record. A publish failure
// is logged and swallowed: the record is still written, the notification is
// just "stored only" instead of "delivered via push".
func (d *AMQPDispatcher) Send(ctx context.Context, recipientID, title, body string, data map[string]string) error {
	n := &Notification{
		ID:          uuid.New().String(),
		RecipientID: recipientID,
		Title:       title,
		Body:        body,
		Data:        data,
		CreatedAt:   time.Now(),
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return errors.Wrap(err, "marshal notification")
	}

	if err := d.publish(ctx, recipientID, payload); err != nil {
		zctx.From(ctx).Warn("push publish failed, notification stored only",
			zap.String("recipient", recipientID),
			zap.Error(err),
		)
	} else {
		n.Delivered = true
	}

	if err := d.store.Save(ctx, n); err != nil {
		return errors.Wrap(err, "save notification")
	}
	return nil
}

func (d *AMQPDispatcher) publish(ctx context.Context, routingKey string, payload []byte) error {
	return d.ch.PublishWithContext(ctx,
		d.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Timestamp:    time.Now(),
			Body:         payload,
		},
	)
}

// Close releases the AMQP channel.
func (d *AMQPDispatcher) Close() error {
	return d.ch.Close()
}

// StoreDispatcher persists notifications without any push channel. Used when
// no broker is configured (local development, tests).
type StoreDispatcher struct {
	store Store
}

// NewStoreDispatcher creates a Dispatcher that only writes records.
func NewStoreDispatcher(store Store) *StoreDispatcher {
	return &StoreDispatcher{store: store}
}

// Send stores the notification record.
func (d *StoreDispatcher) Send(ctx context.Context, recipientID, title, body string, data map[string]string) error {
	n := &Notification{
		ID:          uuid.New().String(),
		RecipientID: recipientID,
		Title:       title,
		Body:        body,
		Data:        data,
		CreatedAt:   time.Now(),
	}
	if err := d.store.Save(ctx, n); err != nil {
		return errors.Wrap(err, "save notification")
	}
	return nil
}
