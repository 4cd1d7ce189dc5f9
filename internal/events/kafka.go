// Package events publishes order lifecycle events to Kafka.
package events

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/order"
)

// Writer is the part of *kafka.Writer used by KafkaNotifier.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// publishTimeout bounds one publish. Notify runs on the request path after
// commit, so a slow broker delays the response by at most this long.
const publishTimeout = time.Second

// KafkaNotifier writes order events keyed by order id, so every event of
// one order lands on the same partition in commit order.
type KafkaNotifier struct {
	w       Writer
	timeout time.Duration
}

var _ order.Notifier = (*KafkaNotifier)(nil)

// NewKafkaWriter creates a writer for topic on brokers.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}
}

// NewKafkaNotifier creates a KafkaNotifier writing through w.
func NewKafkaNotifier(w Writer) *KafkaNotifier {
	return &KafkaNotifier{w: w, timeout: publishTimeout}
}

// Notify implements order.Notifier. Events are sent after the transaction
// has committed, so a publish failure is logged and never returned.
func (n *KafkaNotifier) Notify(ctx context.Context, e order.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(e.Order.ID, 10)),
		Value: Encode(e),
		Time:  e.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Kind)},
		},
	}
	if err := n.w.WriteMessages(ctx, msg); err != nil {
		zctx.From(ctx).Error("Publish order event",
			zap.String("event", string(e.Kind)),
			zap.Int64("order_id", e.Order.ID),
			zap.Error(err),
		)
	}
}

// Close flushes pending messages.
func (n *KafkaNotifier) Close() error {
	if err := n.w.Close(); err != nil {
		return errors.Wrap(err, "close kafka writer")
	}
	return nil
}

// Encode renders e as the event JSON document.
func Encode(e order.Event) []byte {
	var w jx.Encoder
	w.ObjStart()
	w.FieldStart("type")
	w.Str(string(e.Kind))
	w.FieldStart("orderId")
	w.Int64(e.Order.ID)
	w.FieldStart("userId")
	w.Int64(e.Order.UserID)
	w.FieldStart("status")
	w.Str(string(e.Order.Status))
	w.FieldStart("totalAmount")
	w.Str(e.Order.Total.StringFixed(2))
	w.FieldStart("trackingCode")
	if e.Order.TrackingCode != nil {
		w.Str(*e.Order.TrackingCode)
	} else {
		w.Null()
	}
	w.FieldStart("occurredAt")
	w.Str(e.OccurredAt.UTC().Format(time.RFC3339Nano))
	w.ObjEnd()
	return w.Bytes()
}
