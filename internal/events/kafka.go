// Package events publishes order lifecycle events.
package events

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/xenking/kart-checkout/internal/domain/order"
)

// DefaultTopic receives order events when no topic is configured.
const DefaultTopic = "kart.orders"

var (
	_ order.EventPublisher = (*KafkaPublisher)(nil)
	_ order.EventPublisher = Nop{}
)

type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Ping(ctx context.Context) error
	Close()
}

// KafkaPublisher writes events to a Kafka topic keyed by order id, so events
// of one order keep their order within a partition.
type KafkaPublisher struct {
	client producer
	topic  string
}

// NewKafkaPublisher connects to brokers. An empty topic selects DefaultTopic.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}
	if topic == "" {
		topic = DefaultTopic
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(5*time.Millisecond),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create kafka client")
	}
	return &KafkaPublisher{client: client, topic: topic}, nil
}

// Publish writes e and waits for the broker acknowledgement.
func (p *KafkaPublisher) Publish(ctx context.Context, e order.Event) error {
	rec := &kgo.Record{
		Key:   []byte(e.OrderID),
		Value: Encode(e),
		Headers: []kgo.RecordHeader{
			{Key: "event-type", Value: []byte(e.Type)},
		},
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return errors.Wrapf(err, "produce %s", e.Type)
	}
	return nil
}

// Ping checks broker connectivity.
func (p *KafkaPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// Close flushes and closes the client.
func (p *KafkaPublisher) Close() {
	p.client.Close()
}

// Encode renders e as the JSON event payload.
func Encode(e order.Event) []byte {
	w := jx.GetEncoder()
	defer jx.PutEncoder(w)

	w.Obj(func(w *jx.Encoder) {
		w.Field("type", func(w *jx.Encoder) { w.Str(string(e.Type)) })
		w.Field("orderId", func(w *jx.Encoder) { w.Str(e.OrderID) })
		w.Field("userId", func(w *jx.Encoder) { w.Str(e.UserID) })
		w.Field("status", func(w *jx.Encoder) { w.Str(string(e.Status)) })
		w.Field("total", func(w *jx.Encoder) { w.Str(e.Total.StringFixed(2)) })
		w.Field("occurredAt", func(w *jx.Encoder) { w.Str(e.OccurredAt.UTC().Format(time.RFC3339Nano)) })
	})
	return append([]byte(nil), w.Bytes()...)
}

// Nop discards events.
type Nop struct{}

// Publish implements order.EventPublisher.
func (Nop) Publish(context.Context, order.Event) error { return nil }
