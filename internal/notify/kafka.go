package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// MessageWriter is the subset of *kafka.Writer used by KafkaNotifier.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes events as JSON to one topic, keyed by letter id so
// all events of a letter stay ordered within a partition.
type KafkaNotifier struct {
	w     MessageWriter
	topic string
}

// ParseBrokers splits a comma-separated broker list, dropping blanks.
func ParseBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// NewKafkaNotifier builds a synchronous writer for topic on brokers.
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		// Let dev brokers create the topic on first publish.
		AllowAutoTopicCreation: true,
	}
	return &KafkaNotifier{w: w, topic: topic}
}

// NewKafkaNotifierWithWriter wraps an existing writer.
func NewKafkaNotifierWithWriter(w MessageWriter, topic string) *KafkaNotifier {
	return &KafkaNotifier{w: w, topic: topic}
}

// Notify publishes e.
func (k *KafkaNotifier) Notify(ctx context.Context, e Event) error {
	return k.publish(ctx, "Kafka.Publish", e.LetterID, string(e.Kind), e.ID, e)
}

// Dispatch publishes r for the mail relay. The write is synchronous, so a
// nil error means the broker acknowledged the reply.
func (k *KafkaNotifier) Dispatch(ctx context.Context, r Reply) error {
	return k.publish(ctx, "Kafka.Dispatch", r.LetterID, "reply", r.ID, r)
}

func (k *KafkaNotifier) publish(ctx context.Context, op string, letterID int64, kind, id string, payload any) error {
	ctx, span := otel.Tracer("notify/Kafka").Start(ctx, op,
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", k.topic),
			attribute.String("event.kind", kind),
			attribute.Int64("letter.id", letterID),
		),
	)
	defer span.End()

	data, err := json.Marshal(payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "marshal")
		return fmt.Errorf("marshal %s: %w", kind, err)
	}
	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(letterID, 10)),
		Value: data,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(kind)},
			{Key: "event_id", Value: []byte(id)},
		},
	}
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(&msg.Headers))
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write")
		return fmt.Errorf("kafka publish to %s: %w", k.topic, err)
	}
	return nil
}

// headerCarrier lets a propagator write trace context into message headers.
type headerCarrier []kafka.Header

var _ propagation.TextMapCarrier = (*headerCarrier)(nil)

func (h *headerCarrier) Get(key string) string {
	for _, kv := range *h {
		if kv.Key == key {
			return string(kv.Value)
		}
	}
	return ""
}

func (h *headerCarrier) Set(key, value string) {
	for i, kv := range *h {
		if kv.Key == key {
			(*h)[i].Value = []byte(value)
			return
		}
	}
	*h = append(*h, kafka.Header{Key: key, Value: []byte(value)})
}

func (h *headerCarrier) Keys() []string {
	keys := make([]string, len(*h))
	for i, kv := range *h {
		keys[i] = kv.Key
	}
	return keys
}

// Close flushes and closes the writer.
func (k *KafkaNotifier) Close() error { return k.w.Close() }
