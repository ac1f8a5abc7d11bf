package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Message is the slice of a Kafka message the trigger adapters care about.
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Offset  int64
	Headers []kafka.Header
}

// HandlerFunc processes one message. A nil return commits the offset; an
// error leaves it uncommitted so Kafka redelivers.
type HandlerFunc func(ctx context.Context, msg Message) error

// Consumer reads messages from one topic as part of a consumer group.
type Consumer interface {
	Subscribe(ctx context.Context, handler HandlerFunc) error
	Close() error
}

type consumer struct {
	reader *kafka.Reader
	logger *slog.Logger
}

// NewConsumer returns a group consumer for topic. Offsets are committed
// manually, never on an interval.
func NewConsumer(brokers []string, topic, groupID string, logger *slog.Logger) Consumer {
	return &consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			Topic:          topic,
			GroupID:        groupID,
			MinBytes:       1,
			MaxBytes:       10e6,
			MaxWait:        500 * time.Millisecond,
			CommitInterval: 0,
			StartOffset:    kafka.FirstOffset,
		}),
		logger: logger,
	}
}

// Subscribe fetches and handles messages until ctx is cancelled. Delivery
// is at-least-once: the offset is committed only after the handler returns
// nil, so a crash between handling and commit redelivers, and the CAS
// status write downstream absorbs the duplicate.
func (c *consumer) Subscribe(ctx context.Context, handler HandlerFunc) error {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil // normal shutdown
			}
			return fmt.Errorf("kafka fetch: %w", err)
		}

		if ok := c.handle(ctx, m, handler); !ok {
			continue // offset stays put, Kafka redelivers
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil {
			c.logger.Error("kafka offset commit failed",
				slog.String("topic", m.Topic),
				slog.Int64("offset", m.Offset),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (c *consumer) handle(ctx context.Context, m kafka.Message, handler HandlerFunc) bool {
	// Rejoin the trace the producer injected into the headers and open a
	// consumer span around the handler call.
	carrier := HeaderCarrier(m.Headers)
	msgCtx := otel.GetTextMapPropagator().Extract(ctx, &carrier)
	msgCtx, span := otel.Tracer("kafka").Start(msgCtx, m.Topic+" receive",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", m.Topic),
			attribute.Int64("messaging.kafka.offset", m.Offset),
		),
	)
	defer span.End()

	err := handler(msgCtx, Message{
		Topic:   m.Topic,
		Key:     m.Key,
		Value:   m.Value,
		Offset:  m.Offset,
		Headers: m.Headers,
	})
	if err != nil {
		c.logger.Error("message handler failed, skipping commit",
			slog.String("topic", m.Topic),
			slog.Int64("offset", m.Offset),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

func (c *consumer) Close() error {
	return c.reader.Close()
}
