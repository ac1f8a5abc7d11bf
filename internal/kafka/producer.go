package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"github.com/tmajic/go-dispatch-engine/internal/domain"
)

// Topics used by the dispatch pipeline. The record id is always the message
// key, so every event for one record lands on the same partition in order.
const (
	TopicCreated       = "dispatch.created"
	TopicCancellations = "dispatch.cancellations"
	TopicDLQ           = "dispatch.dlq"
)

// Producer publishes messages to Kafka.
type Producer interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
	PublishEvent(ctx context.Context, topic string, ev domain.Event) error
	Close() error
}

type producer struct {
	writer *kafka.Writer
}

// NewProducer returns a producer for the given brokers. The hash balancer
// keeps same-key messages on one partition.
func NewProducer(brokers []string) Producer {
	return &producer{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		MaxAttempts:            3,
		WriteTimeout:           10 * time.Second,
		ReadTimeout:            10 * time.Second,
		AllowAutoTopicCreation: true,
	}}
}

func (p *producer) Publish(ctx context.Context, topic, key string, value []byte) error {
	// Carry the active trace into the message headers; the consumer picks
	// it back up on the other side.
	headers := make(HeaderCarrier, 0)
	otel.GetTextMapPropagator().Inject(ctx, &headers)

	msg := kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   value,
		Headers: []kafka.Header(headers),
		Time:    time.Now(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka publish to %s: %w", topic, err)
	}
	return nil
}

// PublishEvent marshals a trigger event and publishes it keyed by record id.
func (p *producer) PublishEvent(ctx context.Context, topic string, ev domain.Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event for %s: %w", ev.RecordID, err)
	}
	return p.Publish(ctx, topic, ev.RecordID, value)
}

func (p *producer) Close() error {
	return p.writer.Close()
}
