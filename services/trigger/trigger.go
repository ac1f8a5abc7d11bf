// Package trigger consumes dispatch lifecycle events from Kafka and drives
// the coordinator. Delivery is at-least-once: offsets are committed only
// after the coordinator reports an outcome, and every duplicate-sensitive
// effect is guarded by the coordinator's CAS, so redelivery is always safe.
package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/tmajic/go-dispatch-engine/internal/domain"
	"github.com/tmajic/go-dispatch-engine/internal/kafka"
	redisstore "github.com/tmajic/go-dispatch-engine/internal/redis"
	"github.com/tmajic/go-dispatch-engine/pkg/telemetry"
)

// Processor is the slice of the coordinator the trigger adapters need.
type Processor interface {
	Process(ctx context.Context, id string) error
	HandleCancellation(ctx context.Context, id string) error
}

// Trigger owns the two event consumers: created events feed Process,
// cancellation events feed HandleCancellation.
type Trigger struct {
	processor    Processor
	created      kafka.Consumer
	cancellation kafka.Consumer
	producer     kafka.Producer
	dedup        redisstore.Dedup // nil = disabled
	logger       *slog.Logger
}

// Option configures a Trigger.
type Option func(*Trigger)

func WithLogger(l *slog.Logger) Option    { return func(t *Trigger) { t.logger = l } }
func WithDedup(d redisstore.Dedup) Option { return func(t *Trigger) { t.dedup = d } }

// New constructs a Trigger over the given consumers.
func New(processor Processor, created, cancellation kafka.Consumer, producer kafka.Producer, opts ...Option) *Trigger {
	t := &Trigger{
		processor:    processor,
		created:      created,
		cancellation: cancellation,
		producer:     producer,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run subscribes both consumers and blocks until ctx is cancelled. The
// first consumer error also stops the other via the shared context.
func (t *Trigger) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	run := func(c kafka.Consumer, h kafka.HandlerFunc) {
		defer wg.Done()
		if err := c.Subscribe(ctx, h); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
			cancel()
		}
	}

	wg.Add(2)
	go run(t.created, t.HandleCreated)
	go run(t.cancellation, t.HandleCancellationRequest)
	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

// HandleCreated is the HandlerFunc for the created-events topic. A nil
// return commits the offset; infrastructure errors return non-nil so the
// event is redelivered.
func (t *Trigger) HandleCreated(ctx context.Context, msg kafka.Message) error {
	return t.handle(ctx, msg, domain.EventCreated, t.processor.Process)
}

// HandleCancellationRequest is the HandlerFunc for the cancellations topic.
func (t *Trigger) HandleCancellationRequest(ctx context.Context, msg kafka.Message) error {
	return t.handle(ctx, msg, domain.EventCancellationRequest, t.processor.HandleCancellation)
}

func (t *Trigger) handle(ctx context.Context, msg kafka.Message, kind domain.EventKind, act func(context.Context, string) error) error {
	var ev domain.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		t.logger.Error("malformed trigger event, moving to dlq",
			slog.String("topic", msg.Topic),
			slog.String("error", err.Error()),
		)
		t.toDLQ(ctx, msg)
		telemetry.TriggerEventsHandled.WithLabelValues(string(kind), "malformed").Inc()
		return nil
	}

	ctx, span := otel.Tracer("trigger").Start(ctx, "trigger.handle_event")
	defer span.End()
	span.SetAttributes(
		attribute.String("dispatch.id", ev.RecordID),
		attribute.String("event.kind", string(ev.Kind)),
	)

	log := t.logger.With(
		slog.String("dispatch_id", ev.RecordID),
		slog.String("kind", string(ev.Kind)),
	)

	// Fast-path duplicate skip. The CAS in the coordinator remains the
	// authoritative guard, so a missing marker only costs a store read.
	if t.dedup != nil {
		key := string(ev.Kind) + ":" + ev.RecordID
		if first, err := t.dedup.FirstDelivery(ctx, key); err == nil && !first {
			log.Info("duplicate delivery, skipping")
			telemetry.TriggerEventsHandled.WithLabelValues(string(kind), "duplicate").Inc()
			return nil
		}
	}

	err := act(ctx, ev.RecordID)
	switch {
	case err == nil:
		telemetry.TriggerEventsHandled.WithLabelValues(string(kind), "processed").Inc()
		return nil

	case isBenignOutcome(err):
		// The record already moved on (duplicate delivery, a racing
		// processor, or a cancellation that arrived after completion).
		// Commit so the event is not replayed forever.
		log.Info("event is a no-op", slog.String("reason", err.Error()))
		telemetry.TriggerEventsHandled.WithLabelValues(string(kind), "noop").Inc()
		return nil

	case isNotFound(err):
		// Events reference records written before publishing, so a missing
		// record will not appear on retry.
		log.Error("event references unknown record, moving to dlq", slog.String("error", err.Error()))
		span.RecordError(err)
		t.toDLQ(ctx, msg)
		telemetry.TriggerEventsHandled.WithLabelValues(string(kind), "orphaned").Inc()
		return nil

	default:
		log.Error("event handling failed, leaving for redelivery", slog.String("error", err.Error()))
		span.RecordError(err)
		span.SetStatus(codes.Error, "event handling failed")
		telemetry.TriggerEventsHandled.WithLabelValues(string(kind), "error").Inc()
		return err
	}
}

func (t *Trigger) toDLQ(ctx context.Context, msg kafka.Message) {
	if err := t.producer.Publish(ctx, kafka.TopicDLQ, string(msg.Key), msg.Value); err != nil {
		t.logger.Error("dlq publish failed", slog.String("error", err.Error()))
		return
	}
	telemetry.TriggerDLQTotal.Inc()
}

func isBenignOutcome(err error) bool {
	var finalized *domain.AlreadyFinalizedError
	var conflict *domain.ConflictError
	return errors.As(err, &finalized) || errors.As(err, &conflict)
}

func isNotFound(err error) bool {
	var notFound *domain.NotFoundError
	return errors.As(err, &notFound)
}
