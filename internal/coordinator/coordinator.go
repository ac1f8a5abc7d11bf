// Package coordinator implements the dispatch lifecycle: submission,
// status reads, cancellation, processing, and the synchronous routing path.
//
// The coordinator is deliberately stateless: every decision re-reads the
// record store, and every transition is CAS-guarded on the expected prior
// status, so any number of coordinator instances can run against the same
// store. The only process-local state is the in-flight cancel table, a
// best-effort optimization for interrupting agent calls running in this
// process; cross-process cancellation still works because the CAS check
// withholds a result once the record has left pending.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/tmajic/go-dispatch-engine/internal/domain"
	"github.com/tmajic/go-dispatch-engine/internal/kafka"
	redisstore "github.com/tmajic/go-dispatch-engine/internal/redis"
	"github.com/tmajic/go-dispatch-engine/internal/router"
	"github.com/tmajic/go-dispatch-engine/internal/store"
	"github.com/tmajic/go-dispatch-engine/pkg/retry"
	"github.com/tmajic/go-dispatch-engine/pkg/telemetry"
)

// Coordinator drives dispatch records through their lifecycle.
type Coordinator struct {
	store    store.Store
	router   router.Router
	producer kafka.Producer
	cache    redisstore.RecordCache // nil = disabled
	logger   *slog.Logger

	writeAttempts  int
	writeBaseDelay time.Duration
	routeTimeout   time.Duration // 0 = no per-dispatch deadline

	// inflight maps record id to the cancel func of the agent call running
	// in this process, if any.
	inflight sync.Map
}

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithLogger(l *slog.Logger) Option              { return func(c *Coordinator) { c.logger = l } }
func WithCache(cache redisstore.RecordCache) Option { return func(c *Coordinator) { c.cache = cache } }
func WithWriteRetries(n int) Option                 { return func(c *Coordinator) { c.writeAttempts = n } }
func WithWriteBaseDelay(d time.Duration) Option     { return func(c *Coordinator) { c.writeBaseDelay = d } }
func WithRouteTimeout(d time.Duration) Option       { return func(c *Coordinator) { c.routeTimeout = d } }

// New constructs a Coordinator with the given dependencies and options.
func New(st store.Store, rt router.Router, producer kafka.Producer, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:          st,
		router:         rt,
		producer:       producer,
		logger:         slog.Default(),
		writeAttempts:  3,
		writeBaseDelay: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dispatch validates the payload, persists a pending record, and publishes
// the created event. It returns as soon as the record is durable; the agent
// invocation happens later when a trigger adapter picks up the event.
func (c *Coordinator) Dispatch(
	ctx context.Context,
	identity domain.Identity,
	payload domain.Payload,
	options map[string]string,
) (*domain.DispatchRecord, error) {
	ctx, span := otel.Tracer("coordinator").Start(ctx, "coordinator.dispatch")
	defer span.End()

	if err := validatePayload(payload); err != nil {
		return nil, err
	}
	if err := c.router.Resolve(payload.TargetID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rec := &domain.DispatchRecord{
		ID:        uuid.New().String(),
		Owner:     identity.Subject,
		Payload:   payload,
		Options:   options,
		Status:    domain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	span.SetAttributes(
		attribute.String("dispatch.id", rec.ID),
		attribute.String("dispatch.target", payload.TargetID),
	)

	if err := c.writeWithRetry(ctx, "create", func() error {
		return c.store.Create(ctx, rec)
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create failed")
		return nil, fmt.Errorf("create dispatch record: %w", err)
	}

	// A publish failure leaves a durable pending record with no event; the
	// sweeper reclaims it after the deadline, so the caller still gets a
	// truthful error here without a phantom in-flight dispatch.
	ev := domain.Event{RecordID: rec.ID, Kind: domain.EventCreated, EmittedAt: now}
	if err := c.producer.PublishEvent(ctx, kafka.TopicCreated, ev); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "event publish failed")
		return nil, fmt.Errorf("publish created event for %s: %w", rec.ID, err)
	}

	telemetry.GatewayDispatchesSubmitted.WithLabelValues(payload.TargetID).Inc()
	c.logger.Info("dispatch created",
		slog.String("dispatch_id", rec.ID),
		slog.String("target", payload.TargetID),
		slog.String("owner", rec.Owner),
	)
	return rec, nil
}

// GetStatus returns the record after an ownership check. Terminal records
// may be served from the cache because they are immutable; anything live is
// always read from the store.
func (c *Coordinator) GetStatus(ctx context.Context, identity domain.Identity, id string) (*domain.DispatchRecord, error) {
	if c.cache != nil {
		if rec, err := c.cache.Get(ctx, id); err == nil && rec.Status.IsTerminal() {
			return c.authorize(identity, rec)
		}
	}

	rec, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.authorize(identity, rec)
}

// Cancel requests cancellation of a pending dispatch. Cancelling finished
// work is a benign no-op: accepted=false, no error.
func (c *Coordinator) Cancel(ctx context.Context, identity domain.Identity, id string) (bool, error) {
	rec, err := c.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if !identity.MayAccess(rec) {
		return false, &domain.PermissionDeniedError{RecordID: id, Subject: identity.Subject}
	}

	switch {
	case rec.Status.IsTerminal():
		telemetry.CoordinatorCancellations.WithLabelValues("rejected").Inc()
		return false, nil
	case rec.Status == domain.StatusCancellationRequested:
		// Duplicate cancel call; the request already stands, but the first
		// call may have died before its event went out. Republishing is
		// safe: HandleCancellation is CAS-guarded, so a second delivery is
		// a no-op.
		return true, c.publishCancellation(ctx, id)
	}

	err = c.casUpdate(ctx, "cancel", rec.ID, domain.StatusPending, store.Transition{
		To: domain.StatusCancellationRequested,
	})
	if err != nil {
		var conflict *domain.ConflictError
		if errors.As(err, &conflict) {
			// Lost the race. Accept only if the winner was another cancel,
			// and publish again in case the winner's publish never landed.
			if conflict.Actual == domain.StatusCancellationRequested {
				return true, c.publishCancellation(ctx, id)
			}
			telemetry.CoordinatorCancellations.WithLabelValues("rejected").Inc()
			return false, nil
		}
		return false, err
	}

	if err := c.publishCancellation(ctx, id); err != nil {
		// The status flip is durable; only this event can finish the
		// cancellation, so report the failure and let the caller retry.
		return true, err
	}

	telemetry.CoordinatorCancellations.WithLabelValues("accepted").Inc()
	c.logger.Info("cancellation requested", slog.String("dispatch_id", id))
	return true, nil
}

func (c *Coordinator) publishCancellation(ctx context.Context, id string) error {
	ev := domain.Event{RecordID: id, Kind: domain.EventCancellationRequest, EmittedAt: time.Now().UTC()}
	if err := c.producer.PublishEvent(ctx, kafka.TopicCancellations, ev); err != nil {
		return fmt.Errorf("publish cancellation event for %s: %w", id, err)
	}
	return nil
}

// Process runs the agent for a pending record and writes the terminal
// outcome. Safe under duplicate delivery: any record not exactly pending is
// reported as a no-op via AlreadyFinalizedError, and the terminal write is
// CAS-guarded so two racing processors produce exactly one effect.
func (c *Coordinator) Process(ctx context.Context, id string) error {
	ctx, span := otel.Tracer("coordinator").Start(ctx, "coordinator.process")
	defer span.End()
	span.SetAttributes(attribute.String("dispatch.id", id))

	rec, err := c.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status != domain.StatusPending {
		return &domain.AlreadyFinalizedError{RecordID: id, Status: rec.Status}
	}

	log := c.logger.With(
		slog.String("dispatch_id", id),
		slog.String("target", rec.Payload.TargetID),
	)

	var runCtx context.Context
	var cancel context.CancelFunc
	if c.routeTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, c.routeTimeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	c.inflight.Store(id, cancel)
	telemetry.CoordinatorInFlight.Inc()
	defer func() {
		telemetry.CoordinatorInFlight.Dec()
		c.inflight.Delete(id)
		cancel()
	}()

	start := time.Now()
	result, routeErr := c.route(runCtx, rec)
	telemetry.CoordinatorRouteDuration.WithLabelValues(rec.Payload.TargetID).Observe(time.Since(start).Seconds())

	change := store.Transition{To: domain.StatusCompleted, Result: result}
	if routeErr != nil {
		span.RecordError(routeErr)
		span.SetStatus(codes.Error, "agent routing failed")
		change = store.Transition{
			To:    domain.StatusFailed,
			Error: &domain.Failure{Message: routeErr.Error(), Code: domain.CodeInternal},
		}
	}

	if err := c.casUpdate(ctx, "process", id, domain.StatusPending, change); err != nil {
		var conflict *domain.ConflictError
		if errors.As(err, &conflict) {
			// Another writer (duplicate processor, cancel, or sweeper) moved
			// the record first; our outcome is discarded by design.
			log.Info("terminal write rejected, record moved concurrently",
				slog.String("status", string(conflict.Actual)),
			)
			return err
		}
		return fmt.Errorf("finalize dispatch %s: %w", id, err)
	}

	c.cacheTerminal(ctx, id)
	telemetry.CoordinatorProcessed.WithLabelValues(string(change.To)).Inc()
	if routeErr != nil {
		log.Error("dispatch failed", slog.String("error", routeErr.Error()))
	} else {
		log.Info("dispatch completed", slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	}
	return nil
}

// route invokes the agent router, converting panics into errors so a
// misbehaving agent can never leave the record stuck in pending.
func (c *Coordinator) route(ctx context.Context, rec *domain.DispatchRecord) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent panicked: %v", r)
		}
	}()
	return c.router.Route(ctx, rec.Payload.TargetID, rec.Payload)
}

// HandleCancellation completes a requested cancellation: it interrupts any
// agent call running in this process and moves the record to cancelled.
func (c *Coordinator) HandleCancellation(ctx context.Context, id string) error {
	rec, err := c.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status != domain.StatusCancellationRequested {
		return &domain.AlreadyFinalizedError{RecordID: id, Status: rec.Status}
	}

	// Best effort: stops the agent call only if it runs in this process.
	// Callers are told cancellation is "requested, not guaranteed".
	if fn, ok := c.inflight.Load(id); ok {
		fn.(context.CancelFunc)()
	}

	err = c.casUpdate(ctx, "handle_cancellation", id, domain.StatusCancellationRequested, store.Transition{
		To: domain.StatusCancelled,
	})
	if err != nil {
		return err
	}

	c.cacheTerminal(ctx, id)
	telemetry.CoordinatorProcessed.WithLabelValues(string(domain.StatusCancelled)).Inc()
	c.logger.Info("dispatch cancelled", slog.String("dispatch_id", id))
	return nil
}

// RouteToAgent is the blocking convenience path: it creates the record and
// processes it inline, so the caller waits for the outcome. The trigger
// event published for the record is absorbed later by Process's
// duplicate-delivery guard.
func (c *Coordinator) RouteToAgent(
	ctx context.Context,
	identity domain.Identity,
	payload domain.Payload,
	options map[string]string,
) (*domain.DispatchRecord, error) {
	rec, err := c.Dispatch(ctx, identity, payload, options)
	if err != nil {
		return nil, err
	}

	if err := c.Process(ctx, rec.ID); err != nil {
		var benign *domain.AlreadyFinalizedError
		var conflict *domain.ConflictError
		if !errors.As(err, &benign) && !errors.As(err, &conflict) {
			return nil, err
		}
		// A trigger adapter beat us to it; the record carries the outcome.
	}

	return c.store.Get(ctx, rec.ID)
}

func (c *Coordinator) authorize(identity domain.Identity, rec *domain.DispatchRecord) (*domain.DispatchRecord, error) {
	if !identity.MayAccess(rec) {
		return nil, &domain.PermissionDeniedError{RecordID: rec.ID, Subject: identity.Subject}
	}
	return rec, nil
}

// casUpdate performs one CAS transition, retrying infrastructure errors at
// the write layer. CAS conflicts and missing records are never retried:
// they are outcomes, not faults.
func (c *Coordinator) casUpdate(ctx context.Context, op, id string, expected domain.Status, change store.Transition) error {
	if !expected.CanTransitionTo(change.To) {
		return &domain.InvalidTransitionError{RecordID: id, From: expected, To: change.To}
	}

	err := c.writeWithRetry(ctx, op, func() error {
		return c.store.UpdateStatus(ctx, id, expected, change)
	})

	var conflict *domain.ConflictError
	if errors.As(err, &conflict) {
		telemetry.CoordinatorCASConflicts.WithLabelValues(op).Inc()
	}
	return err
}

func (c *Coordinator) writeWithRetry(ctx context.Context, op string, fn func() error) error {
	return retry.Do(ctx, retry.Config{
		MaxAttempts: c.writeAttempts,
		BaseDelay:   c.writeBaseDelay,
		RetryIf: func(err error) bool {
			var conflict *domain.ConflictError
			var notFound *domain.NotFoundError
			return !errors.As(err, &conflict) && !errors.As(err, &notFound)
		},
		OnRetry: func(attempt int, err error) {
			c.logger.Warn("store write failed, retrying",
				slog.String("operation", op),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		},
	}, fn)
}

// cacheTerminal caches the record after a terminal transition. Terminal
// records are immutable, so a stale cache entry cannot exist.
func (c *Coordinator) cacheTerminal(ctx context.Context, id string) {
	if c.cache == nil {
		return
	}
	rec, err := c.store.Get(ctx, id)
	if err != nil {
		return
	}
	if err := c.cache.Put(ctx, rec); err != nil {
		c.logger.Warn("record cache write failed",
			slog.String("dispatch_id", id),
			slog.String("error", err.Error()),
		)
	}
}

func validatePayload(p domain.Payload) error {
	if strings.TrimSpace(p.Type) == "" {
		return &domain.InvalidArgumentError{Field: "payload.type", Reason: "must not be empty"}
	}
	if strings.TrimSpace(p.Content) == "" {
		return &domain.InvalidArgumentError{Field: "payload.content", Reason: "must not be empty"}
	}
	if strings.TrimSpace(p.TargetID) == "" {
		return &domain.InvalidArgumentError{Field: "payload.target_id", Reason: "must not be empty"}
	}
	return nil
}
