// Package sweeper reclaims dispatch records stuck in pending. A record can
// be orphaned when its created event was never published or its processor
// died mid-flight; after the deadline the sweeper forces it into timeout so
// callers stop polling a dispatch that will never finish.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tmajic/go-dispatch-engine/internal/domain"
	"github.com/tmajic/go-dispatch-engine/internal/store"
	"github.com/tmajic/go-dispatch-engine/pkg/telemetry"
)

const timeoutMessage = "dispatch timed out"

// Elector decides which sweeper instance runs the sweep each interval.
type Elector interface {
	AcquireOrRenew(ctx context.Context) (bool, error)
}

// Sweeper periodically times out stale pending records.
type Sweeper struct {
	store    store.Store
	elector  Elector       // nil = always sweep (single instance)
	schedule cron.Schedule // nil = fixed interval
	logger   *slog.Logger
	interval time.Duration
	deadline time.Duration
	batch    int
}

// Option configures a Sweeper.
type Option func(*Sweeper)

func WithLogger(l *slog.Logger) Option    { return func(s *Sweeper) { s.logger = l } }
func WithElector(e Elector) Option        { return func(s *Sweeper) { s.elector = e } }
func WithInterval(d time.Duration) Option { return func(s *Sweeper) { s.interval = d } }
func WithDeadline(d time.Duration) Option { return func(s *Sweeper) { s.deadline = d } }
func WithBatchSize(n int) Option          { return func(s *Sweeper) { s.batch = n } }

// WithSchedule sweeps on a cron schedule instead of a fixed interval. Useful
// when sweeps should avoid peak hours.
func WithSchedule(sched cron.Schedule) Option { return func(s *Sweeper) { s.schedule = sched } }

// New constructs a Sweeper. The defaults sweep every 30 minutes and time
// out records pending for more than 2 hours.
func New(st store.Store, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:    st,
		logger:   slog.Default(),
		interval: 30 * time.Minute,
		deadline: 2 * time.Hour,
		batch:    500,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps on the configured interval, or the cron schedule when one is
// set, until ctx is cancelled. The first sweep happens immediately.
func (s *Sweeper) Run(ctx context.Context) {
	s.tick(ctx)

	if s.schedule != nil {
		s.runScheduled(ctx)
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) runScheduled(ctx context.Context) {
	for {
		next := s.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	if s.elector != nil {
		leader, err := s.elector.AcquireOrRenew(ctx)
		if err != nil {
			s.logger.Error("leader election failed", slog.String("error", err.Error()))
			return
		}
		if !leader {
			telemetry.SweeperRunsTotal.WithLabelValues("follower").Inc()
			return
		}
	}
	telemetry.SweeperRunsTotal.WithLabelValues("leader").Inc()

	swept, err := s.SweepStale(ctx)
	if err != nil {
		s.logger.Error("sweep failed", slog.String("error", err.Error()))
		return
	}
	if swept > 0 {
		s.logger.Info("sweep finished", slog.Int("swept", swept))
	}
}

// SweepStale times out every pending record older than the deadline and
// returns how many records it moved. Records that a processor finalizes
// mid-sweep lose nothing: the CAS write simply skips them.
func (s *Sweeper) SweepStale(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.deadline)

	stale, err := s.store.ListStalePending(ctx, cutoff, s.batch)
	if err != nil {
		return 0, fmt.Errorf("list stale pending: %w", err)
	}

	swept := 0
	for _, rec := range stale {
		err := s.store.UpdateStatus(ctx, rec.ID, domain.StatusPending, store.Transition{
			To:    domain.StatusTimeout,
			Error: &domain.Failure{Message: timeoutMessage, Code: domain.CodeTimeout},
		})
		if err != nil {
			var conflict *domain.ConflictError
			var notFound *domain.NotFoundError
			if errors.As(err, &conflict) || errors.As(err, &notFound) {
				continue
			}
			return swept, fmt.Errorf("timeout record %s: %w", rec.ID, err)
		}

		swept++
		telemetry.SweeperSweptTotal.Inc()
		s.logger.Warn("timed out stale dispatch",
			slog.String("dispatch_id", rec.ID),
			slog.Time("created_at", rec.CreatedAt),
		)
	}
	return swept, nil
}
