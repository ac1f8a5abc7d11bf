package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tmajic/go-dispatch-engine/internal/domain"
)

// Transition describes a CAS-guarded status change. Result and Error are
// mutually exclusive and may only accompany a terminal status.
type Transition struct {
	To     domain.Status
	Result json.RawMessage
	Error  *domain.Failure
}

// Store is durable persistence for dispatch records and the single source
// of truth for their status.
//
// UpdateStatus is conditioned on the caller's expected prior status. When
// two writers race on the same record, exactly one update takes effect; the
// loser receives a ConflictError carrying the status that won. This is the
// most important correctness contract in the engine.
type Store interface {
	// Create persists a new record. The record must be pending.
	Create(ctx context.Context, rec *domain.DispatchRecord) error

	// Get returns the record or a NotFoundError.
	Get(ctx context.Context, id string) (*domain.DispatchRecord, error)

	// UpdateStatus applies change only if the record's current status equals
	// expected (compare-and-swap). It bumps updated_at, and sets completed_at
	// when change.To is terminal. Returns NotFoundError or ConflictError.
	UpdateStatus(ctx context.Context, id string, expected domain.Status, change Transition) error

	// ListStalePending returns pending records created before olderThan,
	// oldest first, up to limit.
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*domain.DispatchRecord, error)
}
