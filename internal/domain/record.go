package domain

import (
	"encoding/json"
	"time"
)

// Status represents the lifecycle states of a dispatch record.
type Status string

const (
	StatusPending               Status = "pending"
	StatusCompleted             Status = "completed"
	StatusFailed                Status = "failed"
	StatusCancellationRequested Status = "cancellation_requested"
	StatusCancelled             Status = "cancelled"
	StatusTimeout               Status = "timeout"
)

// transitions is the full forward graph. Terminal states have no entry.
var transitions = map[Status][]Status{
	StatusPending: {
		StatusCompleted,
		StatusFailed,
		StatusCancellationRequested,
		StatusTimeout,
	},
	StatusCancellationRequested: {
		StatusCancelled,
	},
}

// IsTerminal returns true if no further state transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed ||
		s == StatusCancelled || s == StatusTimeout
}

// Valid reports whether s is one of the known status values.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed,
		StatusCancellationRequested, StatusCancelled, StatusTimeout:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next follows the graph.
// Any move out of a terminal state is rejected.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Payload describes the work a dispatch record carries. Immutable after creation.
type Payload struct {
	Type     string            `json:"type"`
	Content  string            `json:"content"`
	TargetID string            `json:"target_id"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Failure is the structured error written into a record on a failed,
// cancelled or timed-out dispatch.
type Failure struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// DispatchRecord is the core entity: one durable record per unit of work.
// The record store is the single source of truth for Status.
type DispatchRecord struct {
	ID          string            `json:"id"`
	Owner       string            `json:"owner,omitempty"`
	Payload     Payload           `json:"payload"`
	Options     map[string]string `json:"options,omitempty"`
	Status      Status            `json:"status"`
	Result      json.RawMessage   `json:"result,omitempty"`
	Error       *Failure          `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// EventKind distinguishes trigger events on the wire.
type EventKind string

const (
	EventCreated             EventKind = "created"
	EventCancellationRequest EventKind = "cancellation_requested"
)

// Event is the trigger message published when a record is created or a
// cancellation is requested. Delivery is at-least-once; consumers must
// treat duplicates as normal.
type Event struct {
	RecordID  string    `json:"record_id"`
	Kind      EventKind `json:"kind"`
	EmittedAt time.Time `json:"emitted_at"`
}
