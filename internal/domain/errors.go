package domain

import "fmt"

// Stable error codes surfaced to callers alongside human-readable messages.
const (
	CodeInvalidArgument  = "invalid-argument"
	CodeNotFound         = "not-found"
	CodePermissionDenied = "permission-denied"
	CodeConflict         = "conflict"
	CodeInternal         = "internal"
	CodeTimeout          = "timeout"
	CodeRateLimited      = "rate-limited"
)

// NotFoundError is returned when a dispatch record ID does not exist.
type NotFoundError struct {
	RecordID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("dispatch record not found: %s", e.RecordID)
}

func (e *NotFoundError) Code() string { return CodeNotFound }

// InvalidArgumentError is returned when a submission payload is malformed.
type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Field, e.Reason)
}

func (e *InvalidArgumentError) Code() string { return CodeInvalidArgument }

// PermissionDeniedError is returned when a caller is neither the record's
// owner nor an admin.
type PermissionDeniedError struct {
	RecordID string
	Subject  string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("caller %q may not access dispatch record %s", e.Subject, e.RecordID)
}

func (e *PermissionDeniedError) Code() string { return CodePermissionDenied }

// ConflictError is returned when a CAS-guarded status update is rejected
// because another writer moved the record first. Actual carries the status
// observed after the rejection so callers can report the lost update.
type ConflictError struct {
	RecordID string
	Expected Status
	Actual   Status
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("dispatch record %s is %s, expected %s", e.RecordID, e.Actual, e.Expected)
}

func (e *ConflictError) Code() string { return CodeConflict }

// AlreadyFinalizedError is returned when an operation targets a record that
// is no longer in the state the operation requires. Duplicate trigger
// deliveries land here; callers treat it as a reported no-op, not a failure.
type AlreadyFinalizedError struct {
	RecordID string
	Status   Status
}

func (e *AlreadyFinalizedError) Error() string {
	return fmt.Sprintf("dispatch record %s is no longer actionable: status %s", e.RecordID, e.Status)
}

func (e *AlreadyFinalizedError) Code() string { return CodeConflict }

// InvalidTransitionError is returned when a requested status change does not
// follow the transition graph.
type InvalidTransitionError struct {
	RecordID string
	From     Status
	To       Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("dispatch record %s: transition %s -> %s is not permitted", e.RecordID, e.From, e.To)
}

func (e *InvalidTransitionError) Code() string { return CodeInternal }

// RateLimitExceededError is returned when a caller exceeds the submission rate limit.
type RateLimitExceededError struct {
	Subject string
	Limit   int
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %q: limit is %d", e.Subject, e.Limit)
}

func (e *RateLimitExceededError) Code() string { return CodeRateLimited }

// UnknownTargetError is returned when no agent is registered for a target id.
type UnknownTargetError struct {
	TargetID string
}

func (e *UnknownTargetError) Error() string {
	return fmt.Sprintf("no agent registered for target %q", e.TargetID)
}

func (e *UnknownTargetError) Code() string { return CodeInvalidArgument }
