package domain_test

import (
	"testing"

	"github.com/tmajic/go-dispatch-engine/internal/domain"
)

func TestStatusConstants(t *testing.T) {
	tests := []struct {
		status domain.Status
		want   string
	}{
		{domain.StatusPending, "pending"},
		{domain.StatusCompleted, "completed"},
		{domain.StatusFailed, "failed"},
		{domain.StatusCancellationRequested, "cancellation_requested"},
		{domain.StatusCancelled, "cancelled"},
		{domain.StatusTimeout, "timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if string(tt.status) != tt.want {
				t.Errorf("Status value = %q, want %q", tt.status, tt.want)
			}
		})
	}
}

func TestIsTerminal_TerminalStates(t *testing.T) {
	for _, s := range []domain.Status{
		domain.StatusCompleted, domain.StatusFailed,
		domain.StatusCancelled, domain.StatusTimeout,
	} {
		t.Run(string(s), func(t *testing.T) {
			if !s.IsTerminal() {
				t.Errorf("IsTerminal(%q) = false, want true", s)
			}
		})
	}
}

func TestIsTerminal_NonTerminalStates(t *testing.T) {
	for _, s := range []domain.Status{
		domain.StatusPending, domain.StatusCancellationRequested,
	} {
		t.Run(string(s), func(t *testing.T) {
			if s.IsTerminal() {
				t.Errorf("IsTerminal(%q) = true, want false", s)
			}
		})
	}
}

func TestCanTransitionTo_ForwardGraph(t *testing.T) {
	allowed := []struct{ from, to domain.Status }{
		{domain.StatusPending, domain.StatusCompleted},
		{domain.StatusPending, domain.StatusFailed},
		{domain.StatusPending, domain.StatusCancellationRequested},
		{domain.StatusPending, domain.StatusTimeout},
		{domain.StatusCancellationRequested, domain.StatusCancelled},
	}
	for _, tt := range allowed {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			if !tt.from.CanTransitionTo(tt.to) {
				t.Errorf("CanTransitionTo(%q -> %q) = false, want true", tt.from, tt.to)
			}
		})
	}
}

func TestCanTransitionTo_RejectsShortcutsAndTerminalExits(t *testing.T) {
	rejected := []struct{ from, to domain.Status }{
		// No shortcut past cancellation_requested.
		{domain.StatusPending, domain.StatusCancelled},
		// Revisiting a prior state.
		{domain.StatusCancellationRequested, domain.StatusPending},
		{domain.StatusCancellationRequested, domain.StatusCompleted},
		// No exit from terminal states.
		{domain.StatusCompleted, domain.StatusPending},
		{domain.StatusFailed, domain.StatusPending},
		{domain.StatusCancelled, domain.StatusCancellationRequested},
		{domain.StatusTimeout, domain.StatusCompleted},
	}
	for _, tt := range rejected {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			if tt.from.CanTransitionTo(tt.to) {
				t.Errorf("CanTransitionTo(%q -> %q) = true, want false", tt.from, tt.to)
			}
		})
	}
}

func TestStatusValid(t *testing.T) {
	if domain.Status("running").Valid() {
		t.Error("Valid() accepted an unknown status")
	}
	if !domain.StatusPending.Valid() {
		t.Error("Valid() rejected pending")
	}
}
