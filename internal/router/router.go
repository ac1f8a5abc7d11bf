// Package router resolves dispatch targets to agents and executes them.
// The engine treats every agent error as final for the attempt: resilience
// beyond the bounded retries an individual agent chooses to do internally
// lives here, never in the coordinator.
package router

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/tmajic/go-dispatch-engine/internal/domain"
)

// Agent performs the work described by a dispatch payload. Implementations
// must honor ctx cancellation: the coordinator cancels it when a caller
// requests cancellation of the dispatch.
type Agent interface {
	ID() string
	Execute(ctx context.Context, payload domain.Payload) (json.RawMessage, error)
}

// Router resolves a target id and executes the matching agent.
type Router interface {
	// Resolve returns UnknownTargetError when no agent serves targetID.
	Resolve(targetID string) error
	// Route executes the agent for targetID. The returned error is final;
	// the coordinator records it and does not retry.
	Route(ctx context.Context, targetID string, payload domain.Payload) (json.RawMessage, error)
}

// Registry maps target ids to their agents.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Agent)}
}

// Register adds an agent. Safe to call concurrently.
func (r *Registry) Register(a Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[a.ID()] = a
}

func (r *Registry) get(targetID string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[targetID]
	if !ok {
		return nil, &domain.UnknownTargetError{TargetID: targetID}
	}
	return a, nil
}

// Resolve reports whether an agent is registered for the target id.
func (r *Registry) Resolve(targetID string) error {
	_, err := r.get(targetID)
	return err
}

// Route executes the agent registered for targetID.
func (r *Registry) Route(ctx context.Context, targetID string, payload domain.Payload) (json.RawMessage, error) {
	a, err := r.get(targetID)
	if err != nil {
		return nil, err
	}
	return a.Execute(ctx, payload)
}
