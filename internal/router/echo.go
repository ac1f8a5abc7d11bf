package router

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tmajic/go-dispatch-engine/internal/domain"
)

// EchoAgent returns the payload content unchanged. Used for smoke tests and
// local runs without an external backend.
type EchoAgent struct{}

func (EchoAgent) ID() string { return "echo" }

func (EchoAgent) Execute(ctx context.Context, payload domain.Payload) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, err := json.Marshal(map[string]string{
		"echo":      payload.Content,
		"echoed_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal echo result: %w", err)
	}
	return out, nil
}
