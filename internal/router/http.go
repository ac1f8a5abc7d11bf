package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/tmajic/go-dispatch-engine/internal/domain"
	"github.com/tmajic/go-dispatch-engine/pkg/retry"
)

const maxAgentResponseBytes = 4 << 20 // 4 MB

// HTTPAgent forwards a dispatch payload to an external agent endpoint over
// HTTP. Transient 5xx responses are retried a bounded number of times; the
// final error is returned to the coordinator as-is.
type HTTPAgent struct {
	id        string
	endpoint  string
	client    *http.Client
	attempts  int
	baseDelay time.Duration
}

// HTTPOption configures an HTTPAgent.
type HTTPOption func(*HTTPAgent)

func WithHTTPClient(c *http.Client) HTTPOption { return func(a *HTTPAgent) { a.client = c } }
func WithAttempts(n int) HTTPOption            { return func(a *HTTPAgent) { a.attempts = n } }
func WithBaseDelay(d time.Duration) HTTPOption { return func(a *HTTPAgent) { a.baseDelay = d } }

// NewHTTPAgent creates an HTTPAgent posting to endpoint under the given id.
func NewHTTPAgent(id, endpoint string, opts ...HTTPOption) *HTTPAgent {
	a := &HTTPAgent{
		id:        id,
		endpoint:  endpoint,
		client:    &http.Client{Timeout: 60 * time.Second},
		attempts:  3,
		baseDelay: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *HTTPAgent) ID() string { return a.id }

// transientStatusError marks a 5xx so the retry predicate can tell it apart
// from a permanent 4xx.
type transientStatusError struct {
	status int
}

func (e *transientStatusError) Error() string {
	return fmt.Sprintf("agent endpoint returned status %d", e.status)
}

func (a *HTTPAgent) Execute(ctx context.Context, payload domain.Payload) (json.RawMessage, error) {
	ctx, span := otel.Tracer("router").Start(ctx, "agent.http")
	defer span.End()
	span.SetAttributes(
		attribute.String("agent.id", a.id),
		attribute.String("agent.endpoint", a.endpoint),
	)

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal agent request: %w", err)
	}

	var result json.RawMessage
	err = retry.Do(ctx, retry.Config{
		MaxAttempts: a.attempts,
		BaseDelay:   a.baseDelay,
		RetryIf: func(err error) bool {
			var transient *transientStatusError
			return errors.As(err, &transient)
		},
	}, func() error {
		res, callErr := a.call(ctx, body)
		if callErr != nil {
			return callErr
		}
		result = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "agent call failed")
		return nil, err
	}
	return result, nil
}

func (a *HTTPAgent) call(ctx context.Context, body []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build agent request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agent call to %s: %w", a.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, &transientStatusError{status: resp.StatusCode}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("agent endpoint %s rejected request with status %d", a.endpoint, resp.StatusCode)
	}

	out, err := io.ReadAll(io.LimitReader(resp.Body, maxAgentResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read agent response: %w", err)
	}
	if !json.Valid(out) {
		// Wrap non-JSON agent output so the result column stays valid JSON.
		wrapped, _ := json.Marshal(map[string]string{"output": string(out)})
		return wrapped, nil
	}
	return out, nil
}
