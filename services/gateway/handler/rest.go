// Package handler exposes the dispatch engine over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tmajic/go-dispatch-engine/internal/domain"
	redisstore "github.com/tmajic/go-dispatch-engine/internal/redis"
	"github.com/tmajic/go-dispatch-engine/pkg/telemetry"
	"github.com/tmajic/go-dispatch-engine/services/gateway/middleware"
)

// Dispatcher is the slice of the coordinator the REST handler needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, identity domain.Identity, payload domain.Payload, options map[string]string) (*domain.DispatchRecord, error)
	GetStatus(ctx context.Context, identity domain.Identity, id string) (*domain.DispatchRecord, error)
	Cancel(ctx context.Context, identity domain.Identity, id string) (bool, error)
	RouteToAgent(ctx context.Context, identity domain.Identity, payload domain.Payload, options map[string]string) (*domain.DispatchRecord, error)
}

// REST handles HTTP requests for the gateway.
type REST struct {
	svc     Dispatcher
	limiter redisstore.RateLimiter // nil = unlimited
	ready   func(ctx context.Context) error
	logger  *slog.Logger
}

// NewREST creates a new REST handler. ready is probed by /readyz.
func NewREST(svc Dispatcher, limiter redisstore.RateLimiter, ready func(ctx context.Context) error, logger *slog.Logger) *REST {
	return &REST{svc: svc, limiter: limiter, ready: ready, logger: logger}
}

// SubmitRequest is the JSON body for POST /api/v1/dispatches and /api/v1/route.
type SubmitRequest struct {
	Payload struct {
		Type     string            `json:"type"`
		Content  string            `json:"content"`
		TargetID string            `json:"target_id"`
		Metadata map[string]string `json:"metadata,omitempty"`
	} `json:"payload"`
	Options map[string]string `json:"options,omitempty"`
}

// RecordResponse is the wire shape of a dispatch record.
type RecordResponse struct {
	ID          string            `json:"id"`
	Owner       string            `json:"owner,omitempty"`
	Status      string            `json:"status"`
	Target      string            `json:"target"`
	Result      json.RawMessage   `json:"result,omitempty"`
	Error       *domain.Failure   `json:"error,omitempty"`
	Options     map[string]string `json:"options,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// CancelResponse is the body for POST /api/v1/dispatches/{id}/cancel.
type CancelResponse struct {
	ID       string `json:"id"`
	Accepted bool   `json:"accepted"`
	Status   string `json:"status,omitempty"`
}

func toResponse(rec *domain.DispatchRecord) RecordResponse {
	return RecordResponse{
		ID:          rec.ID,
		Owner:       rec.Owner,
		Status:      string(rec.Status),
		Target:      rec.Payload.TargetID,
		Result:      rec.Result,
		Error:       rec.Error,
		Options:     rec.Options,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
		CompletedAt: rec.CompletedAt,
	}
}

// Submit handles POST /api/v1/dispatches. Accepted work returns 202 with
// the pending record; the outcome arrives asynchronously.
func (h *REST) Submit(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("gateway").Start(r.Context(), "gateway.submit")
	defer span.End()

	identity := middleware.IdentityFrom(ctx)
	if !h.allow(ctx, w, identity) {
		return
	}

	req, ok := h.decodeSubmit(w, r)
	if !ok {
		return
	}

	rec, err := h.svc.Dispatch(ctx, identity, payloadFrom(req), req.Options)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	span.SetAttributes(attribute.String("dispatch.id", rec.ID))

	writeJSON(w, http.StatusAccepted, toResponse(rec))
}

// Route handles POST /api/v1/route: the synchronous path. The caller blocks
// until the agent finishes and receives the terminal record.
func (h *REST) Route(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("gateway").Start(r.Context(), "gateway.route")
	defer span.End()

	identity := middleware.IdentityFrom(ctx)
	if !h.allow(ctx, w, identity) {
		return
	}

	req, ok := h.decodeSubmit(w, r)
	if !ok {
		return
	}

	rec, err := h.svc.RouteToAgent(ctx, identity, payloadFrom(req), req.Options)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	span.SetAttributes(attribute.String("dispatch.id", rec.ID))

	// A dispatch whose agent failed is still a well-formed record; surface
	// it with a gateway-error status so callers can tell it apart from
	// their own bad requests.
	status := http.StatusOK
	if rec.Status == domain.StatusFailed {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, toResponse(rec))
}

// Get handles GET /api/v1/dispatches/{id}.
func (h *REST) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "dispatch id is required")
		return
	}

	rec, err := h.svc.GetStatus(r.Context(), middleware.IdentityFrom(r.Context()), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(rec))
}

// Cancel handles POST /api/v1/dispatches/{id}/cancel. A dispatch that has
// already finished is reported with accepted=false, not an error.
func (h *REST) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "dispatch id is required")
		return
	}

	accepted, err := h.svc.Cancel(r.Context(), middleware.IdentityFrom(r.Context()), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	resp := CancelResponse{ID: id, Accepted: accepted}
	if !accepted {
		if rec, err := h.svc.GetStatus(r.Context(), middleware.IdentityFrom(r.Context()), id); err == nil {
			resp.Status = string(rec.Status)
		}
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// Healthz handles GET /healthz.
func (h *REST) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// Readyz handles GET /readyz. Probes the backing store.
func (h *REST) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.ready != nil {
		if err := h.ready(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "store not ready")
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

func (h *REST) decodeSubmit(w http.ResponseWriter, r *http.Request) (SubmitRequest, bool) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	return req, true
}

func payloadFrom(req SubmitRequest) domain.Payload {
	return domain.Payload{
		Type:     req.Payload.Type,
		Content:  req.Payload.Content,
		TargetID: req.Payload.TargetID,
		Metadata: req.Payload.Metadata,
	}
}

// allow enforces the per-subject rate limit. Limiter failures log and let
// the request through: dispatch availability beats strict limiting.
func (h *REST) allow(ctx context.Context, w http.ResponseWriter, identity domain.Identity) bool {
	if h.limiter == nil {
		return true
	}
	ok, err := h.limiter.Allow(ctx, identity.Subject)
	if err != nil {
		h.logger.Warn("rate limiter unavailable", slog.String("error", err.Error()))
		return true
	}
	if !ok {
		telemetry.GatewayRateLimitedTotal.Inc()
		h.writeDomainError(w, &domain.RateLimitExceededError{
			Subject: identity.Subject,
			Limit:   h.limiter.Limit(),
		})
		return false
	}
	return true
}

// coder is implemented by every domain error type.
type coder interface {
	error
	Code() string
}

func (h *REST) writeDomainError(w http.ResponseWriter, err error) {
	var c coder
	if !errors.As(err, &c) {
		h.logger.Error("internal error", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	status := http.StatusInternalServerError
	switch c.Code() {
	case domain.CodeInvalidArgument:
		status = http.StatusBadRequest
	case domain.CodeNotFound:
		status = http.StatusNotFound
	case domain.CodePermissionDenied:
		status = http.StatusForbidden
	case domain.CodeConflict:
		status = http.StatusConflict
	case domain.CodeTimeout:
		status = http.StatusGatewayTimeout
	case domain.CodeRateLimited:
		status = http.StatusTooManyRequests
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("internal error", slog.String("error", err.Error()))
		writeError(w, status, "internal error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": c.Error(), "code": c.Code()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
