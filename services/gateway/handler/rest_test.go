package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmajic/go-dispatch-engine/internal/domain"
	"github.com/tmajic/go-dispatch-engine/services/gateway/middleware"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// ── mocks ────────────────────────────────────────────────────────────────────

type fakeDispatcher struct {
	record       *domain.DispatchRecord
	err          error
	accepted     bool
	lastIdentity domain.Identity
}

func (d *fakeDispatcher) Dispatch(_ context.Context, identity domain.Identity, payload domain.Payload, options map[string]string) (*domain.DispatchRecord, error) {
	d.lastIdentity = identity
	if d.err != nil {
		return nil, d.err
	}
	return d.record, nil
}

func (d *fakeDispatcher) GetStatus(_ context.Context, identity domain.Identity, _ string) (*domain.DispatchRecord, error) {
	d.lastIdentity = identity
	if d.err != nil {
		return nil, d.err
	}
	return d.record, nil
}

func (d *fakeDispatcher) Cancel(_ context.Context, identity domain.Identity, _ string) (bool, error) {
	d.lastIdentity = identity
	if d.err != nil {
		return false, d.err
	}
	return d.accepted, nil
}

func (d *fakeDispatcher) RouteToAgent(_ context.Context, identity domain.Identity, payload domain.Payload, options map[string]string) (*domain.DispatchRecord, error) {
	d.lastIdentity = identity
	if d.err != nil {
		return nil, d.err
	}
	return d.record, nil
}

type fakeLimiter struct {
	allow bool
	limit int
}

func (l *fakeLimiter) Allow(_ context.Context, _ string) (bool, error) { return l.allow, nil }
func (l *fakeLimiter) Limit() int                                      { return l.limit }

// ── helpers ──────────────────────────────────────────────────────────────────

func testRecord(status domain.Status) *domain.DispatchRecord {
	now := time.Now().UTC()
	rec := &domain.DispatchRecord{
		ID:        "d-1",
		Owner:     "alice",
		Payload:   domain.Payload{Type: "prompt", Content: "hello", TargetID: "echo"},
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if status.IsTerminal() {
		rec.CompletedAt = &now
	}
	return rec
}

func newRouter(h *REST) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.WithIdentity)
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/dispatches", h.Submit)
		r.Get("/dispatches/{id}", h.Get)
		r.Post("/dispatches/{id}/cancel", h.Cancel)
		r.Post("/route", h.Route)
	})
	return r
}

func submitBody(t *testing.T) *bytes.Reader {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"payload": map[string]string{"type": "prompt", "content": "hello", "target_id": "echo"},
	})
	require.NoError(t, err)
	return bytes.NewReader(raw)
}

// ── submit ───────────────────────────────────────────────────────────────────

func TestSubmit_Accepted(t *testing.T) {
	svc := &fakeDispatcher{record: testRecord(domain.StatusPending)}
	srv := newRouter(NewREST(svc, nil, nil, discardLogger))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/dispatches", submitBody(t))
	req.Header.Set(middleware.HeaderActorID, "alice")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp RecordResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "d-1", resp.ID)
	assert.Equal(t, "pending", resp.Status)
	assert.Equal(t, "alice", svc.lastIdentity.Subject)
}

func TestSubmit_InvalidBody(t *testing.T) {
	srv := newRouter(NewREST(&fakeDispatcher{}, nil, nil, discardLogger))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/dispatches", bytes.NewReader([]byte("{broken")))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmit_ValidationErrorMapsTo400(t *testing.T) {
	svc := &fakeDispatcher{err: &domain.InvalidArgumentError{Field: "payload.content", Reason: "must not be empty"}}
	srv := newRouter(NewREST(svc, nil, nil, discardLogger))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/dispatches", submitBody(t))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "invalid-argument", body["code"])
}

func TestSubmit_RateLimited(t *testing.T) {
	svc := &fakeDispatcher{record: testRecord(domain.StatusPending)}
	srv := newRouter(NewREST(svc, &fakeLimiter{allow: false, limit: 10}, nil, discardLogger))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/dispatches", submitBody(t))
	req.Header.Set(middleware.HeaderActorID, "alice")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

// ── get ──────────────────────────────────────────────────────────────────────

func TestGet_ReturnsRecord(t *testing.T) {
	svc := &fakeDispatcher{record: testRecord(domain.StatusCompleted)}
	srv := newRouter(NewREST(svc, nil, nil, discardLogger))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/dispatches/d-1", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp RecordResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "completed", resp.Status)
	assert.NotNil(t, resp.CompletedAt)
}

func TestGet_NotFoundMapsTo404(t *testing.T) {
	svc := &fakeDispatcher{err: &domain.NotFoundError{RecordID: "d-ghost"}}
	srv := newRouter(NewREST(svc, nil, nil, discardLogger))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/dispatches/d-ghost", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGet_PermissionDeniedMapsTo403(t *testing.T) {
	svc := &fakeDispatcher{err: &domain.PermissionDeniedError{RecordID: "d-1", Subject: "mallory"}}
	srv := newRouter(NewREST(svc, nil, nil, discardLogger))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/dispatches/d-1", nil)
	req.Header.Set(middleware.HeaderActorID, "mallory")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

// ── cancel ───────────────────────────────────────────────────────────────────

func TestCancel_Accepted(t *testing.T) {
	svc := &fakeDispatcher{accepted: true, record: testRecord(domain.StatusCancellationRequested)}
	srv := newRouter(NewREST(svc, nil, nil, discardLogger))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/dispatches/d-1/cancel", nil)
	req.Header.Set(middleware.HeaderActorID, "alice")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp CancelResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Accepted)
}

func TestCancel_FinishedDispatchRejectedGracefully(t *testing.T) {
	svc := &fakeDispatcher{accepted: false, record: testRecord(domain.StatusCompleted)}
	srv := newRouter(NewREST(svc, nil, nil, discardLogger))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/dispatches/d-1/cancel", nil)
	req.Header.Set(middleware.HeaderActorID, "alice")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp CancelResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Accepted)
	assert.Equal(t, "completed", resp.Status)
}

// ── synchronous route ────────────────────────────────────────────────────────

func TestRoute_ReturnsTerminalRecord(t *testing.T) {
	done := testRecord(domain.StatusCompleted)
	done.Result = json.RawMessage(`{"answer":42}`)
	svc := &fakeDispatcher{record: done}
	srv := newRouter(NewREST(svc, nil, nil, discardLogger))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/route", submitBody(t))
	req.Header.Set(middleware.HeaderActorID, "alice")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp RecordResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "completed", resp.Status)
	assert.JSONEq(t, `{"answer":42}`, string(resp.Result))
}

func TestRoute_FailedDispatchIsBadGateway(t *testing.T) {
	failed := testRecord(domain.StatusFailed)
	failed.Error = &domain.Failure{Message: "agent exploded", Code: domain.CodeInternal}
	svc := &fakeDispatcher{record: failed}
	srv := newRouter(NewREST(svc, nil, nil, discardLogger))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/route", submitBody(t))
	req.Header.Set(middleware.HeaderActorID, "alice")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadGateway, rec.Code)

	var resp RecordResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "failed", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "agent exploded", resp.Error.Message)
}

// ── probes ───────────────────────────────────────────────────────────────────

func TestHealthz(t *testing.T) {
	srv := newRouter(NewREST(&fakeDispatcher{}, nil, nil, discardLogger))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyz_StoreDown(t *testing.T) {
	ready := func(context.Context) error { return context.DeadlineExceeded }
	srv := newRouter(NewREST(&fakeDispatcher{}, nil, ready, discardLogger))

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
