//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmajic/go-dispatch-engine/internal/domain"
	"github.com/tmajic/go-dispatch-engine/internal/store"
)

// newStore connects to the test Postgres container and truncates the table
// on cleanup.
func newStore(t *testing.T) store.Store {
	t.Helper()
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, testPostgresDSN)
	require.NoError(t, err)
	t.Cleanup(func() {
		pool.Exec(ctx, "TRUNCATE dispatches") //nolint:errcheck
		pool.Close()
	})
	return store.NewPostgres(pool)
}

func makeRecord(owner string) *domain.DispatchRecord {
	now := time.Now().UTC()
	return &domain.DispatchRecord{
		ID:        uuid.New().String(),
		Owner:     owner,
		Payload:   domain.Payload{Type: "prompt", Content: "hello", TargetID: "echo"},
		Options:   map[string]string{"priority": "low"},
		Status:    domain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestStore_Create_Get(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	rec := makeRecord("alice")
	require.NoError(t, st.Create(ctx, rec))

	got, err := st.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, "alice", got.Owner)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Equal(t, "echo", got.Payload.TargetID)
	assert.Equal(t, "low", got.Options["priority"])
	assert.Nil(t, got.Result)
	assert.Nil(t, got.Error)
}

func TestStore_Get_NotFound(t *testing.T) {
	st := newStore(t)

	_, err := st.Get(context.Background(), uuid.New().String())
	require.Error(t, err)

	var notFound *domain.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestStore_UpdateStatus_CompletedSetsResultAndTimestamp(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	rec := makeRecord("alice")
	require.NoError(t, st.Create(ctx, rec))

	err := st.UpdateStatus(ctx, rec.ID, domain.StatusPending, store.Transition{
		To:     domain.StatusCompleted,
		Result: json.RawMessage(`{"answer":42}`),
	})
	require.NoError(t, err)

	got, err := st.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.JSONEq(t, `{"answer":42}`, string(got.Result))
	assert.NotNil(t, got.CompletedAt, "completed_at should be set for terminal status")
	assert.True(t, got.UpdatedAt.After(rec.UpdatedAt))
}

func TestStore_UpdateStatus_FailedSetsError(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	rec := makeRecord("alice")
	require.NoError(t, st.Create(ctx, rec))

	err := st.UpdateStatus(ctx, rec.ID, domain.StatusPending, store.Transition{
		To:    domain.StatusFailed,
		Error: &domain.Failure{Message: "model overloaded", Code: domain.CodeInternal},
	})
	require.NoError(t, err)

	got, err := st.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "model overloaded", got.Error.Message)
}

func TestStore_UpdateStatus_WrongExpected_Conflict(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	rec := makeRecord("alice")
	require.NoError(t, st.Create(ctx, rec))
	require.NoError(t, st.UpdateStatus(ctx, rec.ID, domain.StatusPending, store.Transition{
		To: domain.StatusCancellationRequested,
	}))

	// A processor still expecting pending must lose.
	err := st.UpdateStatus(ctx, rec.ID, domain.StatusPending, store.Transition{
		To:     domain.StatusCompleted,
		Result: json.RawMessage(`{}`),
	})
	require.Error(t, err)

	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, domain.StatusCancellationRequested, conflict.Actual)

	got, err := st.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancellationRequested, got.Status)
	assert.Nil(t, got.Result, "losing write must not leave a result behind")
}

func TestStore_UpdateStatus_ConcurrentWriters_OneWins(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	rec := makeRecord("alice")
	require.NoError(t, st.Create(ctx, rec))

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = st.UpdateStatus(ctx, rec.ID, domain.StatusPending, store.Transition{
				To:     domain.StatusCompleted,
				Result: json.RawMessage(`{"writer":true}`),
			})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		}
	}
	assert.Equal(t, 1, wins, "exactly one CAS write must take effect")
}

func TestStore_ListStalePending(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	old := makeRecord("alice")
	old.CreatedAt = time.Now().UTC().Add(-3 * time.Hour)
	old.UpdatedAt = old.CreatedAt
	require.NoError(t, st.Create(ctx, old))

	fresh := makeRecord("alice")
	require.NoError(t, st.Create(ctx, fresh))

	finished := makeRecord("bob")
	finished.CreatedAt = time.Now().UTC().Add(-4 * time.Hour)
	finished.UpdatedAt = finished.CreatedAt
	require.NoError(t, st.Create(ctx, finished))
	require.NoError(t, st.UpdateStatus(ctx, finished.ID, domain.StatusPending, store.Transition{
		To:     domain.StatusCompleted,
		Result: json.RawMessage(`{}`),
	}))

	stale, err := st.ListStalePending(ctx, time.Now().UTC().Add(-2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)
}
