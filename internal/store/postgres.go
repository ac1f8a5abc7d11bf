package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tmajic/go-dispatch-engine/internal/domain"
)

type postgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps a pgxpool with the Store interface.
func NewPostgres(pool *pgxpool.Pool) Store {
	return &postgresStore{pool: pool}
}

// NewPool creates a pgxpool and verifies connectivity.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}

func (s *postgresStore) Create(ctx context.Context, rec *domain.DispatchRecord) error {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload for %s: %w", rec.ID, err)
	}
	options, err := json.Marshal(rec.Options)
	if err != nil {
		return fmt.Errorf("marshal options for %s: %w", rec.ID, err)
	}

	var owner *string
	if rec.Owner != "" {
		owner = &rec.Owner
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO dispatches
			(id, owner, payload, options, status, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7)
	`,
		rec.ID, owner, payload, options, string(rec.Status),
		rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create dispatch %s: %w", rec.ID, err)
	}
	return nil
}

func (s *postgresStore) Get(ctx context.Context, id string) (*domain.DispatchRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, owner, payload, options, status, result, error,
		       created_at, updated_at, completed_at
		FROM dispatches
		WHERE id = $1
	`, id)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.NotFoundError{RecordID: id}
		}
		return nil, err
	}
	return rec, nil
}

// UpdateStatus performs the CAS write: the UPDATE only matches when the
// stored status equals expected, so concurrent writers cannot both win.
func (s *postgresStore) UpdateStatus(ctx context.Context, id string, expected domain.Status, change Transition) error {
	var errJSON []byte
	if change.Error != nil {
		b, err := json.Marshal(change.Error)
		if err != nil {
			return fmt.Errorf("marshal error for %s: %w", id, err)
		}
		errJSON = b
	}

	now := time.Now().UTC()
	var completedAt *time.Time
	if change.To.IsTerminal() {
		t := now
		completedAt = &t
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE dispatches
		SET status = $1, result = $2, error = $3, updated_at = $4,
		    completed_at = COALESCE($5, completed_at)
		WHERE id = $6 AND status = $7
	`,
		string(change.To), []byte(change.Result), errJSON, now, completedAt,
		id, string(expected),
	)
	if err != nil {
		return fmt.Errorf("update dispatch %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Zero rows: either the record is gone or another writer moved it first.
	// Re-read to report which, and what status won.
	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return &domain.ConflictError{RecordID: id, Expected: expected, Actual: rec.Status}
}

func (s *postgresStore) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*domain.DispatchRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner, payload, options, status, result, error,
		       created_at, updated_at, completed_at
		FROM dispatches
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3
	`, string(domain.StatusPending), olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale pending dispatches: %w", err)
	}
	defer rows.Close()

	var recs []*domain.DispatchRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// scanRecord reads a dispatch row from any pgx row type.
func scanRecord(row interface {
	Scan(...any) error
}) (*domain.DispatchRecord, error) {
	var (
		rec       domain.DispatchRecord
		owner     *string
		payload   []byte
		options   []byte
		statusStr string
		result    []byte
		errJSON   []byte
	)
	err := row.Scan(
		&rec.ID, &owner, &payload, &options, &statusStr, &result, &errJSON,
		&rec.CreatedAt, &rec.UpdatedAt, &rec.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("scan dispatch: %w", err)
	}

	if owner != nil {
		rec.Owner = *owner
	}
	rec.Status = domain.Status(statusStr)
	if err := json.Unmarshal(payload, &rec.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload for %s: %w", rec.ID, err)
	}
	if len(options) > 0 && string(options) != "null" {
		if err := json.Unmarshal(options, &rec.Options); err != nil {
			return nil, fmt.Errorf("unmarshal options for %s: %w", rec.ID, err)
		}
	}
	if len(result) > 0 {
		rec.Result = json.RawMessage(result)
	}
	if len(errJSON) > 0 {
		var f domain.Failure
		if err := json.Unmarshal(errJSON, &f); err != nil {
			return nil, fmt.Errorf("unmarshal error for %s: %w", rec.ID, err)
		}
		rec.Error = &f
	}
	return &rec, nil
}
