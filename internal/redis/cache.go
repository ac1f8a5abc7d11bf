package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tmajic/go-dispatch-engine/internal/domain"
)

const recordTTL = 24 * time.Hour

func recordKey(id string) string { return "dispatch:record:" + id }

// RecordCache is a read-through cache of dispatch records in front of the
// durable store. It is never authoritative: the coordinator writes it
// best-effort after each CAS transition, and readers fall back to the store
// on a miss. Cache failures are logged by callers and never block a dispatch.
type RecordCache interface {
	Put(ctx context.Context, rec *domain.DispatchRecord) error
	Get(ctx context.Context, id string) (*domain.DispatchRecord, error)
}

type recordCache struct {
	client *redis.Client
}

// NewRecordCache creates a Redis-backed RecordCache.
func NewRecordCache(client *redis.Client) RecordCache {
	return &recordCache{client: client}
}

// NewClient creates and returns a new Redis client.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		PoolSize:     10,
	})
}

func (c *recordCache) Put(ctx context.Context, rec *domain.DispatchRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", rec.ID, err)
	}
	if err := c.client.Set(ctx, recordKey(rec.ID), data, recordTTL).Err(); err != nil {
		return fmt.Errorf("redis set record %s: %w", rec.ID, err)
	}
	return nil
}

func (c *recordCache) Get(ctx context.Context, id string) (*domain.DispatchRecord, error) {
	data, err := c.client.Get(ctx, recordKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, &domain.NotFoundError{RecordID: id}
		}
		return nil, fmt.Errorf("redis get record %s: %w", id, err)
	}
	var rec domain.DispatchRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record %s: %w", id, err)
	}
	return &rec, nil
}
