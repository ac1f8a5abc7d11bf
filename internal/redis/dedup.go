package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupTTL = 6 * time.Hour

// Dedup short-circuits duplicate trigger deliveries. It is a fast-path
// optimization only: the authoritative duplicate guard is the coordinator's
// CAS against the record store, so a lost marker is harmless.
type Dedup interface {
	// FirstDelivery marks the event key and reports whether this is the
	// first time it was seen.
	FirstDelivery(ctx context.Context, key string) (bool, error)
}

type dedup struct {
	client *redis.Client
}

// NewDedup creates a Redis SETNX-based Dedup.
func NewDedup(client *redis.Client) Dedup {
	return &dedup{client: client}
}

func (d *dedup) FirstDelivery(ctx context.Context, key string) (bool, error) {
	ok, err := d.client.SetNX(ctx, "dispatch:seen:"+key, 1, dedupTTL).Result()
	if err != nil {
		return false, fmt.Errorf("dedup setnx %q: %w", key, err)
	}
	return ok, nil
}
