package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Elector is SETNX-based leader election. Only the leader runs the sweep so
// horizontally-scaled sweeper replicas do not scan the store in parallel.
type Elector struct {
	client     *redis.Client
	key        string
	instanceID string
	ttl        time.Duration
}

// NewElector creates an Elector for the given lock key and instance id.
func NewElector(client *redis.Client, key, instanceID string, ttl time.Duration) *Elector {
	return &Elector{client: client, key: key, instanceID: instanceID, ttl: ttl}
}

// renewScript extends the lock only while this instance still owns it.
// The get-and-expire must be atomic to avoid renewing a lock another
// instance has since acquired.
var renewScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	end
	return 0
`)

// AcquireOrRenew attempts SETNX, falling back to an owner-checked renewal.
// Returns true if this instance is the leader after the call.
func (e *Elector) AcquireOrRenew(ctx context.Context) (bool, error) {
	ok, err := e.client.SetNX(ctx, e.key, e.instanceID, e.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("leader election setnx: %w", err)
	}
	if ok {
		return true, nil
	}

	result, err := renewScript.Run(
		ctx, e.client,
		[]string{e.key},
		e.instanceID,
		e.ttl.Milliseconds(),
	).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("leader renewal: %w", err)
	}
	return result == 1, nil
}

// Resign releases the lock if this instance owns it.
func (e *Elector) Resign(ctx context.Context) error {
	release := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		end
		return 0
	`)
	if err := release.Run(ctx, e.client, []string{e.key}, e.instanceID).Err(); err != nil &&
		!errors.Is(err, redis.Nil) {
		return fmt.Errorf("leader resign: %w", err)
	}
	return nil
}
