package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores balance summaries in Redis with a short TTL. It is purely an
// acceleration layer: every miss or Redis failure falls through to the
// repository.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func summaryKey(customerID int64) string {
	return fmt.Sprintf("ledger:summary:%d", customerID)
}

// GetSummary returns the cached summary when present.
func (c *Cache) GetSummary(ctx context.Context, customerID int64) (*Summary, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	data, err := c.client.Get(ctx, summaryKey(customerID)).Bytes()
	if err != nil {
		return nil, false
	}
	var summary Summary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, false
	}
	return &summary, true
}

// SetSummary stores the summary under the configured TTL.
func (c *Cache) SetSummary(ctx context.Context, summary Summary) {
	if c == nil || c.client == nil {
		return
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, summaryKey(summary.CustomerID), data, c.ttl).Err()
}

// Invalidate drops the cached summary after a recorded entry.
func (c *Cache) Invalidate(ctx context.Context, customerID int64) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Del(ctx, summaryKey(customerID)).Err()
}

// reconcileLockKey guards against overlapping reconciliation runs.
const reconcileLockKey = "ledger:reconcile:lock"

// ErrReconcileRunning indicates another reconciliation holds the lock.
var ErrReconcileRunning = errors.New("ledger: reconciliation already running")

// AcquireReconcileLock takes the run lock for the given lease. The returned
// release function is safe to call after the lease expired.
func (c *Cache) AcquireReconcileLock(ctx context.Context, lease time.Duration) (func(), error) {
	if c == nil || c.client == nil {
		return func() {}, nil
	}
	ok, err := c.client.SetNX(ctx, reconcileLockKey, time.Now().UTC().Format(time.RFC3339), lease).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrReconcileRunning
	}
	return func() {
		_ = c.client.Del(context.Background(), reconcileLockKey).Err()
	}, nil
}
