package repository

// The emission replay cache keeps completed responses in Redis for the
// replay window so that a finalize retry on a flaky mobile connection is
// answered without touching MySQL or the collaborator.  Redis is strictly
// an accelerator: a nil client or a cache miss falls through to the
// emission_attempts table, which remains the source of truth.

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/warehouse-free-picking/internal/model"
)

const emissionCachePrefix = "emission:response:"

// EmissionCache caches completed emission responses by idempotency key.
type EmissionCache struct {
	client *redis.Client
}

// NewEmissionCache returns a cache over the given client.  A nil client is
// permitted and turns every lookup into a miss.
func NewEmissionCache(client *redis.Client) *EmissionCache {
	return &EmissionCache{client: client}
}

// Get returns the cached response payload for a key.  The second return
// reports whether the payload was present; Redis errors degrade to a miss.
func (c *EmissionCache) Get(ctx context.Context, idempotencyKey string) (string, bool) {
	if c.client == nil {
		return "", false
	}
	v, err := c.client.Get(ctx, emissionCachePrefix+idempotencyKey).Result()
	if err != nil {
		// redis.Nil and transport errors alike are a miss.
		return "", false
	}
	return v, true
}

// Put stores a completed response for the replay window.  Best-effort: a
// Redis failure is ignored because the database row already carries the
// durable copy.
func (c *EmissionCache) Put(ctx context.Context, idempotencyKey, responsePayload string) {
	if c.client == nil {
		return
	}
	_ = c.client.Set(ctx, emissionCachePrefix+idempotencyKey, responsePayload, model.EmissionReplayWindow).Err()
}
