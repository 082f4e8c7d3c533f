package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// AggregateCache caches booking payment aggregates for the read path used by
// booking-status projections. A nil cache or nil client degrades to loading
// straight from the repository.
type AggregateCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewAggregateCache instantiates the cache helper.
func NewAggregateCache(client *redis.Client, ttl time.Duration) *AggregateCache {
	return &AggregateCache{client: client, ttl: ttl}
}

func aggregateKey(orgID, bookingID uuid.UUID) string {
	return fmt.Sprintf("payments:aggregate:%s:%s", orgID, bookingID)
}

// Fetch loads a cached aggregate or populates it using the loader.
func (c *AggregateCache) Fetch(ctx context.Context, orgID, bookingID uuid.UUID, loader func(context.Context) (Aggregate, error)) (Aggregate, error) {
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	key := aggregateKey(orgID, bookingID)
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var cached Aggregate
		if err := json.Unmarshal(payload, &cached); err == nil {
			return cached, nil
		}
		// Unreadable payload: fall through to the loader and rewrite.
	} else if err != redis.Nil {
		return Aggregate{}, err
	}

	aggregate, err := loader(ctx)
	if err != nil {
		return Aggregate{}, err
	}
	raw, err := json.Marshal(aggregate)
	if err != nil {
		return Aggregate{}, err
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return Aggregate{}, err
	}
	return aggregate, nil
}

// Invalidate drops the cached aggregate after a successful write.
func (c *AggregateCache) Invalidate(ctx context.Context, orgID, bookingID uuid.UUID) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, aggregateKey(orgID, bookingID)).Err()
}
