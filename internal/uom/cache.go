package uom

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// CachedSource caches reference data in Redis and collapses concurrent loads per item.
type CachedSource struct {
	next   Source
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewCachedSource wraps next with a Redis cache.
func NewCachedSource(next Source, client *redis.Client, ttl time.Duration) *CachedSource {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CachedSource{next: next, client: client, ttl: ttl}
}

func cacheKey(tenantID, itemID uuid.UUID) string {
	return fmt.Sprintf("uom:ref:%s:%s", tenantID, itemID)
}

// LoadReference returns cached reference data, loading it from the wrapped source on miss.
// Redis failures degrade to a direct load.
func (c *CachedSource) LoadReference(ctx context.Context, tenantID, itemID uuid.UUID) (Reference, error) {
	key := cacheKey(tenantID, itemID)
	if c.client != nil {
		if raw, err := c.client.Get(ctx, key).Bytes(); err == nil {
			var ref Reference
			if json.Unmarshal(raw, &ref) == nil {
				return ref, nil
			}
		}
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		ref, err := c.next.LoadReference(ctx, tenantID, itemID)
		if err != nil {
			return Reference{}, err
		}
		if c.client != nil {
			if body, err := json.Marshal(ref); err == nil {
				_ = c.client.Set(ctx, key, body, c.ttl).Err()
			}
		}
		return ref, nil
	})
	if err != nil {
		return Reference{}, err
	}
	return v.(Reference), nil
}

// Invalidate drops the cached reference of an item, e.g. after its conversions change.
func (c *CachedSource) Invalidate(ctx context.Context, tenantID, itemID uuid.UUID) error {
	if c.client == nil {
		return nil
	}
	return c.client.Del(ctx, cacheKey(tenantID, itemID)).Err()
}
