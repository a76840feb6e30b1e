package uom

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	mu    sync.Mutex
	calls int
	ref   Reference
}

func (s *countingSource) LoadReference(ctx context.Context, tenantID, itemID uuid.UUID) (Reference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.ref, nil
}

func TestCachedSourceServesFromRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	src := &countingSource{ref: testReference()}
	cached := NewCachedSource(src, client, time.Minute)
	ctx := context.Background()
	tenant, item := uuid.New(), uuid.New()

	first, err := cached.LoadReference(ctx, tenant, item)
	require.NoError(t, err)
	second, err := cached.LoadReference(ctx, tenant, item)
	require.NoError(t, err)

	require.Equal(t, 1, src.calls)
	require.Equal(t, first.Item.CanonicalUOM, second.Item.CanonicalUOM)
	require.True(t, second.Conversions[0].Factor.Equal(decimal.NewFromInt(12)))

	svc := NewService(cached)
	q, err := svc.Canonicalize(ctx, tenant, item, decimal.NewFromInt(5), "CASE")
	require.NoError(t, err)
	require.True(t, q.CanonicalQty.Equal(decimal.NewFromInt(60)))
	require.Equal(t, 1, src.calls)

	require.NoError(t, cached.Invalidate(ctx, tenant, item))
	_, err = cached.LoadReference(ctx, tenant, item)
	require.NoError(t, err)
	require.Equal(t, 2, src.calls)
}

func TestCachedSourceExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	src := &countingSource{ref: testReference()}
	cached := NewCachedSource(src, client, time.Minute)
	ctx := context.Background()
	tenant, item := uuid.New(), uuid.New()

	_, err := cached.LoadReference(ctx, tenant, item)
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)
	_, err = cached.LoadReference(ctx, tenant, item)
	require.NoError(t, err)
	require.Equal(t, 2, src.calls)
}
