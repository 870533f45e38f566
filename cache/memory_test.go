package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-docstore/logger"
	"github.com/saiset-co/sai-docstore/types"
)

func newTestCache(t *testing.T, config *types.CacheConfig) types.CacheManager {
	t.Helper()

	if config == nil {
		config = &types.CacheConfig{}
	}

	cache, err := NewMemoryCache(context.Background(), logger.NewZapWrapper(zap.NewNop()), config)
	require.NoError(t, err)

	return cache
}

func TestMemoryCache_GetSet(t *testing.T) {
	cache := newTestCache(t, nil)

	require.NoError(t, cache.Set("db/col", "payload", time.Minute))

	value, found := cache.Get("db/col")
	require.True(t, found)
	assert.Equal(t, "payload", value)

	_, found = cache.Get("missing")
	assert.False(t, found)
}

func TestMemoryCache_EmptyKeyRejected(t *testing.T) {
	cache := newTestCache(t, nil)

	err := cache.Set("", "payload", time.Minute)
	require.ErrorIs(t, err, types.ErrCacheKeyEmpty)
}

func TestMemoryCache_TTLExpiry(t *testing.T) {
	cache := newTestCache(t, nil)

	require.NoError(t, cache.Set("db/col", "payload", 100*time.Millisecond))

	value, found := cache.Get("db/col")
	require.True(t, found)
	assert.Equal(t, "payload", value)

	time.Sleep(150 * time.Millisecond)

	_, found = cache.Get("db/col")
	assert.False(t, found, "expired entry must read as a miss")

	stale, found := cache.GetStale("db/col")
	require.True(t, found, "expired entry must stay reachable through GetStale")
	assert.Equal(t, "payload", stale.Value)
	assert.True(t, stale.Expired)
}

func TestMemoryCache_TTLRules(t *testing.T) {
	cache := newTestCache(t, &types.CacheConfig{
		DefaultTTL: time.Hour,
		TTLRules: []types.TTLRule{
			{Prefix: "shop/", TTL: 30 * time.Minute},
			{Prefix: "shop/orders", TTL: 50 * time.Millisecond},
		},
	})

	// Longest prefix match: shop/orders gets the short TTL.
	require.NoError(t, cache.Set("shop/orders:page=1", "orders", 0))
	require.NoError(t, cache.Set("shop/products", "products", 0))

	time.Sleep(80 * time.Millisecond)

	_, found := cache.Get("shop/orders:page=1")
	assert.False(t, found)

	_, found = cache.Get("shop/products")
	assert.True(t, found)
}

func TestMemoryCache_PatternInvalidation(t *testing.T) {
	cache := newTestCache(t, nil)

	require.NoError(t, cache.Set("db/col:a", 1, time.Minute))
	require.NoError(t, cache.Set("db/col:b", 2, time.Minute))
	require.NoError(t, cache.Set("db/other", 3, time.Minute))

	removed := cache.InvalidatePattern("db/col")
	assert.Equal(t, 2, removed)

	_, found := cache.Get("db/col:a")
	assert.False(t, found)
	_, found = cache.Get("db/col:b")
	assert.False(t, found)

	value, found := cache.Get("db/other")
	require.True(t, found)
	assert.Equal(t, 3, value)
}

func TestMemoryCache_InvalidatePatternEmptyPrefix(t *testing.T) {
	cache := newTestCache(t, nil)

	require.NoError(t, cache.Set("db/col", 1, time.Minute))

	assert.Equal(t, 0, cache.InvalidatePattern(""))

	_, found := cache.Get("db/col")
	assert.True(t, found)
}

func TestMemoryCache_Stats(t *testing.T) {
	cache := newTestCache(t, nil)

	require.NoError(t, cache.Set("a", 1, 50*time.Millisecond))
	require.NoError(t, cache.Set("b", 2, time.Hour))
	require.NoError(t, cache.Set("c", 3, time.Hour))

	time.Sleep(80 * time.Millisecond)

	stats := cache.Stats()
	assert.Equal(t, 3, stats.TotalEntries)
	assert.Equal(t, 2, stats.ValidEntries)
	assert.Equal(t, 1, stats.ExpiredEntries)
	assert.Equal(t, []string{"a", "b", "c"}, stats.Keys)
}

func TestMemoryCache_Cleanup(t *testing.T) {
	cache := newTestCache(t, nil)

	require.NoError(t, cache.Set("expired-1", 1, 10*time.Millisecond))
	require.NoError(t, cache.Set("expired-2", 2, 10*time.Millisecond))
	require.NoError(t, cache.Set("alive", 3, time.Hour))

	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 2, cache.Cleanup())

	_, found := cache.GetStale("expired-1")
	assert.False(t, found, "swept entries are gone for stale reads too")

	_, found = cache.Get("alive")
	assert.True(t, found)
}

func TestMemoryCache_Clear(t *testing.T) {
	cache := newTestCache(t, nil)

	require.NoError(t, cache.Set("a", 1, time.Minute))
	require.NoError(t, cache.Set("b", 2, time.Minute))

	require.NoError(t, cache.Clear())

	stats := cache.Stats()
	assert.Equal(t, 0, stats.TotalEntries)
}

func TestMemoryCache_MaxEntriesEviction(t *testing.T) {
	cache := newTestCache(t, &types.CacheConfig{
		Config: map[string]interface{}{"max_entries": 2},
	})

	require.NoError(t, cache.Set("first", 1, time.Minute))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, cache.Set("second", 2, time.Minute))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, cache.Set("third", 3, time.Minute))

	_, found := cache.Get("first")
	assert.False(t, found, "oldest entry is evicted at capacity")

	_, found = cache.Get("second")
	assert.True(t, found)
	_, found = cache.Get("third")
	assert.True(t, found)
}

func TestMemoryCache_Lifecycle(t *testing.T) {
	cache := newTestCache(t, &types.CacheConfig{CleanupInterval: "10ms"})

	require.NoError(t, cache.Start())
	assert.True(t, cache.IsRunning())
	require.ErrorIs(t, cache.Start(), types.ErrServerAlreadyRunning)

	require.NoError(t, cache.Set("k", "v", 5*time.Millisecond))
	time.Sleep(50 * time.Millisecond)

	_, found := cache.GetStale("k")
	assert.False(t, found, "background sweep reclaims expired entries")

	require.NoError(t, cache.Stop())
	assert.False(t, cache.IsRunning())
	require.ErrorIs(t, cache.Stop(), types.ErrServerNotRunning)
}

func TestMemoryCache_ConcurrentAccess(t *testing.T) {
	cache := newTestCache(t, nil)

	var wg sync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				key := fmt.Sprintf("db/col:%d-%d", worker, i)
				_ = cache.Set(key, i, time.Minute)
				cache.Get(key)
				if i%10 == 0 {
					cache.InvalidatePattern(fmt.Sprintf("db/col:%d", worker))
				}
			}
		}(worker)
	}
	wg.Wait()

	stats := cache.Stats()
	assert.LessOrEqual(t, stats.TotalEntries, 800)
}
