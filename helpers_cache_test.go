// jscomplete/helpers_cache_test.go
package jscomplete

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapCache is an unbounded memoryCacheProvider.
type mapCache struct {
	items    map[string]any
	disabled bool
}

func (m *mapCache) GetMemoryCache(key string) (any, bool) {
	v, ok := m.items[key]
	return v, ok
}

func (m *mapCache) SetMemoryCache(key string, value any, _ int64, _ time.Duration) bool {
	m.items[key] = value
	return true
}

func (m *mapCache) MemoryCacheEnabled() bool { return !m.disabled }

func TestWithMemoryCache(t *testing.T) {
	calls := 0
	compute := func() (string, error) {
		calls++
		return "value", nil
	}

	t.Run("miss then hit", func(t *testing.T) {
		calls = 0
		cache := &mapCache{items: map[string]any{}}
		got, hit, err := withMemoryCache[string](cache, "k", 1, time.Minute, compute, discardLogger())
		require.NoError(t, err)
		assert.False(t, hit)
		assert.Equal(t, "value", got)

		got, hit, err = withMemoryCache[string](cache, "k", 1, time.Minute, compute, discardLogger())
		require.NoError(t, err)
		assert.True(t, hit)
		assert.Equal(t, "value", got)
		assert.Equal(t, 1, calls)
	})

	t.Run("nil or disabled provider always computes", func(t *testing.T) {
		calls = 0
		_, hit, err := withMemoryCache[string](nil, "k", 1, time.Minute, compute, discardLogger())
		require.NoError(t, err)
		assert.False(t, hit)
		cache := &mapCache{items: map[string]any{}, disabled: true}
		withMemoryCache[string](cache, "k", 1, time.Minute, compute, discardLogger())
		withMemoryCache[string](cache, "k", 1, time.Minute, compute, discardLogger())
		assert.Equal(t, 3, calls)
	})

	t.Run("entry of another type is recomputed", func(t *testing.T) {
		calls = 0
		cache := &mapCache{items: map[string]any{"k": 42}}
		got, hit, err := withMemoryCache[string](cache, "k", 1, time.Minute, compute, discardLogger())
		require.NoError(t, err)
		assert.False(t, hit)
		assert.Equal(t, "value", got)
		assert.Equal(t, "value", cache.items["k"])
	})

	t.Run("errors are not cached", func(t *testing.T) {
		cache := &mapCache{items: map[string]any{}}
		boom := errors.New("boom")
		_, _, err := withMemoryCache[string](cache, "k", 1, time.Minute, func() (string, error) { return "", boom }, discardLogger())
		assert.ErrorIs(t, err, boom)
		assert.Empty(t, cache.items)
	})
}

func TestCacheKeys(t *testing.T) {
	a := treeCacheKey([]byte("var a;"))
	assert.Equal(t, a, treeCacheKey([]byte("var a;")))
	assert.NotEqual(t, a, treeCacheKey([]byte("var b;")))
	assert.Equal(t, summaryCacheKey("/src/app.js"), summaryCacheKey("/src/lib/../app.js"))
	assert.Greater(t, estimateTreeCost(100), estimateTreeCost(10))
	assert.Positive(t, estimateTreeCost(0))
}
