// jscomplete/helpers_cache.go
// Contains helper functions for memory caching (Ristretto).
package jscomplete

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"
)

// ============================================================================
// Memory Cache Helpers
// ============================================================================

// memoryCacheProvider is the part of Engine the cache helper relies on.
type memoryCacheProvider interface {
	GetMemoryCache(key string) (any, bool)
	SetMemoryCache(key string, value any, cost int64, ttl time.Duration) bool
	MemoryCacheEnabled() bool
}

const (
	treeCachePrefix    = "tree"
	summaryCachePrefix = "globals"

	// A converted node costs roughly this many bytes per source byte.
	treeCostFactor      = 8
	estimateSummaryCost = 4 << 10
)

// treeCacheKey keys a parsed tree by the content hash of its buffer.
func treeCacheKey(src []byte) string {
	return fmt.Sprintf("%s:%s", treeCachePrefix, hashContent(src))
}

// summaryCacheKey keys the merged global summaries of a file.
func summaryCacheKey(file string) string {
	return fmt.Sprintf("%s:%s", summaryCachePrefix, filepath.Clean(file))
}

func estimateTreeCost(srcLen int) int64 {
	return int64(srcLen+1) * treeCostFactor
}

// withMemoryCache wraps a function call with caching logic.
// Tries to fetch from cache using cacheKey. If miss, calls computeFn,
// stores the result with cost and ttl, and returns it.
// Returns the result (cached or computed), a boolean indicating cache hit, and any error from computeFn.
func withMemoryCache[T any](
	provider memoryCacheProvider,
	cacheKey string,
	cost int64, // Estimated cost for Ristretto (e.g., size in bytes, or just 1)
	ttl time.Duration,
	computeFn func() (T, error),
	logger *slog.Logger,
) (T, bool, error) {
	var zero T
	if logger == nil {
		logger = slog.Default()
	}
	cacheLogger := logger.With("cache_key", cacheKey)

	if provider == nil || !provider.MemoryCacheEnabled() {
		cacheLogger.Debug("Memory cache check skipped (cache disabled)")
		result, err := computeFn()
		return result, false, err
	}

	if cachedResult, found := provider.GetMemoryCache(cacheKey); found {
		if typedResult, ok := cachedResult.(T); ok {
			cacheLogger.Debug("Memory cache hit")
			return typedResult, true, nil
		}
		// Mismatched entry; recomputing overwrites it below.
		cacheLogger.Error("Memory cache type assertion failed", "expected_type", fmt.Sprintf("%T", zero), "actual_type", fmt.Sprintf("%T", cachedResult))
	} else {
		cacheLogger.Debug("Memory cache miss")
	}

	computedResult, err := computeFn()
	if err != nil {
		return zero, false, err
	}

	if cost <= 0 {
		cost = 1
	}
	if ttl <= 0 {
		ttl = time.Duration(defaultMemoryCacheTTLSecs) * time.Second
	}
	if provider.SetMemoryCache(cacheKey, computedResult, cost, ttl) {
		cacheLogger.Debug("Memory cache set successful", "cost", cost, "ttl", ttl)
	} else {
		cacheLogger.Warn("Memory cache Set failed, item not cached", "cost", cost, "ttl", ttl)
	}
	return computedResult, false, nil
}
