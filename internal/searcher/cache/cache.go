// Package cache stores executed search results in Redis, keyed by the
// normalized query, and de-duplicates concurrent identical queries.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/wikisearch/search-engine/internal/searcher/executor"
	apperrors "github.com/wikisearch/search-engine/pkg/errors"
	"github.com/wikisearch/search-engine/pkg/metrics"
	pkgredis "github.com/wikisearch/search-engine/pkg/redis"
)

const keyPrefix = "search:"

// Backend is the subset of pkg/redis.Client the cache uses. Get reports a
// miss with an error matching pkg/redis.IsNilError.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) (int64, error)
}

type QueryCache struct {
	backend Backend
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New returns a cache writing entries with the given ttl. m may be nil.
func New(backend Backend, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	return &QueryCache{
		backend: backend,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
}

func (c *QueryCache) Get(ctx context.Context, q executor.Query) (*executor.SearchResult, bool) {
	key := Key(q)
	data, err := c.backend.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}
	var result executor.SearchResult
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hit()
	c.logger.Debug("cache hit", "terms", q.Terms, "key", key)
	return &result, true
}

// Set stores result under q. Failures are logged, never returned: the
// cache is an optimisation only.
func (c *QueryCache) Set(ctx context.Context, q executor.Query, result *executor.SearchResult) {
	key := Key(q)
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.backend.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached result for q or runs compute once for all
// concurrent callers of the same query. The bool reports a cache hit.
// Errors from compute are not cached.
//
// The shared compute is detached from the cancellation of the caller that
// started it and only keeps that caller's deadline. Each caller stops
// waiting when its own ctx is done. A caller still alive when the shared
// run fails on its deadline computes again under its own ctx.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	q executor.Query,
	compute func(ctx context.Context) (*executor.SearchResult, error),
) (*executor.SearchResult, bool, error) {
	if result, ok := c.Get(ctx, q); ok {
		return result, true, nil
	}
	ch := c.group.DoChan(Key(q), func() (interface{}, error) {
		shared := context.WithoutCancel(ctx)
		if deadline, ok := ctx.Deadline(); ok {
			var cancel context.CancelFunc
			shared, cancel = context.WithDeadline(shared, deadline)
			defer cancel()
		}
		return c.computeAndStore(shared, q, compute)
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			if isContextError(res.Err) && ctx.Err() == nil {
				c.logger.Debug("shared search expired, recomputing", "key", Key(q))
				result, err := c.computeAndStore(ctx, q, compute)
				return result, false, err
			}
			return nil, false, res.Err
		}
		return res.Val.(*executor.SearchResult), false, nil
	}
}

func (c *QueryCache) computeAndStore(
	ctx context.Context,
	q executor.Query,
	compute func(ctx context.Context) (*executor.SearchResult, error),
) (*executor.SearchResult, error) {
	result, err := compute(ctx)
	if err != nil {
		return nil, err
	}
	c.Set(ctx, q, result)
	return result, nil
}

// isContextError reports a cancelled or expired search. Store timeouts are
// store failures, not context errors.
func isContextError(err error) bool {
	if errors.Is(err, apperrors.ErrStoreUnavailable) {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Invalidate drops every cached search result.
func (c *QueryCache) Invalidate(ctx context.Context) (int64, error) {
	deleted, err := c.backend.DeletePrefix(ctx, keyPrefix)
	if err != nil {
		return deleted, fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return deleted, nil
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *QueryCache) hit() {
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

// Key derives the cache key of q. Term order is kept because it fixes the
// order scores are summed in.
func Key(q executor.Query) string {
	raw := fmt.Sprintf("%s|k=%d|%s", q.Method, q.TopK, strings.Join(q.Terms, "\x1f"))
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}
