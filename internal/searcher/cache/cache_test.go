package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wikisearch/search-engine/internal/searcher/executor"
	"github.com/wikisearch/search-engine/internal/searcher/ranker"
	"github.com/wikisearch/search-engine/internal/searcher/scorer"
	apperrors "github.com/wikisearch/search-engine/pkg/errors"
	"github.com/wikisearch/search-engine/pkg/metrics"
	pkgredis "github.com/wikisearch/search-engine/pkg/redis"
)

type memoryBackend struct {
	mu     sync.Mutex
	data   map[string][]byte
	ttls   map[string]time.Duration
	getErr error
	gets   atomic.Int32
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{data: make(map[string][]byte), ttls: make(map[string]time.Duration)}
}

func (b *memoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	b.gets.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.getErr != nil {
		return nil, b.getErr
	}
	v, ok := b.data[key]
	if !ok {
		return nil, pkgredis.Nil
	}
	return v, nil
}

func (b *memoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = value
	b.ttls[key] = ttl
	return nil
}

func (b *memoryBackend) DeletePrefix(_ context.Context, prefix string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var n int64
	for k := range b.data {
		if strings.HasPrefix(k, prefix) {
			delete(b.data, k)
			n++
		}
	}
	return n, nil
}

func (b *memoryBackend) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

func sampleResult() *executor.SearchResult {
	return &executor.SearchResult{
		Terms:     []string{"messi"},
		Method:    scorer.BM25,
		TotalHits: 1,
		Ranked:    ranker.RankedResult{{DocID: "D1", Score: 1.5}},
	}
}

func TestKey_DistinguishesMethodLimitAndOrder(t *testing.T) {
	base := executor.Query{Terms: []string{"messi", "argentina"}, Method: scorer.TFIDF, TopK: 10}
	same := executor.Query{Terms: []string{"messi", "argentina"}, Method: scorer.TFIDF, TopK: 10}
	assert.Equal(t, Key(base), Key(same))
	assert.True(t, strings.HasPrefix(Key(base), keyPrefix))

	variants := []executor.Query{
		{Terms: []string{"messi", "argentina"}, Method: scorer.BM25, TopK: 10},
		{Terms: []string{"messi", "argentina"}, Method: scorer.TFIDF, TopK: 5},
		{Terms: []string{"argentina", "messi"}, Method: scorer.TFIDF, TopK: 10},
		{Terms: []string{"messiargentina"}, Method: scorer.TFIDF, TopK: 10},
	}
	for _, v := range variants {
		assert.NotEqual(t, Key(base), Key(v), "%+v", v)
	}
}

func TestGetOrCompute_CachesResults(t *testing.T) {
	backend := newMemoryBackend()
	m := metrics.New(prometheus.NewRegistry())
	c := New(backend, time.Minute, m)
	q := executor.Query{Terms: []string{"messi"}, Method: scorer.BM25, TopK: 10}

	var calls atomic.Int32
	compute := func(context.Context) (*executor.SearchResult, error) {
		calls.Add(1)
		return sampleResult(), nil
	}

	first, hit, err := c.GetOrCompute(context.Background(), q, compute)
	require.NoError(t, err)
	assert.False(t, hit)

	second, hit, err := c.GetOrCompute(context.Background(), q, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, first.Ranked, second.Ranked)
	assert.Equal(t, int32(1), calls.Load())

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHitsTotal))
	assert.Equal(t, time.Minute, backend.ttls[Key(q)])
}

func TestGetOrCompute_DoesNotCacheErrors(t *testing.T) {
	backend := newMemoryBackend()
	c := New(backend, time.Minute, nil)
	q := executor.Query{Terms: []string{"messi"}, TopK: 10}

	_, _, err := c.GetOrCompute(context.Background(), q, func(context.Context) (*executor.SearchResult, error) {
		return nil, errors.New("store down")
	})
	require.Error(t, err)
	assert.Zero(t, backend.len())
}

func TestGetOrCompute_BackendErrorFallsThrough(t *testing.T) {
	backend := newMemoryBackend()
	backend.getErr = errors.New("redis: connection refused")
	c := New(backend, time.Minute, nil)

	res, hit, err := c.GetOrCompute(context.Background(), executor.Query{Terms: []string{"x"}, TopK: 1},
		func(context.Context) (*executor.SearchResult, error) { return sampleResult(), nil })
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 1, res.TotalHits)
}

func TestGetOrCompute_CancelledLeaderDoesNotFailFollower(t *testing.T) {
	backend := newMemoryBackend()
	c := New(backend, time.Minute, nil)
	q := executor.Query{Terms: []string{"messi"}, Method: scorer.BM25, TopK: 10}

	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	compute := func(ctx context.Context) (*executor.SearchResult, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		select {
		case <-release:
			return sampleResult(), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrCompute(leaderCtx, q, compute)
		leaderErr <- err
	}()
	<-started

	type outcome struct {
		result *executor.SearchResult
		err    error
	}
	follower := make(chan outcome, 1)
	go func() {
		res, _, err := c.GetOrCompute(context.Background(), q, compute)
		follower <- outcome{res, err}
	}()
	require.Eventually(t, func() bool { return backend.gets.Load() == 2 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	cancelLeader()
	assert.ErrorIs(t, <-leaderErr, context.Canceled)

	close(release)
	got := <-follower
	require.NoError(t, got.err)
	assert.Equal(t, 1, got.result.TotalHits)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, backend.len())
}

func TestGetOrCompute_RecomputesWhenLeaderDeadlinePasses(t *testing.T) {
	backend := newMemoryBackend()
	c := New(backend, time.Minute, nil)
	q := executor.Query{Terms: []string{"messi"}, Method: scorer.TFIDF, TopK: 10}

	started := make(chan struct{})
	var calls atomic.Int32
	compute := func(ctx context.Context) (*executor.SearchResult, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return sampleResult(), nil
	}

	leaderCtx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	leaderErr := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrCompute(leaderCtx, q, compute)
		leaderErr <- err
	}()
	<-started

	res, hit, err := c.GetOrCompute(context.Background(), q, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 1, res.TotalHits)
	assert.ErrorIs(t, <-leaderErr, context.DeadlineExceeded)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGetOrCompute_StoreTimeoutIsShared(t *testing.T) {
	c := New(newMemoryBackend(), time.Minute, nil)
	q := executor.Query{Terms: []string{"messi"}, TopK: 10}

	var calls atomic.Int32
	_, _, err := c.GetOrCompute(context.Background(), q, func(context.Context) (*executor.SearchResult, error) {
		calls.Add(1)
		return nil, apperrors.StoreUnavailable("fetch postings", context.DeadlineExceeded)
	})
	assert.ErrorIs(t, err, apperrors.ErrStoreUnavailable)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHandleIndexUpdated_DropsAllEntries(t *testing.T) {
	backend := newMemoryBackend()
	c := New(backend, time.Minute, nil)
	c.Set(context.Background(), executor.Query{Terms: []string{"a"}, TopK: 1}, sampleResult())
	c.Set(context.Background(), executor.Query{Terms: []string{"b"}, TopK: 1}, sampleResult())
	require.Equal(t, 2, backend.len())

	handler := HandleIndexUpdated(c)
	require.NoError(t, handler(context.Background(), nil, []byte(`{"version":"v42","documents":1200}`)))
	assert.Zero(t, backend.len())

	assert.NoError(t, handler(context.Background(), nil, []byte(`not json`)), "bad payloads are skipped")
}
