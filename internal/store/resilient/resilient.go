// Package resilient decorates posting and document stores with the store
// adapter's own failure policy: per-attempt timeout, retry with exponential
// backoff and a circuit breaker per store. Failures leave the decorator as
// errors.ErrStoreUnavailable; the search pipeline itself never retries.
package resilient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wikisearch/search-engine/internal/index"
	"github.com/wikisearch/search-engine/pkg/config"
	apperrors "github.com/wikisearch/search-engine/pkg/errors"
	"github.com/wikisearch/search-engine/pkg/metrics"
	"github.com/wikisearch/search-engine/pkg/resilience"
)

type Config struct {
	Retry   resilience.RetryConfig
	Breaker resilience.CircuitBreakerConfig
	// Timeout bounds each attempt. Zero disables it.
	Timeout time.Duration
}

// FromStoreConfig converts the YAML store section.
func FromStoreConfig(cfg config.StoreConfig) Config {
	return Config{
		Retry: resilience.RetryConfig{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			InitialDelay: cfg.Retry.InitialDelay,
			MaxDelay:     cfg.Retry.MaxDelay,
		},
		Breaker: resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			ResetTimeout:     cfg.Breaker.ResetTimeout,
		},
		Timeout: cfg.QueryTimeout,
	}
}

type Store struct {
	postings        index.PostingStore
	docs            index.DocumentStore
	cfg             Config
	postingBreaker  *resilience.CircuitBreaker
	documentBreaker *resilience.CircuitBreaker
	metrics         *metrics.Metrics
	logger          *slog.Logger
}

// New wraps postings and docs. m may be nil.
func New(postings index.PostingStore, docs index.DocumentStore, cfg Config, m *metrics.Metrics) *Store {
	breakerCfg := cfg.Breaker
	if m != nil {
		user := breakerCfg.OnStateChange
		breakerCfg.OnStateChange = func(name string, state resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
			if user != nil {
				user(name, state)
			}
		}
		m.CircuitBreakerState.WithLabelValues("postings").Set(float64(resilience.StateClosed))
		m.CircuitBreakerState.WithLabelValues("documents").Set(float64(resilience.StateClosed))
	}
	return &Store{
		postings:        postings,
		docs:            docs,
		cfg:             cfg,
		postingBreaker:  resilience.NewCircuitBreaker("postings", breakerCfg),
		documentBreaker: resilience.NewCircuitBreaker("documents", breakerCfg),
		metrics:         m,
		logger:          slog.Default().With("component", "resilient-store"),
	}
}

func (s *Store) FetchPostings(ctx context.Context, terms []index.Term) (index.CollectionStats, map[index.Term]index.PostingList, error) {
	var (
		stats    index.CollectionStats
		postings map[index.Term]index.PostingList
	)
	err := s.call(ctx, "fetch postings", s.postingBreaker, func(ctx context.Context) error {
		var err error
		stats, postings, err = s.postings.FetchPostings(ctx, terms)
		return err
	})
	if err != nil {
		return index.CollectionStats{}, nil, err
	}
	return stats, postings, nil
}

func (s *Store) FetchDocuments(ctx context.Context, ids []string) ([]index.Document, error) {
	var docs []index.Document
	err := s.call(ctx, "fetch documents", s.documentBreaker, func(ctx context.Context) error {
		var err error
		docs, err = s.docs.FetchDocuments(ctx, ids)
		return err
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// BreakerStates reports the state of both breakers, for health checks.
func (s *Store) BreakerStates() map[string]resilience.State {
	return map[string]resilience.State{
		"postings":  s.postingBreaker.GetState(),
		"documents": s.documentBreaker.GetState(),
	}
}

// CheckBreakers fails while either breaker is open, so readiness reflects a
// store the service has stopped calling.
func (s *Store) CheckBreakers(context.Context) error {
	for _, cb := range []*resilience.CircuitBreaker{s.postingBreaker, s.documentBreaker} {
		if snap := cb.Snapshot(); snap.State == resilience.StateOpen {
			return fmt.Errorf("%s circuit open after %d failures, retry in %v",
				snap.Name, snap.ConsecutiveFailures, snap.RetryAfter.Round(time.Second))
		}
	}
	return nil
}

func (s *Store) call(ctx context.Context, op string, cb *resilience.CircuitBreaker, fn func(ctx context.Context) error) error {
	callerGone := func(error) bool { return ctx.Err() != nil }

	retryCfg := s.cfg.Retry
	retryCfg.Retryable = func(err error) bool {
		return ctx.Err() == nil &&
			!errors.Is(err, resilience.ErrCircuitOpen) &&
			!errors.Is(err, apperrors.ErrInvalidArgument)
	}
	if s.metrics != nil {
		retryCfg.OnRetry = func(int, error) {
			s.metrics.StoreRetriesTotal.WithLabelValues(cb.Name()).Inc()
		}
	}

	err := resilience.Retry(ctx, op, retryCfg, func() error {
		return cb.ExecuteIgnoring(func() error {
			return resilience.WithTimeout(ctx, s.cfg.Timeout, op, fn)
		}, callerGone)
	})
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return fmt.Errorf("%s: %w", op, ctx.Err())
	case errors.Is(err, apperrors.ErrStoreUnavailable):
		return err
	default:
		s.logger.Warn("store call failed", "op", op, "breaker", cb.GetState().String(), "error", err)
		return apperrors.StoreUnavailable(op, err)
	}
}
