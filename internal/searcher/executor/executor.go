// Package executor runs the query pipeline: fetch postings, score, rank and
// hydrate.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/wikisearch/search-engine/internal/index"
	"github.com/wikisearch/search-engine/internal/searcher/hydrator"
	"github.com/wikisearch/search-engine/internal/searcher/ranker"
	"github.com/wikisearch/search-engine/internal/searcher/scorer"
	apperrors "github.com/wikisearch/search-engine/pkg/errors"
	"github.com/wikisearch/search-engine/pkg/logger"
	"github.com/wikisearch/search-engine/pkg/metrics"
	"github.com/wikisearch/search-engine/pkg/tracing"
)

type Query struct {
	Terms  []index.Term
	Method scorer.Method
	TopK   int
}

type SearchResult struct {
	Terms          []index.Term             `json:"terms"`
	Method         scorer.Method            `json:"method"`
	TotalHits      int                      `json:"total_hits"`
	Results        []hydrator.DisplayRecord `json:"results"`
	Ranked         ranker.RankedResult      `json:"ranked"`
	ElapsedSeconds float64                  `json:"elapsed_seconds"`
	Empty          bool                     `json:"empty"`
}

type Option func(*Executor)

// WithSnippetPolicy overrides DefaultSnippetPolicy.
func WithSnippetPolicy(p hydrator.SnippetPolicy) Option {
	return func(e *Executor) { e.snippet = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

type Executor struct {
	postings index.PostingStore
	docs     index.DocumentStore
	snippet  hydrator.SnippetPolicy
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func New(postings index.PostingStore, docs index.DocumentStore, opts ...Option) *Executor {
	e := &Executor{
		postings: postings,
		docs:     docs,
		snippet:  hydrator.DefaultSnippetPolicy(),
		logger:   slog.Default().With("component", "query-executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs q to completion or returns the first error. An empty term
// list is not an error: it yields a result with Empty set and touches no
// store.
func (e *Executor) Execute(ctx context.Context, q Query) (*SearchResult, error) {
	start := time.Now()
	if q.Method == "" {
		q.Method = scorer.TFIDF
	}
	result, err := e.execute(ctx, q)
	elapsed := time.Since(start)

	outcome := outcomeOf(result, err)
	if e.metrics != nil {
		e.metrics.SearchQueriesTotal.WithLabelValues(outcome).Inc()
		e.metrics.SearchLatency.WithLabelValues(q.Method.String()).Observe(elapsed.Seconds())
	}
	if err != nil {
		logger.FromContext(ctx).Warn("query failed",
			"component", "query-executor",
			"terms", q.Terms,
			"method", q.Method,
			"outcome", outcome,
			"error", err,
		)
		return nil, err
	}

	result.ElapsedSeconds = math.Round(elapsed.Seconds()*1000) / 1000
	if e.metrics != nil {
		e.metrics.SearchResultsCount.Observe(float64(len(result.Results)))
	}
	logger.FromContext(ctx).Info("query executed",
		"component", "query-executor",
		"terms", q.Terms,
		"method", q.Method,
		"total_hits", result.TotalHits,
		"results", len(result.Results),
		"elapsed_ms", elapsed.Milliseconds(),
	)
	return result, nil
}

func (e *Executor) execute(ctx context.Context, q Query) (*SearchResult, error) {
	if q.TopK <= 0 {
		return nil, apperrors.InvalidArgumentf("topK must be positive, got %d", q.TopK)
	}
	if len(q.Terms) == 0 {
		return &SearchResult{
			Terms:   []index.Term{},
			Method:  q.Method,
			Results: []hydrator.DisplayRecord{},
			Ranked:  ranker.RankedResult{},
			Empty:   true,
		}, nil
	}

	ctx, root := tracing.StartSpan(ctx, "search", logger.RequestID(ctx))
	root.SetAttr("method", q.Method.String())
	defer func() {
		root.End()
		root.Log(e.logger)
	}()

	var (
		stats    index.CollectionStats
		postings map[index.Term]index.PostingList
	)
	err := e.stage(ctx, "fetch_postings", func(ctx context.Context) error {
		var err error
		stats, postings, err = e.postings.FetchPostings(ctx, uniqueTerms(q.Terms))
		if err != nil {
			e.storeError("postings")
			return fmt.Errorf("fetching postings: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var scores scorer.Accumulator
	err = e.stage(ctx, "score", func(context.Context) error {
		var err error
		scores, err = scorer.Score(q.Terms, postings, stats, q.Method)
		return err
	})
	if err != nil {
		return nil, err
	}

	var ranked ranker.RankedResult
	err = e.stage(ctx, "rank", func(context.Context) error {
		var err error
		ranked, err = ranker.Rank(scores, q.TopK)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var records []hydrator.DisplayRecord
	err = e.stage(ctx, "hydrate", func(ctx context.Context) error {
		var err error
		records, err = hydrator.Hydrate(ctx, ranked, e.docs.FetchDocuments, e.snippet)
		if err != nil {
			e.storeError("documents")
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if dropped := len(ranked) - len(records); dropped > 0 && e.metrics != nil {
		e.metrics.DocumentsDropped.Add(float64(dropped))
	}

	return &SearchResult{
		Terms:     q.Terms,
		Method:    q.Method,
		TotalHits: len(scores),
		Results:   records,
		Ranked:    ranked,
		Empty:     len(records) == 0,
	}, nil
}

func (e *Executor) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := tracing.StartChildSpan(ctx, name)
	err := fn(ctx)
	if err != nil {
		span.SetAttr("error", err.Error())
	}
	d := span.End()
	if e.metrics != nil {
		e.metrics.StageLatency.WithLabelValues(name).Observe(d.Seconds())
	}
	return err
}

func (e *Executor) storeError(store string) {
	if e.metrics != nil {
		e.metrics.StoreErrorsTotal.WithLabelValues(store).Inc()
	}
}

// uniqueTerms keeps the first occurrence of each term.
func uniqueTerms(terms []index.Term) []index.Term {
	seen := make(map[index.Term]struct{}, len(terms))
	out := make([]index.Term, 0, len(terms))
	for _, t := range terms {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func outcomeOf(result *SearchResult, err error) string {
	switch {
	case err == nil && result.Empty:
		return "empty"
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, apperrors.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, apperrors.ErrInvalidStatistics):
		return "invalid_statistics"
	case errors.Is(err, apperrors.ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "error"
	}
}
