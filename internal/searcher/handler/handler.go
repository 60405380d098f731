// Package handler exposes the search pipeline over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/wikisearch/search-engine/internal/analytics"
	"github.com/wikisearch/search-engine/internal/index"
	"github.com/wikisearch/search-engine/internal/searcher/cache"
	"github.com/wikisearch/search-engine/internal/searcher/executor"
	"github.com/wikisearch/search-engine/internal/searcher/hydrator"
	"github.com/wikisearch/search-engine/internal/searcher/scorer"
	apperrors "github.com/wikisearch/search-engine/pkg/errors"
	"github.com/wikisearch/search-engine/pkg/logger"
	"github.com/wikisearch/search-engine/pkg/middleware"
)

type SearchExecutor interface {
	Execute(ctx context.Context, q executor.Query) (*executor.SearchResult, error)
}

// Normalizer turns raw query text into index terms. It must match the
// normalizer the index was built with.
type Normalizer func(text string) []index.Term

type Config struct {
	DefaultMethod scorer.Method
	DefaultLimit  int
	MaxResults    int
	// Timeout bounds one search including cache access. Zero disables it.
	Timeout time.Duration
}

type Response struct {
	Query      string                   `json:"query"`
	Method     string                   `json:"method"`
	TotalHits  int                      `json:"total_hits"`
	Results    []hydrator.DisplayRecord `json:"results"`
	SearchTime string                   `json:"search_time"`
	Success    bool                     `json:"success"`
	CacheHit   bool                     `json:"cache_hit"`
	Error      string                   `json:"error,omitempty"`
}

type Handler struct {
	executor  SearchExecutor
	normalize Normalizer
	cache     *cache.QueryCache
	collector *analytics.Collector
	cfg       Config
	logger    *slog.Logger
}

// New builds a Handler. queryCache and collector may be nil.
func New(exec SearchExecutor, normalize Normalizer, queryCache *cache.QueryCache, collector *analytics.Collector, cfg Config) *Handler {
	if cfg.DefaultMethod == "" {
		cfg.DefaultMethod = scorer.TFIDF
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 20
	}
	if cfg.MaxResults < cfg.DefaultLimit {
		cfg.MaxResults = cfg.DefaultLimit
	}
	return &Handler{
		executor:  exec,
		normalize: normalize,
		cache:     queryCache,
		collector: collector,
		cfg:       cfg,
		logger:    slog.Default().With("component", "search-handler"),
	}
}

// Search serves GET /api/v1/search?q=&method=&limit=.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	params := r.URL.Query()
	query := strings.TrimSpace(params.Get("q"))
	method := h.cfg.DefaultMethod
	if m := params.Get("method"); m != "" {
		method = scorer.ParseMethod(m)
	}

	resp := Response{
		Query:   query,
		Method:  method.String(),
		Results: []hydrator.DisplayRecord{},
	}
	if query == "" {
		resp.SearchTime = formatSeconds(time.Since(start))
		h.writeJSON(w, http.StatusOK, resp)
		return
	}

	limit, err := h.parseLimit(params.Get("limit"))
	if err != nil {
		h.fail(w, r, resp, start, err)
		return
	}

	q := executor.Query{
		Terms:  h.normalize(query),
		Method: method,
		TopK:   limit,
	}

	if h.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.Timeout)
		defer cancel()
	}

	var (
		result   *executor.SearchResult
		cacheHit bool
	)
	if h.cache != nil && len(q.Terms) > 0 {
		result, cacheHit, err = h.cache.GetOrCompute(ctx, q, func(ctx context.Context) (*executor.SearchResult, error) {
			return h.executor.Execute(ctx, q)
		})
	} else {
		result, err = h.executor.Execute(ctx, q)
	}
	if err != nil {
		h.fail(w, r, resp, start, err)
		return
	}

	elapsed := time.Since(start)
	resp.TotalHits = result.TotalHits
	resp.Results = result.Results
	resp.SearchTime = formatSeconds(elapsed)
	resp.Success = true
	resp.CacheHit = cacheHit

	log.Info("search completed",
		"query", query,
		"method", method,
		"total_hits", result.TotalHits,
		"returned", len(result.Results),
		"cache_hit", cacheHit,
		"latency_ms", elapsed.Milliseconds(),
	)
	eventType := analytics.EventSearch
	if result.Empty {
		eventType = analytics.EventZeroResult
	}
	h.track(ctx, analytics.SearchEvent{
		Type:      eventType,
		Query:     query,
		Terms:     q.Terms,
		Method:    method.String(),
		TopK:      limit,
		TotalHits: result.TotalHits,
		Returned:  len(result.Results),
		LatencyMs: elapsed.Milliseconds(),
		CacheHit:  cacheHit,
	})

	h.writeJSON(w, http.StatusOK, resp)
}

// parseLimit applies the default for an empty value and caps at MaxResults.
// Non-positive values are passed through for the executor to reject.
func (h *Handler) parseLimit(raw string) (int, error) {
	if raw == "" {
		return h.cfg.DefaultLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.InvalidArgumentf("limit must be an integer, got %q", raw)
	}
	return min(limit, h.cfg.MaxResults), nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, resp Response, start time.Time, err error) {
	status := statusFor(err)
	elapsed := time.Since(start)
	log := logger.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("search failed", "query", resp.Query, "method", resp.Method, "status", status, "error", err)
	} else {
		log.Info("search rejected", "query", resp.Query, "status", status, "error", err)
	}
	h.track(r.Context(), analytics.SearchEvent{
		Type:      analytics.EventFailed,
		Query:     resp.Query,
		Method:    resp.Method,
		LatencyMs: elapsed.Milliseconds(),
		Error:     err.Error(),
	})

	resp.SearchTime = formatSeconds(elapsed)
	resp.Error = publicMessage(err)
	h.writeJSON(w, status, resp)
}

func (h *Handler) track(ctx context.Context, event analytics.SearchEvent) {
	if h.collector == nil {
		return
	}
	event.RequestID = middleware.GetRequestID(ctx)
	h.collector.Track(event)
}

// statusFor maps err to a response status. A store call that hit its own
// deadline is still a store failure; only the request deadline yields 504.
func statusFor(err error) int {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, apperrors.ErrStoreUnavailable) {
		return http.StatusGatewayTimeout
	}
	return apperrors.HTTPStatusCode(err)
}

// publicMessage hides internal detail for server-side failures.
func publicMessage(err error) string {
	var appErr *apperrors.AppError
	switch {
	case errors.Is(err, apperrors.ErrInvalidArgument) && errors.As(err, &appErr):
		return appErr.Message
	case errors.Is(err, apperrors.ErrStoreUnavailable):
		return "search backend unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return "search timed out"
	default:
		return "search failed"
	}
}

func formatSeconds(d time.Duration) string {
	return fmt.Sprintf("%.3f", d.Seconds())
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "caching is disabled"})
		return
	}
	deleted, err := h.cache.Invalidate(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("cache invalidation failed", "error", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cache invalidation failed"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": deleted})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}
