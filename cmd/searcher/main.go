package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wikisearch/search-engine/internal/analytics"
	"github.com/wikisearch/search-engine/internal/index"
	"github.com/wikisearch/search-engine/internal/searcher/cache"
	"github.com/wikisearch/search-engine/internal/searcher/executor"
	"github.com/wikisearch/search-engine/internal/searcher/handler"
	"github.com/wikisearch/search-engine/internal/searcher/hydrator"
	"github.com/wikisearch/search-engine/internal/searcher/normalizer"
	"github.com/wikisearch/search-engine/internal/searcher/scorer"
	"github.com/wikisearch/search-engine/internal/store/postgres"
	"github.com/wikisearch/search-engine/internal/store/resilient"
	"github.com/wikisearch/search-engine/pkg/config"
	"github.com/wikisearch/search-engine/pkg/health"
	"github.com/wikisearch/search-engine/pkg/kafka"
	"github.com/wikisearch/search-engine/pkg/logger"
	"github.com/wikisearch/search-engine/pkg/metrics"
	"github.com/wikisearch/search-engine/pkg/middleware"
	pkgpostgres "github.com/wikisearch/search-engine/pkg/postgres"
	pkgredis "github.com/wikisearch/search-engine/pkg/redis"
)

type stores struct {
	postings index.PostingStore
	docs     index.DocumentStore
	ping     func(ctx context.Context) error
	close    func() error
}

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search service",
		"port", cfg.Server.Port,
		"backend", cfg.Store.Backend,
		"default_method", cfg.Search.DefaultMethod,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)
	checker := health.NewChecker()

	st, err := openStores(cfg, m)
	if err != nil {
		slog.Error("failed to open store", "backend", cfg.Store.Backend, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := st.close(); err != nil {
			slog.Error("closing store", "error", err)
		}
	}()
	checker.Register("store", health.PingCheck(st.ping, health.StatusDown))

	var queryCache *cache.QueryCache
	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis.CacheTTL, m)
			checker.Register("redis", health.PingCheck(redisClient.Ping, health.StatusDegraded))
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	aggregator := analytics.NewAggregator()
	var publisher analytics.Publisher
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
		defer producer.Close()
		publisher = producer

		if queryCache != nil {
			consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.IndexUpdated, cache.HandleIndexUpdated(queryCache))
			go func() {
				if err := consumer.Run(ctx); err != nil {
					slog.Error("index update consumer stopped", "error", err)
				}
			}()
			slog.Info("cache invalidation consumer started", "topic", cfg.Kafka.Topics.IndexUpdated)
		}
	}
	collector := analytics.NewCollector(publisher, aggregator, cfg.Kafka.BatchSize, cfg.Kafka.FlushInterval)
	collector.Start(ctx)
	defer collector.Close()

	exec := executor.New(st.postings, st.docs,
		executor.WithMetrics(m),
		executor.WithSnippetPolicy(hydrator.SnippetPolicy{
			Mode:      cfg.Search.Snippet.Mode,
			Sentences: cfg.Search.Snippet.Sentences,
			Chars:     cfg.Search.Snippet.Chars,
		}),
	)
	h := handler.New(exec, normalizer.Normalize, queryCache, collector, handler.Config{
		DefaultMethod: scorer.ParseMethod(cfg.Search.DefaultMethod),
		DefaultLimit:  cfg.Search.DefaultLimit,
		MaxResults:    cfg.Search.MaxResults,
		Timeout:       cfg.Search.Timeout,
	})
	analyticsH := analytics.NewHandler(aggregator)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
	mux.HandleFunc("GET /api/v1/analytics/stats", analyticsH.Stats)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	mux.Handle("GET /metrics", m.Handler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	if cfg.Server.RateLimit.Enabled {
		limiter := middleware.NewLimiter(cfg.Server.RateLimit.Requests, cfg.Server.RateLimit.Window)
		go limiter.RunCleanup(ctx, 5*time.Minute)
		chain = middleware.RateLimit(limiter)(chain)
	}
	if len(cfg.Server.CORS.AllowOrigins) > 0 {
		cors := middleware.DefaultCORSConfig()
		cors.AllowOrigins = cfg.Server.CORS.AllowOrigins
		chain = middleware.CORS(cors)(chain)
	}
	chain = middleware.Metrics(m,
		"/api/v1/search",
		"/api/v1/cache/stats",
		"/api/v1/cache/invalidate",
		"/api/v1/analytics/stats",
	)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	var shutdownMetrics func(context.Context) error
	if cfg.Metrics.Enabled && cfg.Metrics.Port != cfg.Server.Port {
		shutdownMetrics, err = m.StartServer(cfg.Metrics.Port, map[string]http.Handler{
			"/health/live":  checker.LiveHandler(),
			"/health/ready": checker.ReadyHandler(),
		})
		if err != nil {
			slog.Error("failed to start metrics server", "error", err)
			os.Exit(1)
		}
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		checker.Drain()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		if shutdownMetrics != nil {
			if err := shutdownMetrics(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown error", "error", err)
			}
		}
	}()

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("search service stopped")
}

func openStores(cfg *config.Config, m *metrics.Metrics) (*stores, error) {
	switch cfg.Store.Backend {
	case "memory":
		idx := index.NewMemoryIndex()
		if cfg.Store.SeedFile != "" {
			f, err := os.Open(cfg.Store.SeedFile)
			if err != nil {
				return nil, fmt.Errorf("opening seed file: %w", err)
			}
			defer f.Close()
			n, err := idx.LoadSeed(f, normalizer.Normalize)
			if err != nil {
				return nil, fmt.Errorf("loading seed file %s: %w", cfg.Store.SeedFile, err)
			}
			slog.Info("memory index seeded", "file", cfg.Store.SeedFile, "documents", n, "stats", idx.Stats())
		}
		return &stores{
			postings: idx,
			docs:     idx,
			ping:     idx.Ping,
			close:    func() error { return nil },
		}, nil

	case "postgres":
		client, err := pkgpostgres.New(cfg.Postgres)
		if err != nil {
			return nil, err
		}
		pg := postgres.NewStore(client.DB)
		rs := resilient.New(pg, pg, resilient.FromStoreConfig(cfg.Store), m)
		return &stores{
			postings: rs,
			docs:     rs,
			ping: func(ctx context.Context) error {
				if err := rs.CheckBreakers(ctx); err != nil {
					return err
				}
				return client.Ping(ctx)
			},
			close: client.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
