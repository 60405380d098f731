package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "tfidf", cfg.Search.DefaultMethod)
	assert.Equal(t, 20, cfg.Search.DefaultLimit)
	assert.Equal(t, "sentences", cfg.Search.Snippet.Mode)
	assert.Equal(t, 2, cfg.Search.Snippet.Sentences)
	assert.Equal(t, "postgres", cfg.Store.Backend)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "searcher.yaml")
	content := `
search:
  defaultMethod: bm25
  defaultLimit: 5
  snippet:
    mode: chars
    chars: 120
store:
  backend: memory
  retry:
    maxAttempts: 7
redis:
  cacheTTL: 2m
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "bm25", cfg.Search.DefaultMethod)
	assert.Equal(t, 5, cfg.Search.DefaultLimit)
	assert.Equal(t, 100, cfg.Search.MaxResults)
	assert.Equal(t, "chars", cfg.Search.Snippet.Mode)
	assert.Equal(t, 120, cfg.Search.Snippet.Chars)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, 7, cfg.Store.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Minute, cfg.Redis.CacheTTL)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SP_SEARCH_DEFAULT_METHOD", "BM25")
	t.Setenv("SP_STORE_BACKEND", "memory")
	t.Setenv("SP_POSTGRES_PORT", "6543")
	t.Setenv("SP_KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("SP_SERVER_CORS_ORIGINS", "https://wiki.example.org")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "BM25", cfg.Search.DefaultMethod)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, 6543, cfg.Postgres.Port)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, []string{"https://wiki.example.org"}, cfg.Server.CORS.AllowOrigins)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero default limit", func(c *Config) { c.Search.DefaultLimit = 0 }},
		{"max below default", func(c *Config) { c.Search.MaxResults = 1 }},
		{"unknown snippet mode", func(c *Config) { c.Search.Snippet.Mode = "words" }},
		{"zero sentences", func(c *Config) { c.Search.Snippet.Sentences = 0 }},
		{"unknown backend", func(c *Config) { c.Store.Backend = "mongo" }},
		{"rate limit without budget", func(c *Config) {
			c.Server.RateLimit.Enabled = true
			c.Server.RateLimit.Requests = 0
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, defaultConfig().Validate())
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: 5432, User: "u", Password: "p", Database: "d", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=d sslmode=disable", p.DSN())
}
