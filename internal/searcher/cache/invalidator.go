package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/wikisearch/search-engine/pkg/kafka"
)

// IndexUpdatedEvent is published by the indexing pipeline whenever postings
// or collection statistics change.
type IndexUpdatedEvent struct {
	Version   string    `json:"version"`
	Documents int64     `json:"documents"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HandleIndexUpdated returns a Kafka handler that drops the whole result
// cache on every index update, since new statistics change every score.
// Undecodable messages are logged and committed.
func HandleIndexUpdated(c *QueryCache) kafka.MessageHandler {
	logger := slog.Default().With("component", "cache-invalidator")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[IndexUpdatedEvent](value)
		if err != nil {
			logger.Error("failed to decode index update", "error", err, "key", string(key))
			return nil
		}
		deleted, err := c.Invalidate(ctx)
		if err != nil {
			return err
		}
		logger.Info("index updated, cache dropped",
			"version", event.Version,
			"documents", event.Documents,
			"keys_deleted", deleted,
		)
		return nil
	}
}
