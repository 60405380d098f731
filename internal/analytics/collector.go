package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/wikisearch/search-engine/pkg/kafka"
)

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, events ...kafka.Event) error
}

// Collector buffers events and flushes them to a Publisher when the batch
// is full or the flush interval elapses. Every tracked event is also handed
// to the optional Aggregator synchronously. Only the flush loop publishes,
// so nothing reaches the Publisher once the loop has exited.
type Collector struct {
	publisher     Publisher
	aggregator    *Aggregator
	mu            sync.Mutex
	buffer        []kafka.Event
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger
	full          chan struct{}
	done          chan struct{}
}

// NewCollector accepts a nil publisher, in which case events are only
// aggregated.
func NewCollector(publisher Publisher, aggregator *Aggregator, batchSize int, flushInterval time.Duration) *Collector {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &Collector{
		publisher:     publisher,
		aggregator:    aggregator,
		buffer:        make([]kafka.Event, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        slog.Default().With("component", "analytics-collector"),
		full:          make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
}

// Start launches the flush loop. When ctx is cancelled the buffer is flushed
// one last time and Close returns.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		if c.publisher == nil {
			<-ctx.Done()
			return
		}
		ticker := time.NewTicker(c.flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.flush(ctx)
			case <-c.full:
				c.flush(ctx)
			case <-ctx.Done():
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				c.flush(flushCtx)
				cancel()
				return
			}
		}
	}()
	c.logger.Info("analytics collector started",
		"batch_size", c.batchSize,
		"flush_interval", c.flushInterval,
		"kafka", c.publisher != nil,
	)
}

func (c *Collector) Track(event SearchEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if c.aggregator != nil {
		c.aggregator.Record(event)
	}
	if c.publisher == nil {
		return
	}

	c.mu.Lock()
	c.buffer = append(c.buffer, kafka.Event{Key: string(event.Type), Value: event})
	full := len(c.buffer) >= c.batchSize
	c.mu.Unlock()

	if full {
		select {
		case c.full <- struct{}{}:
		default:
		}
	}
}

// Close waits for the flush loop started by Start to exit.
func (c *Collector) Close() {
	<-c.done
}

func (c *Collector) BufferLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}

func (c *Collector) flush(ctx context.Context) {
	c.mu.Lock()
	if len(c.buffer) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.buffer
	c.buffer = make([]kafka.Event, 0, c.batchSize)
	c.mu.Unlock()

	if err := c.publisher.Publish(ctx, batch...); err != nil {
		c.logger.Error("batch flush failed", "batch_size", len(batch), "error", err)
		c.requeue(batch)
		return
	}
	c.logger.Debug("batch flushed", "events", len(batch))
}

// requeue puts a failed batch back in front of the buffer, keeping at most
// three batches worth of events.
func (c *Collector) requeue(batch []kafka.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buffer = append(batch, c.buffer...)
	if limit := c.batchSize * 3; len(c.buffer) > limit {
		dropped := len(c.buffer) - limit
		c.buffer = c.buffer[:limit]
		c.logger.Warn("analytics buffer overflow, events dropped", "dropped", dropped)
	}
}
