// Package tracing times the stages of one query. A root span per query
// carries the request id as its trace id; each pipeline stage is a child
// span. Spans travel in the context and are reported through slog.
package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type contextKey struct{}

type Span struct {
	Name      string
	TraceID   string
	StartTime time.Time
	Duration  time.Duration

	mu       sync.Mutex
	children []*Span
	attrs    []slog.Attr
}

// StartSpan begins a root span and stores it in the returned context.
func StartSpan(ctx context.Context, name string, traceID string) (context.Context, *Span) {
	span := &Span{Name: name, TraceID: traceID, StartTime: time.Now()}
	return context.WithValue(ctx, contextKey{}, span), span
}

// StartChildSpan begins a span under the one in ctx. Without a parent the
// child is a detached root with no trace id.
func StartChildSpan(ctx context.Context, name string) (context.Context, *Span) {
	child := &Span{Name: name, StartTime: time.Now()}
	if parent := SpanFromContext(ctx); parent != nil {
		child.TraceID = parent.TraceID
		parent.mu.Lock()
		parent.children = append(parent.children, child)
		parent.mu.Unlock()
	}
	return context.WithValue(ctx, contextKey{}, child), child
}

func SpanFromContext(ctx context.Context) *Span {
	span, _ := ctx.Value(contextKey{}).(*Span)
	return span
}

// End fixes the span duration and returns it.
func (s *Span) End() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Duration = time.Since(s.StartTime)
	return s.Duration
}

// SetAttr attaches an attribute that is reported with the span. Setting a
// key twice keeps the last value.
func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.attrs {
		if s.attrs[i].Key == key {
			s.attrs[i].Value = slog.AnyValue(value)
			return
		}
	}
	s.attrs = append(s.attrs, slog.Any(key, value))
}

// Children returns the direct children in start order.
func (s *Span) Children() []*Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Span(nil), s.children...)
}

// ChildDurations sums the duration of the direct children by name.
func (s *Span) ChildDurations() map[string]time.Duration {
	out := make(map[string]time.Duration)
	for _, c := range s.Children() {
		c.mu.Lock()
		out[c.Name] += c.Duration
		c.mu.Unlock()
	}
	return out
}

// Log writes the span as one debug record: its own duration and attributes
// plus a "stages" group with each child's duration in milliseconds. Child
// attributes are reported as "<child>.<key>".
func (s *Span) Log(logger *slog.Logger) {
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	s.mu.Lock()
	args := []any{
		"trace_id", s.TraceID,
		"span", s.Name,
		"duration_ms", millis(s.Duration),
	}
	for _, a := range s.attrs {
		args = append(args, a)
	}
	children := append([]*Span(nil), s.children...)
	s.mu.Unlock()

	stages := make([]any, 0, len(children))
	for _, c := range children {
		c.mu.Lock()
		stages = append(stages, slog.Float64(c.Name, millis(c.Duration)))
		for _, a := range c.attrs {
			args = append(args, slog.Attr{Key: c.Name + "." + a.Key, Value: a.Value})
		}
		c.mu.Unlock()
	}
	if len(stages) > 0 {
		args = append(args, slog.Group("stages", stages...))
	}
	logger.Debug("trace", args...)
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
