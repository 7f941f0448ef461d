package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Closer flushes buffered records. Callers defer it right after New.
type Closer interface {
	Close()
}

// nopCloser is a no-op Closer for synchronous mode.
type nopCloser struct{}

func (nopCloser) Close() {}

// AsyncHandler hands records to a few writer goroutines through a bounded
// buffer. When the buffer is full the record is dropped and counted, so a
// slow sink never stalls a reconciliation pass.
type AsyncHandler struct {
	inner slog.Handler
	*queue
}

// entry is a record together with the handler, attributes and groups
// included, that writes it.
type entry struct {
	to  slog.Handler
	rec slog.Record
}

// queue is the buffer shared by a handler and everything derived from it.
type queue struct {
	records chan entry
	writers sync.WaitGroup
	dropped atomic.Int64
	closed  sync.Once
}

// NewAsyncHandler starts workers goroutines writing to inner from a buffer
// of size records.
func NewAsyncHandler(inner slog.Handler, size, workers int) *AsyncHandler {
	q := &queue{records: make(chan entry, size)}
	for range workers {
		q.writers.Add(1)
		go func() {
			defer q.writers.Done()
			for e := range q.records {
				_ = e.to.Handle(context.Background(), e.rec)
			}
		}()
	}
	return &AsyncHandler{inner: inner, queue: q}
}

func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues rec, or drops it when the buffer is full.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	select {
	case h.records <- entry{to: h.inner, rec: rec}:
	default:
		h.dropped.Add(1)
	}
	return nil
}

func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), queue: h.queue}
}

func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), queue: h.queue}
}

// DroppedCount returns the number of records lost to a full buffer.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.dropped.Load()
}

// Close stops accepting records, waits until the buffer is written and
// then logs how many records were dropped, if any. It is idempotent.
func (h *AsyncHandler) Close() {
	h.closed.Do(func() {
		close(h.records)
		h.writers.Wait()
		if n := h.dropped.Load(); n > 0 {
			rec := slog.NewRecord(time.Now(), slog.LevelWarn, "log records dropped", 0)
			rec.AddAttrs(slog.Int64("dropped", n))
			_ = h.inner.Handle(context.Background(), rec)
		}
	})
}
