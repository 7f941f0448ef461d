package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

// recordingHandler collects records, optionally slowly.
type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
	delay   time.Duration
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	time.Sleep(h.delay)
	h.mu.Lock()
	h.records = append(h.records, rec)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func (h *recordingHandler) messages() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.records))
	for i, r := range h.records {
		out[i] = r.Message
	}
	return out
}

func record(msg string) slog.Record {
	return slog.NewRecord(time.Now(), slog.LevelInfo, msg, 0)
}

func TestAsyncHandlerWritesEverythingBeforeClose(t *testing.T) {
	inner := &recordingHandler{}
	ah := NewAsyncHandler(inner, 20000, 4)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 200 {
				_ = ah.Handle(context.Background(), record("issue created"))
			}
		}()
	}
	wg.Wait()
	ah.Close()

	if got := len(inner.messages()); got != 10000 {
		t.Fatalf("expected 10000 records, got %d", got)
	}
	if ah.DroppedCount() != 0 {
		t.Fatalf("nothing should drop with room in the buffer, dropped %d", ah.DroppedCount())
	}
}

func TestAsyncHandlerDropsAndReports(t *testing.T) {
	inner := &recordingHandler{delay: 5 * time.Millisecond}
	ah := NewAsyncHandler(inner, 1, 1)
	for range 30 {
		_ = ah.Handle(context.Background(), record("flood"))
	}
	ah.Close()
	ah.Close()

	if ah.DroppedCount() == 0 {
		t.Fatal("expected drops with a one-record buffer")
	}
	msgs := inner.messages()
	if msgs[len(msgs)-1] != "log records dropped" {
		t.Fatalf("expected the drop report last, got %q", msgs[len(msgs)-1])
	}
	if strings.Count(strings.Join(msgs, "\n"), "log records dropped") != 1 {
		t.Fatal("a second Close must not report again")
	}
}

func TestAsyncHandlerKeepsDerivedAttributes(t *testing.T) {
	var buf bytes.Buffer
	ah := NewAsyncHandler(slog.NewJSONHandler(&buf, nil), 16, 1)

	slog.New(ah).With("service", "ledgersync").WithGroup("pass").Info("done", "created", 2)
	ah.Close()

	var entry struct {
		Service string `json:"service"`
		Pass    struct {
			Created int `json:"created"`
		} `json:"pass"`
	}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if entry.Service != "ledgersync" || entry.Pass.Created != 2 {
		t.Fatalf("derived attributes lost: %s", buf.String())
	}
}
