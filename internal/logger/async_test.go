package logger

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// sink collects records; derived handlers share the parent's slice.
type sink struct {
	mu    *sync.Mutex
	recs  *[]slog.Record
	attrs []slog.Attr
	delay time.Duration
}

func newSink(delay time.Duration) *sink {
	return &sink{mu: &sync.Mutex{}, recs: &[]slog.Record{}, delay: delay}
}

func (s *sink) Enabled(context.Context, slog.Level) bool { return true }

func (s *sink) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	rec = rec.Clone()
	rec.AddAttrs(s.attrs...)
	s.mu.Lock()
	*s.recs = append(*s.recs, rec)
	s.mu.Unlock()
	return nil
}

func (s *sink) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *s
	c.attrs = append(append([]slog.Attr(nil), s.attrs...), attrs...)
	return &c
}

func (s *sink) WithGroup(string) slog.Handler { return s }

func (s *sink) records() []slog.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]slog.Record(nil), *s.recs...)
}

func emit(h slog.Handler, level slog.Level, msg string, n int) {
	for range n {
		_ = h.Handle(context.Background(), slog.NewRecord(time.Now(), level, msg, 0))
	}
}

func TestAsyncHandlerDeliversAllOnClose(t *testing.T) {
	tests := []struct {
		name      string
		buffer    int
		workers   int
		producers int
		each      int
	}{
		{"single record", 8, 1, 1, 1},
		{"buffered flush", 1000, 2, 1, 200},
		{"concurrent producers", 10000, 4, 50, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSink(0)
			h := NewAsyncHandler(s, tt.buffer, tt.workers)

			var wg sync.WaitGroup
			for range tt.producers {
				wg.Go(func() { emit(h, slog.LevelInfo, "score recorded", tt.each) })
			}
			wg.Wait()
			h.Close()

			if got, want := len(s.records()), tt.producers*tt.each; got != want {
				t.Fatalf("delivered %d records, want %d", got, want)
			}
			if d := h.DroppedCount(); d != 0 {
				t.Errorf("dropped %d records", d)
			}
		})
	}
}

func TestAsyncHandlerDropsWhenFull(t *testing.T) {
	s := newSink(10 * time.Millisecond)
	h := NewAsyncHandler(s, 1, 1)

	emit(h, slog.LevelInfo, "round started", 50)
	h.Close()

	dropped := h.DroppedCount()
	if dropped == 0 {
		t.Fatal("expected dropped records with a full buffer")
	}
	if got := int64(len(s.records())) + dropped; got != 50 {
		t.Errorf("delivered + dropped = %d, want 50", got)
	}
}

func TestAsyncHandlerNeverDropsErrors(t *testing.T) {
	s := newSink(10 * time.Millisecond)
	h := NewAsyncHandler(s, 1, 1)

	emit(h, slog.LevelError, "persist decision", 20)
	h.Close()

	if d := h.DroppedCount(); d != 0 {
		t.Fatalf("dropped %d error records", d)
	}
	if got := len(s.records()); got != 20 {
		t.Fatalf("delivered %d records, want 20", got)
	}
}

func TestAsyncHandlerDerivedSharesQueue(t *testing.T) {
	s := newSink(0)
	h := NewAsyncHandler(s, 16, 1)
	scoped := h.WithAttrs([]slog.Attr{slog.String("tree_id", "tree-1")})

	emit(scoped, slog.LevelInfo, "round decided", 1)
	h.Close()

	recs := s.records()
	if len(recs) != 1 {
		t.Fatalf("delivered %d records, want 1", len(recs))
	}
	var treeID string
	recs[0].Attrs(func(a slog.Attr) bool {
		if a.Key == "tree_id" {
			treeID = a.Value.String()
		}
		return true
	})
	if treeID != "tree-1" {
		t.Errorf("tree_id = %q, want tree-1", treeID)
	}
}

func TestAsyncHandlerCloseTwice(t *testing.T) {
	h := NewAsyncHandler(newSink(0), 4, 1)
	h.Close()
	h.Close()
}
