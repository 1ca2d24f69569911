package logger

import (
	"context"
	"log/slog"
)

// contextKey is a private type to prevent collisions with other context keys.
type contextKey int

const (
	requestIDKey contextKey = iota
	treeIDKey
	roundKey
)

// WithRequestID returns a new context with the given request ID stored.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID extracts the request ID from the context.
// Returns an empty string if no request ID is set.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithDecision returns a context tagged with the decision tree and scoring round
// so every log line emitted while processing it can be correlated.
func WithDecision(ctx context.Context, treeID string, round int) context.Context {
	ctx = context.WithValue(ctx, treeIDKey, treeID)
	return context.WithValue(ctx, roundKey, round)
}

// TreeID extracts the decision tree ID from the context.
func TreeID(ctx context.Context) string {
	id, _ := ctx.Value(treeIDKey).(string)
	return id
}

// Round extracts the scoring round from the context; zero if unset.
func Round(ctx context.Context) int {
	r, _ := ctx.Value(roundKey).(int)
	return r
}

// correlationHandler copies context correlation values onto records.
type correlationHandler struct {
	inner slog.Handler
}

func (h *correlationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *correlationHandler) Handle(ctx context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	if id := RequestID(ctx); id != "" {
		rec.AddAttrs(slog.String("request_id", id))
	}
	if id := TreeID(ctx); id != "" {
		rec.AddAttrs(slog.String("tree_id", id), slog.Int("round", Round(ctx)))
	}
	return h.inner.Handle(ctx, rec)
}

func (h *correlationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &correlationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *correlationHandler) WithGroup(name string) slog.Handler {
	return &correlationHandler{inner: h.inner.WithGroup(name)}
}
