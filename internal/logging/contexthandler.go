package logging

import (
	"context"
	"log/slog"
)

// ContextProvider returns attributes evaluated at log time, such as the trace folder
// and cursor state of the open calibration session.
type ContextProvider func() []slog.Attr

// ContextHandler appends the provider's attributes to every record it handles.
// A key the record already carries is not added a second time.
type ContextHandler struct {
	inner slog.Handler
	attrs ContextProvider
}

// NewContextHandler wraps inner. A nil provider adds nothing.
func NewContextHandler(inner slog.Handler, attrs ContextProvider) *ContextHandler {
	return &ContextHandler{inner: inner, attrs: attrs}
}

func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.attrs == nil {
		return h.inner.Handle(ctx, r)
	}
	seen := make(map[string]struct{}, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		seen[a.Key] = struct{}{}
		return true
	})
	for _, a := range h.attrs() {
		if _, dup := seen[a.Key]; !dup {
			r.AddAttrs(a)
		}
	}
	return h.inner.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.wrap(h.inner.WithAttrs(attrs))
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return h.wrap(h.inner.WithGroup(name))
}

func (h *ContextHandler) wrap(inner slog.Handler) *ContextHandler {
	return &ContextHandler{inner: inner, attrs: h.attrs}
}
