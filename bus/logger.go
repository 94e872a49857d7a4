package bus

import (
	"context"
	"log/slog"
	"time"

	"github.com/feedeater/feedeater/wire"
)

// LogHandler is a slog.Handler middleware that mirrors every record onto the
// feedeater.worker.log subject as a structured LogEvent, then delegates to
// the wrapped handler. Publish failures are swallowed: logging must never
// take the worker down.
type LogHandler struct {
	next  slog.Handler
	pub   Publisher
	codec wire.Codec
	attrs []slog.Attr
}

// NewLogHandler wraps next with bus mirroring through pub.
func NewLogHandler(next slog.Handler, pub Publisher) *LogHandler {
	return &LogHandler{next: next, pub: pub}
}

func (h *LogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *LogHandler) Handle(ctx context.Context, r slog.Record) error {
	meta := make(map[string]any, r.NumAttrs()+len(h.attrs))
	for _, a := range h.attrs {
		meta[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		meta[a.Key] = a.Value.Any()
		return true
	})
	if len(meta) == 0 {
		meta = nil
	}

	ev := wire.LogEvent{
		Level:   levelName(r.Level),
		Module:  "worker",
		Source:  "process",
		At:      r.Time.UTC(),
		Message: r.Message,
		Meta:    meta,
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	if data, err := h.codec.Marshal(ev); err == nil {
		_ = h.pub.Publish(context.WithoutCancel(ctx), SubjectWorkerLog, data)
	}

	return h.next.Handle(ctx, r)
}

func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &LogHandler{next: h.next.WithAttrs(attrs), pub: h.pub, attrs: merged}
}

func (h *LogHandler) WithGroup(name string) slog.Handler {
	return &LogHandler{next: h.next.WithGroup(name), pub: h.pub, attrs: h.attrs}
}

func levelName(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "error"
	case l >= slog.LevelWarn:
		return "warn"
	case l >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}
