package tui

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

type logMsg struct {
	summary string
	level   slog.Level
}

// LogHandler routes records into the dashboard's status line while the
// program owns the terminal. Records are dropped when the bus is full.
type LogHandler struct {
	bus   *Bus
	level slog.Level
	attrs []slog.Attr
}

func NewLogHandler(bus *Bus, level slog.Level) *LogHandler {
	return &LogHandler{bus: bus, level: level}
}

func (h *LogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

// Handle formats the record as "message (key=value, ...)".
func (h *LogHandler) Handle(_ context.Context, record slog.Record) error {
	parts := make([]string, 0, len(h.attrs)+record.NumAttrs())
	for _, attr := range h.attrs {
		parts = append(parts, fmt.Sprintf("%s=%s", attr.Key, attr.Value))
	}
	record.Attrs(func(attr slog.Attr) bool {
		parts = append(parts, fmt.Sprintf("%s=%s", attr.Key, attr.Value))
		return true
	})
	summary := record.Message
	if len(parts) > 0 {
		summary += " (" + strings.Join(parts, ", ") + ")"
	}
	h.bus.send(logMsg{summary: summary, level: record.Level})
	return nil
}

func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &clone
}

// WithGroup is flat: the status line has no room for nesting.
func (h *LogHandler) WithGroup(string) slog.Handler {
	return h
}

// FanoutHandler sends each record to every handler that accepts its level.
type FanoutHandler []slog.Handler

func (hs FanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range hs {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (hs FanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, h := range hs {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (hs FanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(FanoutHandler, len(hs))
	for i, h := range hs {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (hs FanoutHandler) WithGroup(name string) slog.Handler {
	out := make(FanoutHandler, len(hs))
	for i, h := range hs {
		out[i] = h.WithGroup(name)
	}
	return out
}
