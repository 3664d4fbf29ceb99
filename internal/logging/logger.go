// Package logging configures the broker's slog output: a plain
// single-line handler with colored levels and key=value attributes.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// NewLogger builds a logger writing to stdout at the given minimum
// level. Unknown level names fall back to info.
func NewLogger(minLevel string) *slog.Logger {
	level, err := ParseLevel(minLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	return slog.New(NewPlainHandler(os.Stdout, level))
}

type PlainHandler struct {
	mu        *sync.Mutex
	w         io.Writer
	minLevel  slog.Leveler
	withAttrs []slog.Attr
}

func NewPlainHandler(w io.Writer, minLevel slog.Leveler) *PlainHandler {
	return &PlainHandler{
		mu:       &sync.Mutex{},
		w:        w,
		minLevel: minLevel,
	}
}

func (h *PlainHandler) Enabled(_ context.Context, lvl slog.Level) bool {
	if h.minLevel == nil {
		return true
	}
	return lvl >= h.minLevel.Level()
}

func (h *PlainHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder

	ts := r.Time.Format("2006-01-02 15:04:05.000")
	fmt.Fprintf(&b, "%s %s %s", ts, colorLevel(strings.ToUpper(r.Level.String())), r.Message)

	for _, a := range h.withAttrs {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value.Any())
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value.Any())
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *PlainHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.withAttrs = append(append([]slog.Attr{}, h.withAttrs...), attrs...)
	return &cp
}

func (h *PlainHandler) WithGroup(string) slog.Handler {
	return h
}

func colorLevel(level string) string {
	const reset = "\x1b[0m"

	switch level {
	case "DEBUG":
		return "\x1b[36m" + level + reset
	case "INFO":
		return "\x1b[32m" + level + reset
	case "WARN":
		return "\x1b[33m" + level + reset
	case "ERROR":
		return "\x1b[31m" + level + reset
	default:
		return level
	}
}

func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, errors.New("unknown log level")
	}
}
