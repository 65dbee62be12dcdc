// Copyright (C) 2026 PolycarpusTack
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for canvasstate components.
//
// The package is a thin layer over Go's standard slog:
//
//   - Default: stderr output. Format is chosen automatically — text when
//     stderr is a terminal, JSON otherwise — unless forced via Config.
//   - Optional: file logging with automatic directory creation (file
//     output is always JSON).
//   - Testing: CaptureHandler records entries in memory so tests can
//     assert on what was logged.
//
// Every engine component takes a plain *slog.Logger, so call sites stay
// on the standard API:
//
//	logger := logging.New(logging.Config{Level: slog.LevelDebug, Component: "store"})
//	logger.Info("action dispatched", "action_type", actionType)
//
// # Thread Safety
//
// Returned loggers and all handlers in this package are safe for
// concurrent use.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// =============================================================================
// Construction
// =============================================================================

// Config configures logger construction. The zero value logs Info and
// above to stderr in an automatically chosen format.
type Config struct {
	// Level is the minimum level; entries below it are discarded.
	Level slog.Level

	// Component is attached to every entry as the "component" attribute
	// (e.g. "store", "history", "autosave").
	Component string

	// LogDir enables JSON file logging alongside stderr. The file is
	// named {Component}_{YYYY-MM-DD}.log. Empty disables file logging.
	LogDir string

	// ForceJSON forces JSON on stderr even when it is a terminal.
	ForceJSON bool

	// Quiet disables stderr output, leaving file output only.
	Quiet bool
}

// New builds a *slog.Logger from config.
//
// File-open failures never fail construction; the logger silently falls
// back to stderr only. The engine must not refuse to start over a log
// file.
func New(cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level}

	var handlers []slog.Handler
	if !cfg.Quiet {
		if cfg.ForceJSON || !isatty.IsTerminal(os.Stderr.Fd()) {
			handlers = append(handlers, slog.NewJSONHandler(os.Stderr, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(os.Stderr, opts))
		}
	}
	if cfg.LogDir != "" {
		if file := openLogFile(cfg.LogDir, cfg.Component); file != nil {
			handlers = append(handlers, slog.NewJSONHandler(file, opts))
		}
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = slog.DiscardHandler
	case 1:
		handler = handlers[0]
	default:
		handler = NewMultiHandler(handlers...)
	}

	logger := slog.New(handler)
	if cfg.Component != "" {
		logger = logger.With(slog.String("component", cfg.Component))
	}
	return logger
}

// Discard returns a logger that drops everything. Used as the default
// for optional logger fields.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func openLogFile(dir, component string) *os.File {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil
	}
	if component == "" {
		component = "canvasstate"
	}
	name := fmt.Sprintf("%s_%s.log", component, time.Now().Format("2006-01-02"))
	file, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil
	}
	return file
}

// =============================================================================
// MultiHandler
// =============================================================================

// MultiHandler fans out records to several slog handlers, enabling
// simultaneous stderr and file output with different formats.
type MultiHandler struct {
	handlers []slog.Handler
}

// NewMultiHandler combines handlers into one.
func NewMultiHandler(handlers ...slog.Handler) *MultiHandler {
	return &MultiHandler{handlers: handlers}
}

// Enabled reports true if any wrapped handler is enabled for level.
func (h *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle forwards the record to every enabled handler. The first
// handler error stops the fan-out and is returned.
func (h *MultiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

// WithAttrs distributes the attrs to every wrapped handler.
func (h *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	wrapped := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		wrapped[i] = handler.WithAttrs(attrs)
	}
	return &MultiHandler{handlers: wrapped}
}

// WithGroup distributes the group to every wrapped handler.
func (h *MultiHandler) WithGroup(name string) slog.Handler {
	wrapped := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		wrapped[i] = handler.WithGroup(name)
	}
	return &MultiHandler{handlers: wrapped}
}

// =============================================================================
// CaptureHandler (test support)
// =============================================================================

// Entry is one captured log record.
type Entry struct {
	Time    time.Time
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// CaptureHandler records entries in memory for test assertions.
//
//	capture := logging.NewCaptureHandler(slog.LevelDebug)
//	logger := slog.New(capture)
//	...
//	require.True(t, capture.Has(slog.LevelWarn, "action cancelled"))
type CaptureHandler struct {
	mu      sync.Mutex
	level   slog.Level
	entries []Entry
}

// NewCaptureHandler creates a capture handler with a minimum level.
func NewCaptureHandler(level slog.Level) *CaptureHandler {
	return &CaptureHandler{level: level}
}

// Enabled implements slog.Handler.
func (h *CaptureHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

// Handle implements slog.Handler.
func (h *CaptureHandler) Handle(_ context.Context, r slog.Record) error {
	h.append(nil, r)
	return nil
}

// WithAttrs implements slog.Handler. The derived handler writes into
// the same buffer, so tests observe logs from child loggers too.
func (h *CaptureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &captureChild{parent: h, attrs: attrs}
}

// WithGroup implements slog.Handler. Groups are flattened, which is
// sufficient for assertions.
func (h *CaptureHandler) WithGroup(string) slog.Handler { return h }

// Entries returns a copy of everything captured so far.
func (h *CaptureHandler) Entries() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Entry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Has reports whether any captured entry matches level and message.
func (h *CaptureHandler) Has(level slog.Level, message string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range h.entries {
		if e.Level == level && e.Message == message {
			return true
		}
	}
	return false
}

// Count returns how many entries were captured at the given level.
func (h *CaptureHandler) Count(level slog.Level) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.entries {
		if e.Level == level {
			n++
		}
	}
	return n
}

// Reset drops all captured entries.
func (h *CaptureHandler) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = nil
}

func (h *CaptureHandler) append(base []slog.Attr, r slog.Record) {
	entry := Entry{
		Time:    r.Time,
		Level:   r.Level,
		Message: r.Message,
		Attrs:   make(map[string]any, len(base)+r.NumAttrs()),
	}
	for _, attr := range base {
		entry.Attrs[attr.Key] = attr.Value.Any()
	}
	r.Attrs(func(attr slog.Attr) bool {
		entry.Attrs[attr.Key] = attr.Value.Any()
		return true
	})
	h.mu.Lock()
	h.entries = append(h.entries, entry)
	h.mu.Unlock()
}

// captureChild carries attrs from WithAttrs while writing into the
// parent's buffer.
type captureChild struct {
	parent *CaptureHandler
	attrs  []slog.Attr
}

func (c *captureChild) Enabled(ctx context.Context, level slog.Level) bool {
	return c.parent.Enabled(ctx, level)
}

func (c *captureChild) Handle(_ context.Context, r slog.Record) error {
	c.parent.append(c.attrs, r)
	return nil
}

func (c *captureChild) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(c.attrs)+len(attrs))
	merged = append(merged, c.attrs...)
	merged = append(merged, attrs...)
	return &captureChild{parent: c.parent, attrs: merged}
}

func (c *captureChild) WithGroup(string) slog.Handler { return c }
