// Copyright (C) 2026 PolycarpusTack
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadHandler receives the freshly loaded configuration after a
// config file change.
type ReloadHandler func(cfg EngineConfig)

// WatcherOptions configures the config Watcher.
type WatcherOptions struct {
	// DebounceWindow is how long to wait for more writes before
	// reloading. Editors often write a file several times in quick
	// succession. Default: 200ms.
	DebounceWindow time.Duration

	Logger *slog.Logger
}

// Watcher reloads the engine configuration when its file changes.
//
// # Description
//
// The parent directory is watched rather than the file itself, because
// atomic-save editors replace the file (rename over it), which would
// silently detach a direct file watch. Writes are debounced; only a
// reload that parses and validates cleanly reaches the handler, so a
// half-saved file never produces a broken config.
//
// # Thread Safety
//
// Safe for concurrent use. The handler is called from a single
// goroutine.
type Watcher struct {
	path     string
	handler  ReloadHandler
	debounce time.Duration
	logger   *slog.Logger

	watcher  *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once

	mu       sync.RWMutex
	watching bool
	reloads  int
}

// NewWatcher creates a watcher for the given config file.
//
// # Inputs
//
//	path - Config file to watch. The file may not exist yet.
//	handler - Called with each successfully reloaded config.
//	opts - Optional settings (nil uses defaults).
func NewWatcher(path string, handler ReloadHandler, opts *WatcherOptions) (*Watcher, error) {
	options := WatcherOptions{DebounceWindow: 200 * time.Millisecond}
	if opts != nil {
		if opts.DebounceWindow > 0 {
			options.DebounceWindow = opts.DebounceWindow
		}
		options.Logger = opts.Logger
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		path:     filepath.Clean(path),
		handler:  handler,
		debounce: options.DebounceWindow,
		logger:   options.Logger,
		watcher:  fsw,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. Stops when the context is cancelled or Stop is
// called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return nil
	}
	w.watching = true
	w.mu.Unlock()

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	go w.loop(ctx)
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()

		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
}

// IsWatching reports whether the watcher is active.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.watching
}

// ReloadCount reports successful reloads, for tests and debug export.
func (w *Watcher) ReloadCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.reloads
}

func (w *Watcher) loop(ctx context.Context) {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", slog.String("error", err.Error()))
		case <-timerC:
			timer = nil
			timerC = nil
			w.reload()
		}
	}
}

// reload parses and validates the file; only a clean result reaches the
// handler.
func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config reload rejected",
			slog.String("path", w.path),
			slog.String("error", err.Error()))
		return
	}
	w.mu.Lock()
	w.reloads++
	w.mu.Unlock()
	w.logger.Info("config reloaded", slog.String("path", w.path))
	if w.handler != nil {
		w.handler(cfg)
	}
}
