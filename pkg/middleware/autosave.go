// Copyright (C) 2026 PolycarpusTack
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PolycarpusTack/canvasstate/pkg/state"
)

// SaveFunc performs one persistence write of the current state.
type SaveFunc func(ctx context.Context) error

// AutosaveConfig configures the Autosave middleware.
type AutosaveConfig struct {
	// Interval triggers a save when unsaved changes have been sitting
	// this long without a significant action.
	Interval time.Duration

	// Significant lists the action types that trigger an immediate
	// save. Nil uses the reference set: component add/update/delete,
	// project create/save.
	Significant map[state.ActionType]bool

	Logger *slog.Logger
}

// DefaultAutosaveConfig returns the reference settings: 300s interval,
// the standard significant set.
func DefaultAutosaveConfig() AutosaveConfig {
	return AutosaveConfig{
		Interval: 300 * time.Second,
		Significant: map[state.ActionType]bool{
			state.ActionAddComponent:    true,
			state.ActionUpdateComponent: true,
			state.ActionDeleteComponent: true,
			state.ActionCreateProject:   true,
			state.ActionSaveProject:     true,
		},
	}
}

// Autosave persists state after significant actions and on a fallback
// interval while unsaved changes exist. At most one save is ever in
// flight; a pending flag guards re-entrancy. The interval timer is
// reset on every save, so there is never a stale sleeping task waiting
// to re-save state that was just written.
//
// # Thread Safety
//
// Safe for concurrent use. The timer goroutine and the dispatch worker
// coordinate through the pending flag and the dirty callback.
type Autosave struct {
	cfg   AutosaveConfig
	save  SaveFunc
	dirty func() bool

	pending atomic.Bool
	saves   atomic.Int64

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// NewAutosave builds and starts the middleware.
//
// # Inputs
//
//	save - Performs one persistence write. Must not be nil.
//	dirty - Reports whether unsaved changes exist. Must not be nil.
//	cfg - Settings; zero-value fields fall back to the defaults.
func NewAutosave(save SaveFunc, dirty func() bool, cfg AutosaveConfig) *Autosave {
	def := DefaultAutosaveConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Significant == nil {
		cfg.Significant = def.Significant
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	a := &Autosave{cfg: cfg, save: save, dirty: dirty}
	a.timer = time.AfterFunc(cfg.Interval, a.onInterval)
	return a
}

// Name implements Middleware.
func (a *Autosave) Name() string { return "autosave" }

// BeforeAction implements Middleware. Autosave reacts after mutation.
func (a *Autosave) BeforeAction(context.Context, *state.Action, state.Snapshot) Decision {
	return Proceed()
}

// AfterAction triggers a save for significant actions.
func (a *Autosave) AfterAction(ctx context.Context, action *state.Action, _ state.Snapshot, changes []state.Change) {
	if !a.cfg.Significant[action.Type] || len(changes) == 0 {
		return
	}
	a.trigger(context.WithoutCancel(ctx))
}

// Stop halts the interval timer. In-flight saves complete; future
// triggers become no-ops.
func (a *Autosave) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
	a.timer.Stop()
}

// SaveCount reports completed saves, for debug export and tests.
func (a *Autosave) SaveCount() int64 {
	return a.saves.Load()
}

// Pending reports whether a save is currently in flight.
func (a *Autosave) Pending() bool {
	return a.pending.Load()
}

func (a *Autosave) onInterval() {
	if a.dirty() {
		a.trigger(context.Background())
	} else {
		a.resetTimer()
	}
}

// trigger starts an async save unless one is already in flight.
func (a *Autosave) trigger(ctx context.Context) {
	a.mu.Lock()
	stopped := a.stopped
	a.mu.Unlock()
	if stopped {
		return
	}
	if !a.pending.CompareAndSwap(false, true) {
		return
	}

	go func() {
		defer a.pending.Store(false)
		if err := a.save(ctx); err != nil {
			a.cfg.Logger.Error("autosave failed", slog.String("error", err.Error()))
		} else {
			a.saves.Add(1)
			a.cfg.Logger.Debug("autosave completed")
		}
		a.resetTimer()
	}()
}

func (a *Autosave) resetTimer() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}
	a.timer.Reset(a.cfg.Interval)
}
