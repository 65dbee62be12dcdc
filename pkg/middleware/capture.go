// Copyright (C) 2026 PolycarpusTack
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"context"
	"sync"

	"github.com/PolycarpusTack/canvasstate/pkg/history"
	"github.com/PolycarpusTack/canvasstate/pkg/state"
)

// HistoryCapture bridges the pipeline to the undo log. BeforeAction
// caches the pre-mutation snapshot keyed by action id; AfterAction
// hands the (action, before-state, changes) triple to the history
// manager, which applies its own skip rules (history-control traffic,
// open batches, empty diffs).
//
// # Thread Safety
//
// The pending map is mutex-guarded. The dispatch worker is the only
// writer in practice, but Clear may be called from other goroutines.
type HistoryCapture struct {
	history *history.Manager
	mu      sync.Mutex
	pending map[string]state.Snapshot
}

// NewHistoryCapture builds the middleware over a history manager.
func NewHistoryCapture(manager *history.Manager) *HistoryCapture {
	return &HistoryCapture{
		history: manager,
		pending: make(map[string]state.Snapshot),
	}
}

// Name implements Middleware.
func (h *HistoryCapture) Name() string { return "history_capture" }

// BeforeAction caches the pre-mutation snapshot for the action.
func (h *HistoryCapture) BeforeAction(_ context.Context, action *state.Action, snapshot state.Snapshot) Decision {
	if action.Type.IsHistoryControl() {
		return Proceed()
	}
	h.mu.Lock()
	h.pending[action.ID] = snapshot
	h.mu.Unlock()
	return Proceed()
}

// AfterAction records the action into the undo log. The cached
// before-state is always released, even when the manager skips the
// record, so cancelled-elsewhere or skipped actions cannot leak
// snapshots.
func (h *HistoryCapture) AfterAction(_ context.Context, action *state.Action, _ state.Snapshot, changes []state.Change) {
	h.mu.Lock()
	defer h.mu.Unlock()
	before, ok := h.pending[action.ID]
	if !ok {
		return
	}
	delete(h.pending, action.ID)
	h.history.Record(action, before, changes)
}

// Release drops the cached before-state for an action that was
// cancelled after BeforeAction ran. The dispatcher calls this instead
// of AfterAction for cancelled actions.
func (h *HistoryCapture) Release(actionID string) {
	h.mu.Lock()
	delete(h.pending, actionID)
	h.mu.Unlock()
}

// PendingCount reports cached before-states, for debug export.
func (h *HistoryCapture) PendingCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending)
}
