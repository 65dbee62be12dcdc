// Copyright (C) 2026 PolycarpusTack
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package history implements the append-only, memory-bounded undo/redo
// log with batch grouping and inverse-change computation.
package history

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PolycarpusTack/canvasstate/pkg/state"
)

// Entry is one recorded, undoable state transition.
//
// Entries are never mutated after creation, with one exception: the
// optional snapshot may be dropped during compression. Forward and
// inverse changes are always retained, so undo/redo correctness is
// unaffected by compression.
type Entry struct {
	Action     *state.Action
	Forward    []state.Change
	Inverse    []state.Change
	Snapshot   state.Snapshot
	Timestamp  time.Time
	MemorySize int
}

// Config holds the history manager's bounds.
type Config struct {
	// MaxEntries caps the log length. Default: 1000.
	MaxEntries int

	// MaxMemoryMB caps the estimated memory of all retained entries.
	// Default: 100.
	MaxMemoryMB int

	// Logger receives eviction and batch warnings. Nil discards them.
	Logger *slog.Logger
}

// DefaultConfig returns the reference bounds.
func DefaultConfig() Config {
	return Config{
		MaxEntries:  1000,
		MaxMemoryMB: 100,
	}
}

// memoryTargetRatio is the fraction of the memory cap eviction shrinks
// to. The headroom avoids thrashing on repeated near-limit inserts.
const memoryTargetRatio = 0.8

// batchFrame tracks one open batch group on the batch stack.
type batchFrame struct {
	id          string
	description string
	snapshot    state.Snapshot
	forward     []state.Change
	count       int
}

// Manager owns the undo/redo log.
//
// # Description
//
// A single currentIndex pointer walks an ordered log of entries. New
// recordings truncate any "future" entries beyond the pointer (the
// standard undo-tree truncation), append, and advance. Oldest entries
// are evicted from the front under either bound.
//
// Batch grouping is coarse: while the batch stack is non-empty,
// individual recordings are folded into the open frame rather than
// logged. The batch-end entry carries the snapshot taken before the
// first batched action together with the concatenated forward changes,
// so a single undo restores the pre-batch state.
//
// The manager owns independent deep copies of snapshots and changes; it
// never aliases the live state.
//
// # Thread Safety
//
// Safe for concurrent use.
type Manager struct {
	mu          sync.Mutex
	cfg         Config
	log         []*Entry
	current     int // index of the last applied entry, -1 when none
	totalMemory int
	batchStack  []*batchFrame
	logger      *slog.Logger
}

// NewManager creates a history manager. Zero-value config fields fall
// back to defaults.
func NewManager(cfg Config) *Manager {
	defaults := DefaultConfig()
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = defaults.MaxEntries
	}
	if cfg.MaxMemoryMB <= 0 {
		cfg.MaxMemoryMB = defaults.MaxMemoryMB
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		cfg:     cfg,
		current: -1,
		logger:  logger,
	}
}

// Record logs a completed action together with its pre-state and
// resulting changes.
//
// # Description
//
// Undo/redo actions are never recorded (no history-of-history). Actions
// with no changes are ignored. While a batch is open, the recording is
// folded into the open frame instead of logged; only the batch-end
// marker becomes independently undoable.
func (m *Manager) Record(action *state.Action, before state.Snapshot, changes []state.Change) {
	if action == nil || action.Type.IsHistoryControl() || len(changes) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.batchStack) > 0 {
		frame := m.batchStack[len(m.batchStack)-1]
		if frame.snapshot == nil {
			frame.snapshot = before
		}
		frame.forward = append(frame.forward, changes...)
		frame.count++
		return
	}

	m.appendEntry(&Entry{
		Action:    action,
		Forward:   changes,
		Inverse:   state.InverseChanges(changes),
		Snapshot:  before,
		Timestamp: time.Now(),
	})
}

// appendEntry truncates the future, enforces both bounds, and appends.
// Caller holds the lock.
func (m *Manager) appendEntry(entry *Entry) {
	// Truncate redo branch on a new action after undo.
	if m.current < len(m.log)-1 {
		for _, dropped := range m.log[m.current+1:] {
			m.totalMemory -= dropped.MemorySize
		}
		m.log = m.log[:m.current+1]
	}

	entry.MemorySize = state.EstimateSize(entry.Snapshot) +
		state.EstimateSize(entry.Forward) +
		state.EstimateSize(entry.Inverse)

	maxBytes := m.cfg.MaxMemoryMB * 1024 * 1024
	if m.totalMemory+entry.MemorySize > maxBytes {
		target := int(float64(maxBytes) * memoryTargetRatio)
		m.evictOldestUntil(target - entry.MemorySize)
	}

	m.log = append(m.log, entry)
	m.current = len(m.log) - 1
	m.totalMemory += entry.MemorySize

	if len(m.log) > m.cfg.MaxEntries {
		evicted := m.log[0]
		m.log = m.log[1:]
		m.totalMemory -= evicted.MemorySize
		m.current--
		m.logger.Debug("history entry evicted by count bound",
			"action_type", evicted.Action.Type,
			"entries", len(m.log))
	}
}

// evictOldestUntil drops entries from the front until total memory is at
// or below target. Entries at or behind the current index move the index
// with them. Caller holds the lock.
func (m *Manager) evictOldestUntil(target int) {
	for len(m.log) > 0 && m.totalMemory > target {
		evicted := m.log[0]
		m.log = m.log[1:]
		m.totalMemory -= evicted.MemorySize
		if m.current >= 0 {
			m.current--
		}
		m.logger.Debug("history entry evicted by memory bound",
			"freed_bytes", evicted.MemorySize,
			"total_bytes", m.totalMemory)
	}
}

// CanUndo reports whether an entry is available behind the pointer.
func (m *Manager) CanUndo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current >= 0
}

// CanRedo reports whether an entry is available ahead of the pointer.
func (m *Manager) CanRedo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current < len(m.log)-1
}

// Undo steps the pointer back and returns a synthetic undo action
// carrying the stepped-over entry's inverse changes. Returns false when
// nothing can be undone.
func (m *Manager) Undo() (*state.Action, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current < 0 {
		return nil, false
	}
	entry := m.log[m.current]
	m.current--
	return state.NewUndoAction(entry.Action.Description, entry.Inverse), true
}

// Redo steps the pointer forward and returns a synthetic redo action
// carrying that entry's forward changes. Returns false when nothing can
// be redone.
func (m *Manager) Redo() (*state.Action, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current >= len(m.log)-1 {
		return nil, false
	}
	m.current++
	entry := m.log[m.current]
	return state.NewRedoAction(entry.Action.Description, entry.Forward), true
}

// StartBatch opens a batch group and returns its id. Batches nest; the
// innermost open batch receives fold-ins.
func (m *Manager) StartBatch(description string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	m.batchStack = append(m.batchStack, &batchFrame{id: id, description: description})
	return id
}

// EndBatch closes the batch group with the given id.
//
// # Description
//
// A mismatched id (not the top of the stack) is a warning, not a crash;
// the stack is left untouched. Closing a batch that folded at least one
// action records a single batch-marker entry with the pre-batch snapshot
// and the concatenated changes. Closing an empty batch records nothing.
func (m *Manager) EndBatch(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.batchStack) == 0 {
		m.logger.Warn("end_batch called with no open batch", "batch_id", id)
		return false
	}
	top := m.batchStack[len(m.batchStack)-1]
	if top.id != id {
		m.logger.Warn("end_batch id does not match top of stack",
			"batch_id", id, "open_batch_id", top.id)
		return false
	}
	m.batchStack = m.batchStack[:len(m.batchStack)-1]

	if top.count == 0 {
		return true
	}

	// A nested batch folds into its parent instead of logging.
	if len(m.batchStack) > 0 {
		parent := m.batchStack[len(m.batchStack)-1]
		if parent.snapshot == nil {
			parent.snapshot = top.snapshot
		}
		parent.forward = append(parent.forward, top.forward...)
		parent.count += top.count
		return true
	}

	description := top.description
	if description == "" {
		description = fmt.Sprintf("Batch of %d actions", top.count)
	}
	marker := state.NewBatchAction(top.id, description)
	marker.Metadata["batch_count"] = top.count
	m.appendEntry(&Entry{
		Action:    marker,
		Forward:   top.forward,
		Inverse:   state.InverseChanges(top.forward),
		Snapshot:  top.snapshot,
		Timestamp: time.Now(),
	})
	return true
}

// InBatch reports whether any batch group is open.
func (m *Manager) InBatch() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batchStack) > 0
}

// JumpTo replays undo or redo steps until the pointer sits at
// targetIndex, returning the synthetic actions in application order.
// Valid targets range from -1 (before the first entry) to the last
// index; anything else is rejected.
func (m *Manager) JumpTo(targetIndex int) ([]*state.Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if targetIndex < -1 || targetIndex > len(m.log)-1 {
		return nil, fmt.Errorf("history index %d out of range [-1, %d]", targetIndex, len(m.log)-1)
	}

	var applied []*state.Action
	for m.current > targetIndex {
		entry := m.log[m.current]
		m.current--
		applied = append(applied, state.NewUndoAction(entry.Action.Description, entry.Inverse))
	}
	for m.current < targetIndex {
		m.current++
		entry := m.log[m.current]
		applied = append(applied, state.NewRedoAction(entry.Action.Description, entry.Forward))
	}
	return applied, nil
}

// CurrentIndex returns the pointer position (-1 when nothing applied).
func (m *Manager) CurrentIndex() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Len returns the number of retained entries.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.log)
}

// Compress drops the optional snapshot from every entry older than the
// most recent keepRecent entries, recomputing memory totals. Undo and
// redo are unaffected because forward/inverse changes are retained.
func (m *Manager) Compress(keepRecent int) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if keepRecent < 0 {
		keepRecent = 0
	}
	cutoff := len(m.log) - keepRecent
	compressed := 0
	for i := 0; i < cutoff; i++ {
		entry := m.log[i]
		if entry.Snapshot == nil {
			continue
		}
		freed := state.EstimateSize(entry.Snapshot)
		entry.Snapshot = nil
		entry.MemorySize -= freed
		m.totalMemory -= freed
		compressed++
	}
	return compressed
}

// TimelineItem is one row of the paged, batch-aware history view.
type TimelineItem struct {
	Index       int    `json:"index"`
	Description string `json:"description"`
	ActionType  string `json:"action_type"`
	BatchID     string `json:"batch_id,omitempty"`
	// Count is the number of folded actions for a batch item, 1 otherwise.
	Count     int       `json:"count"`
	Timestamp time.Time `json:"timestamp"`
	IsCurrent bool      `json:"is_current"`
}

// Timeline produces a paged view for UI display. Consecutive entries
// sharing a non-empty batch id collapse into one item with their count.
func (m *Manager) Timeline(start, limit int) []TimelineItem {
	m.mu.Lock()
	defer m.mu.Unlock()

	if start < 0 {
		start = 0
	}
	var items []TimelineItem
	for i := start; i < len(m.log); i++ {
		if limit > 0 && len(items) >= limit {
			break
		}
		entry := m.log[i]
		item := TimelineItem{
			Index:       i,
			Description: entry.Action.Description,
			ActionType:  string(entry.Action.Type),
			BatchID:     entry.Action.BatchID,
			Count:       1,
			Timestamp:   entry.Timestamp,
			IsCurrent:   i == m.current,
		}
		if entry.Action.Type == state.ActionBatch {
			if n, ok := entry.Action.Metadata["batch_count"].(int); ok {
				item.Count = n
			}
		}
		if len(items) > 0 && item.BatchID != "" && items[len(items)-1].BatchID == item.BatchID {
			items[len(items)-1].Count++
			items[len(items)-1].IsCurrent = items[len(items)-1].IsCurrent || item.IsCurrent
			continue
		}
		items = append(items, item)
	}
	return items
}

// Stats describes the current log for debug export.
type Stats struct {
	Entries      int  `json:"entries"`
	CurrentIndex int  `json:"current_index"`
	MemoryBytes  int  `json:"memory_bytes"`
	OpenBatches  int  `json:"open_batches"`
	CanUndo      bool `json:"can_undo"`
	CanRedo      bool `json:"can_redo"`
}

// CollectStats returns a point-in-time view of the log.
func (m *Manager) CollectStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Entries:      len(m.log),
		CurrentIndex: m.current,
		MemoryBytes:  m.totalMemory,
		OpenBatches:  len(m.batchStack),
		CanUndo:      m.current >= 0,
		CanRedo:      m.current < len(m.log)-1,
	}
}

// Clear drops the whole log. Used when a new project is opened.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log = nil
	m.current = -1
	m.totalMemory = 0
	m.batchStack = nil
}
