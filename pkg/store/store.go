// Copyright (C) 2026 PolycarpusTack
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store implements the state store and its dispatch pipeline.
//
// The store is the single authority turning (current state, action)
// into (next state, change list). Dispatch is fire-and-forget: the
// caller gets synchronous structural validation, then the action is
// queued and a single worker goroutine processes it end to end —
// middleware before-hooks, typed reducer, structural diff, snapshot
// publication, subscriber fan-out, middleware after-hooks. No two
// actions are ever applied concurrently.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use. Reads (GetState,
// Snapshot) see the last published snapshot, which is immutable once
// published.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/PolycarpusTack/canvasstate/pkg/history"
	"github.com/PolycarpusTack/canvasstate/pkg/middleware"
	"github.com/PolycarpusTack/canvasstate/pkg/persistence"
	"github.com/PolycarpusTack/canvasstate/pkg/state"
)

// DefaultQueueSize bounds the dispatch queue. A full queue rejects
// dispatches instead of blocking the caller.
const DefaultQueueSize = 1024

// DefaultSaveKey is the persistence key for autosaves and the
// Close-time final save.
const DefaultSaveKey = "autosave"

// ErrStoreClosed is returned by Dispatch after Close has begun.
var ErrStoreClosed = errors.New("store: closed")

// ErrQueueFull is returned by Dispatch when the bounded queue is at
// capacity.
var ErrQueueFull = errors.New("store: dispatch queue is full")

// Config configures a Store.
type Config struct {
	// QueueSize bounds the dispatch queue. Default: DefaultQueueSize.
	QueueSize int

	// History configures the undo/redo log.
	History history.Config

	// Backend enables autosave and the Close-time final save. Nil
	// disables persistence.
	Backend persistence.Backend

	// SaveKey is the persistence key for state saves.
	// Default: DefaultSaveKey.
	SaveKey string

	// InitialState rehydrates the store from a previously saved (and
	// already migrated) snapshot instead of the default empty state.
	InitialState state.Snapshot

	// Security, Budget, and Autosave configure their middlewares.
	Security middleware.SecurityConfig
	Budget   middleware.BudgetConfig
	Autosave middleware.AutosaveConfig

	// DisableIntegrity turns off the post-mutation invariant audit.
	DisableIntegrity bool

	// ExtraMiddlewares are appended to the reference pipeline, after
	// autosave.
	ExtraMiddlewares []middleware.Middleware

	Logger *slog.Logger
}

// Store owns the application state and the dispatch pipeline.
type Store struct {
	cfg    Config
	logger *slog.Logger

	// app is the typed working state, touched only by the worker.
	app *state.AppState
	// current is the published immutable snapshot. Guarded by mu;
	// replaced wholesale on publish, never mutated in place.
	mu      sync.RWMutex
	current state.Snapshot

	queue chan *state.Action
	done  chan struct{}
	// inFlight is 1 while the worker is inside processAction, covering
	// the gap between dequeue and the capture middleware's bookkeeping.
	inFlight atomic.Int64

	historyMgr  *history.Manager
	chain       *middleware.Chain
	capture     *middleware.HistoryCapture
	measure     *middleware.Measure
	integrity   *middleware.Integrity
	autosave    *middleware.Autosave
	subscribers *subscriberRegistry

	// closeMu serializes Dispatch sends against Close. Dispatchers hold
	// the read side across the closing check and the enqueue, so once
	// Close holds the write side no send can follow the queue close.
	closeMu sync.RWMutex
	closing chan struct{}
}

// New builds and starts a store with the reference middleware pipeline.
func New(cfg Config) (*Store, error) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.SaveKey == "" {
		cfg.SaveKey = DefaultSaveKey
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var app *state.AppState
	var err error
	if cfg.InitialState != nil {
		app, err = state.FromSnapshot(cfg.InitialState)
		if err != nil {
			return nil, fmt.Errorf("restore initial state: %w", err)
		}
	} else {
		app = state.NewAppState()
	}
	snapshot, err := app.TakeSnapshot()
	if err != nil {
		return nil, fmt.Errorf("initial snapshot: %w", err)
	}

	s := &Store{
		cfg:         cfg,
		logger:      logger,
		app:         app,
		current:     snapshot,
		queue:       make(chan *state.Action, cfg.QueueSize),
		done:        make(chan struct{}),
		closing:     make(chan struct{}),
		subscribers: newSubscriberRegistry(logger),
	}

	historyCfg := cfg.History
	if historyCfg.Logger == nil {
		historyCfg.Logger = logger
	}
	s.historyMgr = history.NewManager(historyCfg)
	s.capture = middleware.NewHistoryCapture(s.historyMgr)
	budget := middleware.NewBudget(cfg.Budget)
	s.measure = middleware.NewMeasure(budget, logger)

	stages := []middleware.Middleware{
		middleware.NewSecurity(cfg.Security),
		budget,
		middleware.NewValidation(logger),
		s.capture,
		middleware.NewAudit(logger),
		s.measure,
	}
	if !cfg.DisableIntegrity {
		s.integrity = middleware.NewIntegrity(logger)
		stages = append(stages, s.integrity)
	}
	if cfg.Backend != nil {
		s.autosave = middleware.NewAutosave(s.saveState, s.hasUnsavedChanges, cfg.Autosave)
		stages = append(stages, s.autosave)
	}
	stages = append(stages, cfg.ExtraMiddlewares...)
	s.chain = middleware.NewChain(logger, stages...)

	go s.worker()
	return s, nil
}

// Dispatch validates the action structurally and enqueues it. The call
// returns before the action is applied; cancellations and reducer
// failures are observable through logs and metrics only.
func (s *Store) Dispatch(action *state.Action) error {
	if err := action.Validate(); err != nil {
		return err
	}
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	select {
	case <-s.closing:
		return ErrStoreClosed
	default:
	}
	select {
	case s.queue <- action:
		queueDepth.Set(float64(len(s.queue)))
		return nil
	default:
		return ErrQueueFull
	}
}

// GetState navigates the current published snapshot by dot-path. A
// missing path yields (nil, nil); only a malformed path is an error.
// The empty path returns the whole snapshot.
func (s *Store) GetState(path string) (any, error) {
	if err := state.ValidateReadPath(path); err != nil {
		return nil, err
	}
	value, ok := state.GetAtPath(s.Snapshot(), path)
	if !ok {
		return nil, nil
	}
	return value, nil
}

// Snapshot returns the current published snapshot. The document is
// immutable once published; callers must not mutate it.
func (s *Store) Snapshot() state.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Subscribe registers a callback for changes at path or any of its
// descendants. The returned function removes the subscription.
func (s *Store) Subscribe(path string, callback SubscriberFunc, opts ...SubscribeOption) (func(), error) {
	return s.subscribers.subscribe(path, callback, opts...)
}

// CanUndo reports whether an undo step is available.
func (s *Store) CanUndo() bool { return s.historyMgr.CanUndo() }

// CanRedo reports whether a redo step is available.
func (s *Store) CanRedo() bool { return s.historyMgr.CanRedo() }

// Undo dispatches the inverse of the most recent history entry.
// Returns false when there is nothing to undo.
func (s *Store) Undo() bool {
	action, ok := s.historyMgr.Undo()
	if !ok {
		return false
	}
	if err := s.Dispatch(action); err != nil {
		// The step never reached the queue; move the pointer back so
		// history and state stay aligned.
		s.historyMgr.Redo()
		s.logger.Error("undo dispatch failed", slog.String("error", err.Error()))
		return false
	}
	return true
}

// Redo dispatches the forward changes of the next history entry.
func (s *Store) Redo() bool {
	action, ok := s.historyMgr.Redo()
	if !ok {
		return false
	}
	if err := s.Dispatch(action); err != nil {
		s.historyMgr.Undo()
		s.logger.Error("redo dispatch failed", slog.String("error", err.Error()))
		return false
	}
	return true
}

// JumpToHistoryPoint walks the undo log to targetIndex, dispatching
// the synthetic undo or redo action for every step crossed. Returns
// the number of steps dispatched, or an error for an out-of-range
// target.
func (s *Store) JumpToHistoryPoint(targetIndex int) (int, error) {
	actions, err := s.historyMgr.JumpTo(targetIndex)
	if err != nil {
		return 0, err
	}
	for i, action := range actions {
		if err := s.Dispatch(action); err != nil {
			return i, fmt.Errorf("history jump at step %d: %w", i, err)
		}
	}
	return len(actions), nil
}

// StartBatch opens a batch group; subsequent actions fold into a
// single undoable unit until EndBatch.
func (s *Store) StartBatch(description string) string {
	return s.historyMgr.StartBatch(description)
}

// batchDrainTimeout bounds how long EndBatch waits for the batched
// actions to clear the pipeline.
const batchDrainTimeout = 5 * time.Second

// EndBatch closes the batch group opened under id.
//
// The batch entry folds in each batched action's after-hooks, so
// EndBatch first waits for the dispatch pipeline to go quiescent; the
// closing entry can never miss a trailing action. Do not call EndBatch
// from inside a subscriber callback: the worker is waiting on the
// callback, so the drain would only resolve by timeout.
func (s *Store) EndBatch(id string) bool {
	s.awaitQuiescent(batchDrainTimeout)
	return s.historyMgr.EndBatch(id)
}

// awaitQuiescent polls until no action is queued, in flight, or
// awaiting its capture after-hook. Reports false on timeout.
func (s *Store) awaitQuiescent(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if len(s.queue) == 0 && s.inFlight.Load() == 0 && s.capture.PendingCount() == 0 {
			return true
		}
		if time.Now().After(deadline) {
			s.logger.Warn("pipeline did not go quiescent before batch close")
			return false
		}
		time.Sleep(time.Millisecond)
	}
}

// History exposes the undo log for timeline and stats queries.
func (s *Store) History() *history.Manager { return s.historyMgr }

// PerformanceMetrics is the aggregate view returned by
// GetPerformanceMetrics.
type PerformanceMetrics struct {
	ActionTimings map[state.ActionType]middleware.TypeMetrics `json:"action_timings"`
	QueueDepth    int                                         `json:"queue_depth"`
	Subscribers   int                                         `json:"subscribers"`
	History       history.Stats                               `json:"history"`
}

// GetPerformanceMetrics returns rolling timing windows, queue backlog,
// and history occupancy.
func (s *Store) GetPerformanceMetrics() PerformanceMetrics {
	return PerformanceMetrics{
		ActionTimings: s.measure.Metrics(),
		QueueDepth:    len(s.queue),
		Subscribers:   s.subscribers.count(),
		History:       s.historyMgr.CollectStats(),
	}
}

// ExportDebugInfo returns a diagnostic document: pipeline layout,
// state size, history stats, and integrity counters.
func (s *Store) ExportDebugInfo() map[string]any {
	snapshot := s.Snapshot()
	info := map[string]any{
		"middleware_pipeline": s.chain.Stages(),
		"snapshot_bytes":      state.EstimateSize(snapshot),
		"queue_depth":         len(s.queue),
		"queue_capacity":      cap(s.queue),
		"subscribers":         s.subscribers.count(),
		"history":             s.historyMgr.CollectStats(),
		"pending_captures":    s.capture.PendingCount(),
	}
	if s.integrity != nil {
		info["integrity_violations"] = s.integrity.ViolationCount()
	}
	if components, ok := state.GetAtPath(snapshot, "components.component_map"); ok {
		if m, ok := components.(map[string]any); ok {
			info["component_count"] = len(m)
		}
	}
	return info
}

// Close drains the queue, stops the worker, and performs one final
// synchronous save. Dispatches after Close begin return ErrStoreClosed.
func (s *Store) Close(ctx context.Context) error {
	s.closeMu.Lock()
	select {
	case <-s.closing:
		s.closeMu.Unlock()
		return nil
	default:
		close(s.closing)
	}
	s.closeMu.Unlock()
	// No dispatcher can be inside a send now: new ones observe closing,
	// and in-flight ones finished before the write lock was granted.
	close(s.queue)

	select {
	case <-s.done:
	case <-ctx.Done():
		return fmt.Errorf("store close: %w", ctx.Err())
	}

	if s.autosave != nil {
		s.autosave.Stop()
	}
	if s.cfg.Backend != nil {
		if err := s.saveState(ctx); err != nil {
			return fmt.Errorf("final save: %w", err)
		}
	}
	return nil
}

// =============================================================================
// Dispatch worker
// =============================================================================

func (s *Store) worker() {
	defer close(s.done)
	for action := range s.queue {
		queueDepth.Set(float64(len(s.queue)))
		s.inFlight.Store(1)
		s.processAction(action)
		s.inFlight.Store(0)
	}
}

// processAction runs one action end to end. Panics from reducers or
// snapshotting are caught here so one bad action never wedges the
// worker.
func (s *Store) processAction(action *state.Action) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("action processing panicked",
				slog.String("action_id", action.ID),
				slog.String("action_type", string(action.Type)),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			s.capture.Release(action.ID)
			actionsTotal.WithLabelValues(resultFailed, string(action.Type)).Inc()
		}
	}()

	ctx, span := tracer.Start(context.Background(), "Store.processAction")
	span.SetAttributes(
		attribute.String("action.id", action.ID),
		attribute.String("action.type", string(action.Type)),
	)
	defer span.End()
	started := time.Now()

	oldSnapshot := s.Snapshot()

	decision, vetoedBy := s.chain.RunBefore(ctx, action, oldSnapshot)
	if decision.Cancel {
		s.capture.Release(action.ID)
		s.logger.Warn("action cancelled",
			slog.String("action_id", action.ID),
			slog.String("action_type", string(action.Type)),
			slog.String("middleware", vetoedBy),
			slog.String("reason", decision.Reason))
		span.SetAttributes(attribute.String("cancelled_by", vetoedBy))
		actionsTotal.WithLabelValues(resultCancelled, string(action.Type)).Inc()
		return
	}

	newSnapshot, changes, err := s.apply(action, oldSnapshot)
	if err != nil {
		s.capture.Release(action.ID)
		s.logger.Error("action failed",
			slog.String("action_id", action.ID),
			slog.String("action_type", string(action.Type)),
			slog.String("error", err.Error()))
		span.RecordError(err)
		span.SetStatus(codes.Error, "apply failed")
		actionsTotal.WithLabelValues(resultFailed, string(action.Type)).Inc()
		return
	}

	s.publish(newSnapshot)

	notified := s.subscribers.notify(changes, oldSnapshot, newSnapshot)
	subscriberNotifications.Add(float64(notified))

	s.chain.RunAfter(ctx, action, newSnapshot, changes)

	elapsed := time.Since(started)
	actionsTotal.WithLabelValues(resultApplied, string(action.Type)).Inc()
	actionDuration.WithLabelValues(string(action.Type)).Observe(elapsed.Seconds())
	changesPerAction.Observe(float64(len(changes)))
	snapshotBytes.Observe(float64(state.EstimateSize(newSnapshot)))
	span.SetAttributes(attribute.Int("change_count", len(changes)))
}

// apply produces the next snapshot and change list for an action.
//
// History-control actions replay their recorded change list onto a copy
// of the old snapshot and rehydrate the typed state from it. All other
// types run their reducer against the typed working state and the
// change list is computed by structural diff.
func (s *Store) apply(action *state.Action, oldSnapshot state.Snapshot) (state.Snapshot, []state.Change, error) {
	if action.Type.IsHistoryControl() {
		next, err := state.CloneSnapshot(oldSnapshot)
		if err != nil {
			return nil, nil, err
		}
		ApplyChanges(next, action.Changes)
		restored, err := state.FromSnapshot(next)
		if err != nil {
			return nil, nil, err
		}
		s.app = restored
		return next, action.Changes, nil
	}

	if action.Type == state.ActionBatch {
		// Batch markers carry no direct effect; the history manager
		// records them as the undoable unit.
		return oldSnapshot, nil, nil
	}

	reduce, ok := reducers[action.Type]
	if !ok {
		return nil, nil, fmt.Errorf("no effect registered for action type %q", action.Type)
	}
	if err := reduce(s.app, action); err != nil {
		return nil, nil, err
	}
	newSnapshot, err := s.app.TakeSnapshot()
	if err != nil {
		return nil, nil, err
	}
	return newSnapshot, DiffSnapshots(oldSnapshot, newSnapshot), nil
}

func (s *Store) publish(snapshot state.Snapshot) {
	s.mu.Lock()
	s.current = snapshot
	s.mu.Unlock()
}

func (s *Store) hasUnsavedChanges() bool {
	value, _ := state.GetAtPath(s.Snapshot(), "has_unsaved_changes")
	dirty, _ := value.(bool)
	return dirty
}

// saveState writes the current snapshot to the persistence backend.
func (s *Store) saveState(ctx context.Context) error {
	if s.cfg.Backend == nil {
		return nil
	}
	return s.cfg.Backend.Save(ctx, s.cfg.SaveKey, s.Snapshot())
}
