// Copyright (C) 2026 PolycarpusTack
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware implements the cross-cutting policy layer wrapped
// around every dispatched action.
//
// Each middleware sees the action twice: BeforeAction runs against the
// pre-mutation snapshot and may cancel the action; AfterAction runs
// against the post-mutation snapshot together with the computed change
// list. The eight reference middlewares, in pipeline order:
//
//  1. Security - per-user rate limiting and tamper checks
//  2. Budget - cost estimation against a time budget
//  3. Validation - semantic checks against current state
//  4. HistoryCapture - pre-state capture for the undo log
//  5. Audit - structured logging of every dispatch
//  6. Measure - wall-clock duration tracking per action type
//  7. Integrity - post-mutation invariant audit (report-only)
//  8. Autosave - significant-action and interval-driven persistence
//
// A cancellation is policy, not an error: the action is skipped, the
// event is logged, and the dispatcher moves on.
//
// # Thread Safety
//
// The dispatch worker invokes hooks one action at a time, so hooks never
// run concurrently with themselves for different actions. Middlewares
// that keep internal state shared with other goroutines (autosave timer,
// rate limiter) guard it themselves.
package middleware

import (
	"context"
	"log/slog"
	"runtime/debug"

	"github.com/PolycarpusTack/canvasstate/pkg/state"
)

// Decision is the outcome of a BeforeAction hook.
type Decision struct {
	Cancel bool
	// Reason explains a cancellation for logs and metrics. Empty when
	// the action proceeds.
	Reason string
}

// Proceed lets the action continue down the pipeline.
func Proceed() Decision { return Decision{} }

// Cancelled vetoes the action with a reason.
func Cancelled(reason string) Decision {
	return Decision{Cancel: true, Reason: reason}
}

// Middleware is one stage of the action pipeline.
type Middleware interface {
	// Name identifies the middleware in logs and cancellation records.
	Name() string

	// BeforeAction runs before the action mutates state. The snapshot
	// is the current published state; hooks may annotate the action's
	// Metadata but must not mutate the snapshot.
	BeforeAction(ctx context.Context, action *state.Action, snapshot state.Snapshot) Decision

	// AfterAction runs after the mutation committed, with the new
	// snapshot and the diff the action produced. It cannot veto.
	AfterAction(ctx context.Context, action *state.Action, snapshot state.Snapshot, changes []state.Change)
}

// Chain runs an ordered middleware pipeline with panic isolation, so a
// single faulty middleware can neither cancel an action by accident nor
// wedge the dispatch worker.
type Chain struct {
	stages []Middleware
	logger *slog.Logger
}

// NewChain builds a chain over stages in pipeline order.
func NewChain(logger *slog.Logger, stages ...Middleware) *Chain {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Chain{stages: stages, logger: logger}
}

// RunBefore executes every BeforeAction hook in order. The first
// cancellation stops the chain and is returned together with the name
// of the middleware that vetoed. A panicking hook is logged and treated
// as a proceed.
func (c *Chain) RunBefore(ctx context.Context, action *state.Action, snapshot state.Snapshot) (Decision, string) {
	for _, stage := range c.stages {
		decision := c.safeBefore(ctx, stage, action, snapshot)
		if decision.Cancel {
			return decision, stage.Name()
		}
	}
	return Proceed(), ""
}

// RunAfter executes every AfterAction hook in order, isolating panics.
func (c *Chain) RunAfter(ctx context.Context, action *state.Action, snapshot state.Snapshot, changes []state.Change) {
	for _, stage := range c.stages {
		c.safeAfter(ctx, stage, action, snapshot, changes)
	}
}

// Stages returns the pipeline contents for debug export.
func (c *Chain) Stages() []string {
	names := make([]string, len(c.stages))
	for i, stage := range c.stages {
		names[i] = stage.Name()
	}
	return names
}

func (c *Chain) safeBefore(ctx context.Context, stage Middleware, action *state.Action, snapshot state.Snapshot) (decision Decision) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("middleware before hook panicked",
				slog.String("middleware", stage.Name()),
				slog.String("action_id", action.ID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			decision = Proceed()
		}
	}()
	return stage.BeforeAction(ctx, action, snapshot)
}

func (c *Chain) safeAfter(ctx context.Context, stage Middleware, action *state.Action, snapshot state.Snapshot, changes []state.Change) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("middleware after hook panicked",
				slog.String("middleware", stage.Name()),
				slog.String("action_id", action.ID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()
	stage.AfterAction(ctx, action, snapshot, changes)
}

// componentMap extracts the component map from a snapshot. Missing or
// malformed sections yield an empty map, never a panic.
func componentMap(snapshot state.Snapshot) map[string]any {
	raw, ok := state.GetAtPath(snapshot, "components.component_map")
	if !ok {
		return nil
	}
	m, _ := raw.(map[string]any)
	return m
}

// parentMap extracts the parent relation from a snapshot.
func parentMap(snapshot state.Snapshot) map[string]any {
	raw, ok := state.GetAtPath(snapshot, "components.parent_map")
	if !ok {
		return nil
	}
	m, _ := raw.(map[string]any)
	return m
}
