// Copyright (C) 2026 PolycarpusTack
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/PolycarpusTack/canvasstate/pkg/state"
)

// EstimatedCostKey is the action metadata key the Budget middleware
// annotates with its estimate in milliseconds. The Measure middleware
// reads it back to compare estimate against actual.
const EstimatedCostKey = "estimated_cost_ms"

// BudgetConfig configures the Budget middleware.
type BudgetConfig struct {
	// ActionBudget is the time budget for ordinary actions.
	ActionBudget time.Duration

	// HistoryBudget is the larger budget for undo/redo, which replay
	// recorded change lists.
	HistoryBudget time.Duration

	// Strict cancels actions whose estimate exceeds the budget.
	// Otherwise the overrun is only logged.
	Strict bool

	Logger *slog.Logger
}

// DefaultBudgetConfig returns the reference budgets: 16ms per action
// (one 60fps frame), 100ms for undo/redo, warn-only.
func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{
		ActionBudget:  16 * time.Millisecond,
		HistoryBudget: 100 * time.Millisecond,
	}
}

// complexityWeights scale the per-type base cost in milliseconds. Types
// not listed cost baseWeight.
var complexityWeights = map[state.ActionType]float64{
	state.ActionAddComponent:       1.0,
	state.ActionUpdateComponent:    1.0,
	state.ActionDeleteComponent:    1.2,
	state.ActionMoveComponent:      0.8,
	state.ActionDuplicateComponent: 1.5,
	state.ActionSelectAll:          0.6,
	state.ActionSelectComponent:    0.2,
	state.ActionDeselectComponent:  0.2,
	state.ActionClearSelection:     0.2,
	state.ActionOpenProject:        3.0,
	state.ActionCreateProject:      2.0,
	state.ActionSaveProject:        2.0,
	state.ActionUndo:               2.0,
	state.ActionRedo:               2.0,
}

const baseWeight = 0.5

// Budget estimates the cost of each action from a per-type complexity
// weight scaled by the current component count, and compares it against
// a time budget. The estimate is written to the action's metadata so
// the Measure middleware can report estimate-vs-actual drift.
type Budget struct {
	cfg BudgetConfig
}

// NewBudget builds the middleware. Zero-value config fields fall back
// to the defaults.
func NewBudget(cfg BudgetConfig) *Budget {
	def := DefaultBudgetConfig()
	if cfg.ActionBudget <= 0 {
		cfg.ActionBudget = def.ActionBudget
	}
	if cfg.HistoryBudget <= 0 {
		cfg.HistoryBudget = def.HistoryBudget
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Budget{cfg: cfg}
}

// Name implements Middleware.
func (b *Budget) Name() string { return "budget" }

// BeforeAction estimates and enforces.
func (b *Budget) BeforeAction(_ context.Context, action *state.Action, snapshot state.Snapshot) Decision {
	estimate := b.Estimate(action.Type, len(componentMap(snapshot)))
	if action.Metadata == nil {
		action.Metadata = make(map[string]any)
	}
	action.Metadata[EstimatedCostKey] = float64(estimate) / float64(time.Millisecond)

	budget := b.cfg.ActionBudget
	if action.Type.IsHistoryControl() {
		budget = b.cfg.HistoryBudget
	}
	if estimate <= budget {
		return Proceed()
	}

	if b.cfg.Strict {
		return Cancelled(fmt.Sprintf("estimated cost %s exceeds budget %s", estimate, budget))
	}
	b.cfg.Logger.Warn("action over time budget",
		slog.String("action_type", string(action.Type)),
		slog.Duration("estimate", estimate),
		slog.Duration("budget", budget))
	return Proceed()
}

// AfterAction implements Middleware. Enforcement is before-only.
func (b *Budget) AfterAction(context.Context, *state.Action, state.Snapshot, []state.Change) {}

// Estimate returns the modeled cost for an action type at the given
// component count. The weight is the base cost in milliseconds for an
// empty canvas; cost grows linearly with every 100 components.
func (b *Budget) Estimate(t state.ActionType, componentCount int) time.Duration {
	weight, ok := complexityWeights[t]
	if !ok {
		weight = baseWeight
	}
	scale := 1.0 + float64(componentCount)/100.0
	return time.Duration(weight * scale * float64(time.Millisecond))
}
