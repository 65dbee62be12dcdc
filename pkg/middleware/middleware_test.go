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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PolycarpusTack/canvasstate/pkg/history"
	"github.com/PolycarpusTack/canvasstate/pkg/logging"
	"github.com/PolycarpusTack/canvasstate/pkg/state"
)

// testSnapshot builds a snapshot containing the given components, all
// at the root.
func testSnapshot(t *testing.T, ids ...string) state.Snapshot {
	t.Helper()
	app := state.NewAppState()
	for _, id := range ids {
		require.NoError(t, app.Components.AddComponent(map[string]any{"id": id}, ""))
	}
	snap, err := app.TakeSnapshot()
	require.NoError(t, err)
	return snap
}

// recordingStage records hook invocations for chain-order assertions.
type recordingStage struct {
	name     string
	decision Decision
	calls    *[]string
}

func (r *recordingStage) Name() string { return r.name }

func (r *recordingStage) BeforeAction(context.Context, *state.Action, state.Snapshot) Decision {
	*r.calls = append(*r.calls, "before:"+r.name)
	return r.decision
}

func (r *recordingStage) AfterAction(context.Context, *state.Action, state.Snapshot, []state.Change) {
	*r.calls = append(*r.calls, "after:"+r.name)
}

// panicStage panics in both hooks.
type panicStage struct{}

func (panicStage) Name() string { return "panicky" }
func (panicStage) BeforeAction(context.Context, *state.Action, state.Snapshot) Decision {
	panic("before boom")
}
func (panicStage) AfterAction(context.Context, *state.Action, state.Snapshot, []state.Change) {
	panic("after boom")
}

// TestChainOrderAndShortCircuit verifies hooks run in registration
// order and that a cancellation stops the before chain.
func TestChainOrderAndShortCircuit(t *testing.T) {
	var calls []string
	chain := NewChain(nil,
		&recordingStage{name: "one", calls: &calls},
		&recordingStage{name: "two", decision: Cancelled("nope"), calls: &calls},
		&recordingStage{name: "three", calls: &calls},
	)

	action := state.NewToggleGridAction()
	decision, by := chain.RunBefore(context.Background(), action, state.Snapshot{})
	assert.True(t, decision.Cancel)
	assert.Equal(t, "nope", decision.Reason)
	assert.Equal(t, "two", by)
	assert.Equal(t, []string{"before:one", "before:two"}, calls)

	calls = nil
	chain.RunAfter(context.Background(), action, state.Snapshot{}, nil)
	assert.Equal(t, []string{"after:one", "after:two", "after:three"}, calls)
}

// TestChainPanicIsolation verifies a panicking middleware neither
// cancels the action nor stops the rest of the pipeline.
func TestChainPanicIsolation(t *testing.T) {
	capture := logging.NewCaptureHandler(slog.LevelDebug)
	var calls []string
	chain := NewChain(slog.New(capture),
		panicStage{},
		&recordingStage{name: "tail", calls: &calls},
	)

	action := state.NewToggleGridAction()
	decision, _ := chain.RunBefore(context.Background(), action, state.Snapshot{})
	assert.False(t, decision.Cancel)
	assert.Equal(t, []string{"before:tail"}, calls)

	chain.RunAfter(context.Background(), action, state.Snapshot{}, nil)
	assert.Contains(t, calls, "after:tail")
	assert.True(t, capture.Has(slog.LevelError, "middleware before hook panicked"))
	assert.True(t, capture.Has(slog.LevelError, "middleware after hook panicked"))
}

// TestSecurityRateLimit verifies the 101st action in a burst is
// cancelled while the first 100 pass.
func TestSecurityRateLimit(t *testing.T) {
	security := NewSecurity(DefaultSecurityConfig())
	snap := state.Snapshot{}

	allowed, denied := 0, 0
	for i := 0; i < 110; i++ {
		action := state.NewToggleGridAction()
		action.UserID = "alice"
		if security.BeforeAction(context.Background(), action, snap).Cancel {
			denied++
		} else {
			allowed++
		}
	}
	assert.Equal(t, 100, allowed)
	assert.Equal(t, 10, denied)
}

// TestSecurityRateLimitPerUser verifies limits are tracked per user.
func TestSecurityRateLimitPerUser(t *testing.T) {
	security := NewSecurity(SecurityConfig{ActionsPerSecond: 2, Burst: 2})
	snap := state.Snapshot{}

	dispatch := func(user string) bool {
		action := state.NewToggleGridAction()
		action.UserID = user
		return security.BeforeAction(context.Background(), action, snap).Cancel
	}

	assert.False(t, dispatch("alice"))
	assert.False(t, dispatch("alice"))
	assert.True(t, dispatch("alice"))
	// Bob has his own budget.
	assert.False(t, dispatch("bob"))
}

// TestSecurityTamperChecks verifies timestamp skew and payload checks.
func TestSecurityTamperChecks(t *testing.T) {
	security := NewSecurity(DefaultSecurityConfig())
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	security.now = func() time.Time { return fixed }
	snap := state.Snapshot{}

	t.Run("stale timestamp", func(t *testing.T) {
		action := state.NewToggleGridAction()
		action.Timestamp = fixed.Add(-61 * time.Second)
		assert.True(t, security.BeforeAction(context.Background(), action, snap).Cancel)
	})

	t.Run("future timestamp", func(t *testing.T) {
		action := state.NewToggleGridAction()
		action.Timestamp = fixed.Add(301 * time.Second)
		assert.True(t, security.BeforeAction(context.Background(), action, snap).Cancel)
	})

	t.Run("within skew", func(t *testing.T) {
		action := state.NewToggleGridAction()
		action.Timestamp = fixed.Add(-30 * time.Second)
		assert.False(t, security.BeforeAction(context.Background(), action, snap).Cancel)
	})

	t.Run("nil payload", func(t *testing.T) {
		action := state.NewToggleGridAction()
		action.Timestamp = fixed
		action.Payload = nil
		assert.True(t, security.BeforeAction(context.Background(), action, snap).Cancel)
	})
}

// TestBudgetAnnotatesEstimate verifies the metadata annotation and the
// warn-only default.
func TestBudgetAnnotatesEstimate(t *testing.T) {
	budget := NewBudget(DefaultBudgetConfig())
	action := state.NewAddComponentAction(map[string]any{"id": "c1"}, "")

	decision := budget.BeforeAction(context.Background(), action, testSnapshot(t))
	assert.False(t, decision.Cancel)
	estimate, ok := action.Metadata[EstimatedCostKey].(float64)
	require.True(t, ok)
	assert.Greater(t, estimate, 0.0)
}

// TestBudgetStrictMode verifies strict mode cancels over-budget
// actions while history actions get the larger budget.
func TestBudgetStrictMode(t *testing.T) {
	budget := NewBudget(BudgetConfig{
		ActionBudget:  time.Microsecond,
		HistoryBudget: time.Hour,
		Strict:        true,
	})
	snap := testSnapshot(t, "c1")

	action := state.NewAddComponentAction(map[string]any{"id": "c2"}, "")
	assert.True(t, budget.BeforeAction(context.Background(), action, snap).Cancel)

	undo := state.NewUndoAction("undo", nil)
	assert.False(t, budget.BeforeAction(context.Background(), undo, snap).Cancel)
}

// TestBudgetEstimateScalesWithComponents verifies the component-count
// scaling of the cost model.
func TestBudgetEstimateScalesWithComponents(t *testing.T) {
	budget := NewBudget(DefaultBudgetConfig())
	small := budget.Estimate(state.ActionAddComponent, 0)
	large := budget.Estimate(state.ActionAddComponent, 1000)
	assert.Greater(t, large, small)
}

// TestValidationDuplicateID verifies adding an existing id is vetoed.
func TestValidationDuplicateID(t *testing.T) {
	validation := NewValidation(nil)
	snap := testSnapshot(t, "c1")

	action := state.NewAddComponentAction(map[string]any{"id": "c1"}, "")
	decision := validation.BeforeAction(context.Background(), action, snap)
	assert.True(t, decision.Cancel)
	assert.Contains(t, decision.Reason, "already exists")
}

// TestValidationMalformedID verifies ids that would collide with path
// syntax are vetoed before they become map keys.
func TestValidationMalformedID(t *testing.T) {
	validation := NewValidation(nil)
	snap := testSnapshot(t)

	for _, id := range []string{"a.b", "../x", "has space", ""} {
		action := state.NewAddComponentAction(map[string]any{"id": id}, "")
		assert.True(t, validation.BeforeAction(context.Background(), action, snap).Cancel, "id %q", id)
	}

	dup := state.NewDuplicateComponentAction("c1", "bad.id", 0, 0)
	assert.True(t, validation.BeforeAction(context.Background(), dup, testSnapshot(t, "c1")).Cancel)
}

// TestValidationUnknownParent verifies an unknown parent is vetoed.
func TestValidationUnknownParent(t *testing.T) {
	validation := NewValidation(nil)
	action := state.NewAddComponentAction(map[string]any{"id": "c1"}, "ghost")
	decision := validation.BeforeAction(context.Background(), action, testSnapshot(t))
	assert.True(t, decision.Cancel)
	assert.Contains(t, decision.Reason, "does not exist")
}

// TestValidationDepthLimit verifies nesting past the maximum depth is
// vetoed.
func TestValidationDepthLimit(t *testing.T) {
	app := state.NewAppState()
	parent := ""
	var last string
	// Fill all allowed levels: depths 0 through MaxNestingDepth-1.
	for i := 0; i < state.MaxNestingDepth; i++ {
		id := string(rune('a' + i))
		require.NoError(t, app.Components.AddComponent(map[string]any{"id": id}, parent))
		parent = id
		last = id
	}
	snap, err := app.TakeSnapshot()
	require.NoError(t, err)

	validation := NewValidation(nil)
	action := state.NewAddComponentAction(map[string]any{"id": "too-deep"}, last)
	decision := validation.BeforeAction(context.Background(), action, snap)
	assert.True(t, decision.Cancel)
	assert.Contains(t, decision.Reason, "depth")
}

// TestValidationUnknownComponent verifies mutations of missing
// components are vetoed across action types.
func TestValidationUnknownComponent(t *testing.T) {
	validation := NewValidation(nil)
	snap := testSnapshot(t)

	actions := []*state.Action{
		state.NewUpdateComponentAction("ghost", map[string]any{"x": 1}),
		state.NewDeleteComponentAction("ghost"),
		state.NewMoveComponentAction("ghost", 1, 2),
		state.NewDuplicateComponentAction("ghost", "copy", 0, 0),
		state.NewSelectComponentAction("ghost", false),
	}
	for _, action := range actions {
		assert.True(t, validation.BeforeAction(context.Background(), action, snap).Cancel,
			"type %s", action.Type)
	}
}

// TestValidationPanelWidth verifies the [50,1000] width bounds.
func TestValidationPanelWidth(t *testing.T) {
	validation := NewValidation(nil)
	snap := testSnapshot(t)
	ctx := context.Background()

	assert.False(t, validation.BeforeAction(ctx, state.NewResizePanelAction("left", 300), snap).Cancel)
	assert.True(t, validation.BeforeAction(ctx, state.NewResizePanelAction("left", 49), snap).Cancel)
	assert.True(t, validation.BeforeAction(ctx, state.NewResizePanelAction("left", 1001), snap).Cancel)
	assert.True(t, validation.BeforeAction(ctx, state.NewResizePanelAction("ghost", 300), snap).Cancel)
}

// TestValidationZoomBounds verifies zoom deltas whose result leaves
// [0.1, 5.0] are vetoed. From the default zoom of 1.0, a delta of 10.0
// must be rejected.
func TestValidationZoomBounds(t *testing.T) {
	validation := NewValidation(nil)
	snap := testSnapshot(t)
	ctx := context.Background()

	assert.True(t, validation.BeforeAction(ctx, state.NewZoomCanvasAction(10.0), snap).Cancel)
	assert.True(t, validation.BeforeAction(ctx, state.NewZoomCanvasAction(-0.95), snap).Cancel)
	assert.False(t, validation.BeforeAction(ctx, state.NewZoomCanvasAction(0.5), snap).Cancel)
	assert.False(t, validation.BeforeAction(ctx, state.NewZoomCanvasAction(4.0), snap).Cancel)
}

// TestHistoryCaptureRecords verifies the before-state is cached by
// action id and handed to the history manager after the mutation.
func TestHistoryCaptureRecords(t *testing.T) {
	manager := history.NewManager(history.Config{})
	capture := NewHistoryCapture(manager)
	ctx := context.Background()

	before := testSnapshot(t)
	action := state.NewZoomCanvasAction(0.5)
	require.False(t, capture.BeforeAction(ctx, action, before).Cancel)
	assert.Equal(t, 1, capture.PendingCount())

	after := testSnapshot(t)
	capture.AfterAction(ctx, action, after, []state.Change{
		{Path: "canvas.zoom", Kind: state.ChangeUpdate, OldValue: 1.0, NewValue: 1.5},
	})

	assert.Equal(t, 0, capture.PendingCount())
	assert.True(t, manager.CanUndo())
}

// TestHistoryCaptureSkipsHistoryControl verifies undo/redo traffic is
// never cached.
func TestHistoryCaptureSkipsHistoryControl(t *testing.T) {
	capture := NewHistoryCapture(history.NewManager(history.Config{}))
	undo := state.NewUndoAction("undo", nil)
	capture.BeforeAction(context.Background(), undo, testSnapshot(t))
	assert.Equal(t, 0, capture.PendingCount())
}

// TestHistoryCaptureRelease verifies a cancelled action's cached state
// is dropped without recording.
func TestHistoryCaptureRelease(t *testing.T) {
	manager := history.NewManager(history.Config{})
	capture := NewHistoryCapture(manager)
	action := state.NewZoomCanvasAction(0.5)
	capture.BeforeAction(context.Background(), action, testSnapshot(t))

	capture.Release(action.ID)
	assert.Equal(t, 0, capture.PendingCount())
	assert.False(t, manager.CanUndo())
}

// TestAuditLogsDispatch verifies the audit line carries the change
// count and never cancels.
func TestAuditLogsDispatch(t *testing.T) {
	capture := logging.NewCaptureHandler(slog.LevelDebug)
	audit := NewAudit(slog.New(capture))
	action := state.NewToggleGridAction()
	ctx := context.Background()

	assert.False(t, audit.BeforeAction(ctx, action, state.Snapshot{}).Cancel)
	audit.AfterAction(ctx, action, state.Snapshot{}, []state.Change{
		{Path: "canvas.show_grid", Kind: state.ChangeUpdate},
	})

	require.True(t, capture.Has(slog.LevelInfo, "action applied"))
	entries := capture.Entries()
	last := entries[len(entries)-1]
	assert.Equal(t, int64(1), last.Attrs["change_count"])
}

// TestMeasureRollingWindow verifies durations are recorded per type
// with the window capped at 100 samples.
func TestMeasureRollingWindow(t *testing.T) {
	measure := NewMeasure(nil, nil)
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	measure.now = func() time.Time { return current }
	ctx := context.Background()
	snap := state.Snapshot{}

	for i := 0; i < 150; i++ {
		action := state.NewToggleGridAction()
		measure.BeforeAction(ctx, action, snap)
		current = current.Add(2 * time.Millisecond)
		measure.AfterAction(ctx, action, snap, nil)
	}

	metrics := measure.Metrics()
	m, ok := metrics[state.ActionToggleGrid]
	require.True(t, ok)
	assert.Equal(t, 150, m.Count)
	assert.InDelta(t, 2.0, m.AverageMs, 0.01)
	assert.InDelta(t, 2.0, m.LastMs, 0.01)
}

// TestMeasureFlagsOutliers verifies over-budget durations produce a
// warning.
func TestMeasureFlagsOutliers(t *testing.T) {
	capture := logging.NewCaptureHandler(slog.LevelDebug)
	budget := NewBudget(BudgetConfig{ActionBudget: time.Millisecond, HistoryBudget: time.Hour})
	measure := NewMeasure(budget, slog.New(capture))
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	measure.now = func() time.Time { return current }

	action := state.NewToggleGridAction()
	measure.BeforeAction(context.Background(), action, state.Snapshot{})
	current = current.Add(50 * time.Millisecond)
	measure.AfterAction(context.Background(), action, state.Snapshot{}, nil)

	assert.True(t, capture.Has(slog.LevelWarn, "action duration outlier"))
}

// TestIntegrityCleanSnapshot verifies a consistent snapshot produces
// no findings.
func TestIntegrityCleanSnapshot(t *testing.T) {
	assert.Empty(t, AuditSnapshot(testSnapshot(t, "c1", "c2")))
}

// TestIntegrityDanglingSelection verifies a selection referencing a
// deleted component is reported but not repaired.
func TestIntegrityDanglingSelection(t *testing.T) {
	app := state.NewAppState()
	require.NoError(t, app.Components.AddComponent(map[string]any{"id": "c1"}, ""))
	app.Selection.Add("c1")
	app.Selection.Add("ghost")
	snap, err := app.TakeSnapshot()
	require.NoError(t, err)

	capture := logging.NewCaptureHandler(slog.LevelDebug)
	integrity := NewIntegrity(slog.New(capture))
	integrity.AfterAction(context.Background(), state.NewToggleGridAction(), snap, nil)

	assert.Equal(t, int64(1), integrity.ViolationCount())
	assert.True(t, capture.Has(slog.LevelWarn, "state integrity violation"))
}

// TestIntegrityOrphanedParent verifies unknown parent references are
// reported.
func TestIntegrityOrphanedParent(t *testing.T) {
	snap := testSnapshot(t, "c1")
	parents := snap["components"].(map[string]any)["parent_map"].(map[string]any)
	parents["c1"] = "ghost"

	findings := AuditSnapshot(snap)
	require.NotEmpty(t, findings)
	assert.Contains(t, findings[0], "unknown parent")
}

// TestAutosaveSignificantAction verifies a significant action with
// changes triggers exactly one save even when re-triggered while
// pending.
func TestAutosaveSignificantAction(t *testing.T) {
	saved := make(chan struct{})
	release := make(chan struct{})
	autosave := NewAutosave(
		func(context.Context) error {
			close(saved)
			<-release
			return nil
		},
		func() bool { return true },
		AutosaveConfig{Interval: time.Hour},
	)
	defer autosave.Stop()

	changes := []state.Change{{Path: "components.component_map.c1", Kind: state.ChangeCreate}}
	action := state.NewAddComponentAction(map[string]any{"id": "c1"}, "")
	autosave.AfterAction(context.Background(), action, state.Snapshot{}, changes)

	<-saved
	// A second trigger while the first is in flight is swallowed by
	// the pending flag.
	autosave.AfterAction(context.Background(), action, state.Snapshot{}, changes)
	assert.True(t, autosave.Pending())
	close(release)

	assert.Eventually(t, func() bool { return autosave.SaveCount() == 1 },
		time.Second, 5*time.Millisecond)
}

// TestAutosaveIgnoresInsignificant verifies selection and no-change
// actions do not trigger saves.
func TestAutosaveIgnoresInsignificant(t *testing.T) {
	autosave := NewAutosave(
		func(context.Context) error { return nil },
		func() bool { return true },
		AutosaveConfig{Interval: time.Hour},
	)
	defer autosave.Stop()

	ctx := context.Background()
	autosave.AfterAction(ctx, state.NewSelectAllAction(), state.Snapshot{}, []state.Change{{Path: "selection.selected_ids", Kind: state.ChangeUpdate}})
	autosave.AfterAction(ctx, state.NewAddComponentAction(map[string]any{"id": "c"}, ""), state.Snapshot{}, nil)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(0), autosave.SaveCount())
}

// TestAutosaveIntervalFires verifies the fallback interval saves when
// unsaved changes exist.
func TestAutosaveIntervalFires(t *testing.T) {
	autosave := NewAutosave(
		func(context.Context) error { return nil },
		func() bool { return true },
		AutosaveConfig{Interval: 10 * time.Millisecond},
	)
	defer autosave.Stop()

	assert.Eventually(t, func() bool { return autosave.SaveCount() >= 1 },
		time.Second, 5*time.Millisecond)
}

// TestAutosaveStop verifies no saves start after Stop.
func TestAutosaveStop(t *testing.T) {
	autosave := NewAutosave(
		func(context.Context) error { return nil },
		func() bool { return true },
		AutosaveConfig{Interval: time.Hour},
	)
	autosave.Stop()

	changes := []state.Change{{Path: "p", Kind: state.ChangeUpdate}}
	autosave.AfterAction(context.Background(), state.NewSaveProjectAction(), state.Snapshot{}, changes)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(0), autosave.SaveCount())
}
