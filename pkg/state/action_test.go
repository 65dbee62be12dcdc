// Copyright (C) 2026 PolycarpusTack
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFactoryActionsAreValid verifies every factory emits a structurally
// valid action with populated identity fields.
func TestFactoryActionsAreValid(t *testing.T) {
	actions := []*Action{
		NewAddComponentAction(component("btn1", nil), ""),
		NewUpdateComponentAction("btn1", map[string]any{"label": "Go"}),
		NewDeleteComponentAction("btn1"),
		NewMoveComponentAction("btn1", 10, 20),
		NewDuplicateComponentAction("btn1", "btn2", 5, 5),
		NewSelectComponentAction("btn1", false),
		NewDeselectComponentAction("btn1"),
		NewSelectAllAction(),
		NewClearSelectionAction(),
		NewCreateProjectAction("demo", "/tmp/demo"),
		NewOpenProjectAction("/tmp/demo", "demo"),
		NewSaveProjectAction(),
		NewCloseProjectAction(),
		NewUpdateProjectMetaAction(map[string]any{"author": "ada"}),
		NewResizePanelAction("left", 300),
		NewTogglePanelAction("left"),
		NewChangeThemeAction("dark", true),
		NewZoomCanvasAction(0.5),
		NewPanCanvasAction(10, -10),
		NewToggleGridAction(),
		NewToggleGuidesAction(),
	}
	seen := make(map[string]bool)
	for _, a := range actions {
		require.NoError(t, a.Validate(), "action %s", a.Type)
		assert.NotEmpty(t, a.ID)
		assert.NotEmpty(t, a.Description)
		assert.False(t, a.Timestamp.IsZero())
		assert.False(t, seen[a.ID], "action ids must be unique")
		seen[a.ID] = true
	}
}

// TestValidateRejectsMissingFields verifies the required-field checks.
func TestValidateRejectsMissingFields(t *testing.T) {
	var nilAction *Action
	assert.Error(t, nilAction.Validate())

	a := NewZoomCanvasAction(1)
	a.ID = ""
	assertInvalid(t, a, "missing id")

	a = NewZoomCanvasAction(1)
	a.Type = ""
	assertInvalid(t, a, "missing type")

	a = NewZoomCanvasAction(1)
	a.Timestamp = time.Time{}
	assertInvalid(t, a, "missing timestamp")
}

// TestValidateRejectsBadPayloadShape verifies the per-type payload
// validator table.
func TestValidateRejectsBadPayloadShape(t *testing.T) {
	t.Run("add_component without component", func(t *testing.T) {
		a := newAction(ActionAddComponent, "broken", map[string]any{"parent_id": "x"})
		assert.Error(t, a.Validate())
	})

	t.Run("add_component without component id", func(t *testing.T) {
		a := newAction(ActionAddComponent, "broken", map[string]any{
			"component": map[string]any{"type": "button"},
		})
		assert.Error(t, a.Validate())
	})

	t.Run("update_component without updates", func(t *testing.T) {
		a := newAction(ActionUpdateComponent, "broken", map[string]any{"component_id": "a"})
		assert.Error(t, a.Validate())
	})

	t.Run("resize_panel without panel", func(t *testing.T) {
		a := newAction(ActionResizePanel, "broken", map[string]any{"width": 100.0})
		assert.Error(t, a.Validate())
	})

	t.Run("payload of wrong type", func(t *testing.T) {
		a := newAction(ActionMoveComponent, "broken", map[string]any{
			"component_id": "a",
			"x":            "not-a-number",
		})
		assert.Error(t, a.Validate())
	})
}

// TestValidateUnknownTypePasses verifies unknown action types pass
// trivially: validators check shape only.
func TestValidateUnknownTypePasses(t *testing.T) {
	a := newAction(ActionType("custom_extension"), "custom", nil)
	assert.NoError(t, a.Validate())
}

// TestDecodePayload verifies the typed payload accessor used by reducers.
func TestDecodePayload(t *testing.T) {
	a := NewMoveComponentAction("btn1", 12, 34)
	payload, err := DecodePayload[MoveComponentPayload](a)
	require.NoError(t, err)
	assert.Equal(t, "btn1", payload.ComponentID)
	assert.Equal(t, 12.0, payload.X)
	assert.Equal(t, 34.0, payload.Y)
}

// TestIsHistoryControl verifies undo/redo are recognized as
// non-recordable history control traffic.
func TestIsHistoryControl(t *testing.T) {
	assert.True(t, ActionUndo.IsHistoryControl())
	assert.True(t, ActionRedo.IsHistoryControl())
	assert.False(t, ActionAddComponent.IsHistoryControl())
	assert.False(t, ActionBatch.IsHistoryControl())
}

func assertInvalid(t *testing.T, a *Action, fragment string) {
	t.Helper()
	err := a.Validate()
	require.Error(t, err)
	var invalid *InvalidActionError
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, invalid.Reason, fragment)
}
