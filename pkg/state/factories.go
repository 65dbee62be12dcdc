// Copyright (C) 2026 PolycarpusTack
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package state

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Action factories return fully-formed Action values with id, timestamp,
// and description auto-populated. The store only requires that payload
// keys match what each type's validator and reducer expect; these
// factories are the supported way to guarantee that.

func newAction(t ActionType, description string, payload map[string]any) *Action {
	if payload == nil {
		payload = make(map[string]any)
	}
	return &Action{
		ID:          uuid.NewString(),
		Type:        t,
		Timestamp:   time.Now(),
		Description: description,
		Payload:     payload,
		Metadata:    make(map[string]any),
	}
}

// NewAddComponentAction adds a component, optionally under a parent.
func NewAddComponentAction(component map[string]any, parentID string) *Action {
	id, _ := componentID(component)
	payload := map[string]any{"component": component}
	if parentID != "" {
		payload["parent_id"] = parentID
	}
	return newAction(ActionAddComponent, fmt.Sprintf("Add component %s", id), payload)
}

// NewUpdateComponentAction shallow-merges updates into a component.
func NewUpdateComponentAction(componentID string, updates map[string]any) *Action {
	return newAction(ActionUpdateComponent, fmt.Sprintf("Update component %s", componentID), map[string]any{
		"component_id": componentID,
		"updates":      updates,
	})
}

// NewDeleteComponentAction removes a component and its selection.
func NewDeleteComponentAction(componentID string) *Action {
	return newAction(ActionDeleteComponent, fmt.Sprintf("Delete component %s", componentID), map[string]any{
		"component_id": componentID,
	})
}

// NewMoveComponentAction repositions a component.
func NewMoveComponentAction(componentID string, x, y float64) *Action {
	return newAction(ActionMoveComponent, fmt.Sprintf("Move component %s", componentID), map[string]any{
		"component_id": componentID,
		"x":            x,
		"y":            y,
	})
}

// NewDuplicateComponentAction clones a component under newID at an offset.
func NewDuplicateComponentAction(componentID, newID string, offsetX, offsetY float64) *Action {
	return newAction(ActionDuplicateComponent, fmt.Sprintf("Duplicate component %s", componentID), map[string]any{
		"component_id": componentID,
		"new_id":       newID,
		"offset_x":     offsetX,
		"offset_y":     offsetY,
	})
}

// NewSelectComponentAction selects a component. When additive is false
// the previous selection is replaced.
func NewSelectComponentAction(componentID string, additive bool) *Action {
	return newAction(ActionSelectComponent, fmt.Sprintf("Select component %s", componentID), map[string]any{
		"component_id": componentID,
		"additive":     additive,
	})
}

// NewDeselectComponentAction removes a component from the selection.
func NewDeselectComponentAction(componentID string) *Action {
	return newAction(ActionDeselectComponent, fmt.Sprintf("Deselect component %s", componentID), map[string]any{
		"component_id": componentID,
	})
}

// NewSelectAllAction selects every component.
func NewSelectAllAction() *Action {
	return newAction(ActionSelectAll, "Select all components", nil)
}

// NewClearSelectionAction empties the selection.
func NewClearSelectionAction() *Action {
	return newAction(ActionClearSelection, "Clear selection", nil)
}

// NewCreateProjectAction starts a fresh project.
func NewCreateProjectAction(name, path string) *Action {
	return newAction(ActionCreateProject, fmt.Sprintf("Create project %s", name), map[string]any{
		"name": name,
		"path": path,
	})
}

// NewOpenProjectAction opens an existing project.
func NewOpenProjectAction(path, name string) *Action {
	return newAction(ActionOpenProject, fmt.Sprintf("Open project %s", path), map[string]any{
		"path": path,
		"name": name,
	})
}

// NewSaveProjectAction marks the project saved.
func NewSaveProjectAction() *Action {
	return newAction(ActionSaveProject, "Save project", nil)
}

// NewCloseProjectAction closes the open project.
func NewCloseProjectAction() *Action {
	return newAction(ActionCloseProject, "Close project", nil)
}

// NewUpdateProjectMetaAction merges metadata into the open project.
func NewUpdateProjectMetaAction(meta map[string]any) *Action {
	return newAction(ActionUpdateProjectMeta, "Update project metadata", map[string]any{
		"meta": meta,
	})
}

// NewResizePanelAction resizes a dockable panel.
func NewResizePanelAction(panel string, width float64) *Action {
	return newAction(ActionResizePanel, fmt.Sprintf("Resize panel %s", panel), map[string]any{
		"panel": panel,
		"width": width,
	})
}

// NewTogglePanelAction flips a panel's visibility.
func NewTogglePanelAction(panel string) *Action {
	return newAction(ActionTogglePanel, fmt.Sprintf("Toggle panel %s", panel), map[string]any{
		"panel": panel,
	})
}

// NewChangeThemeAction switches the visual theme.
func NewChangeThemeAction(theme string, darkMode bool) *Action {
	return newAction(ActionChangeTheme, fmt.Sprintf("Change theme to %s", theme), map[string]any{
		"theme":     theme,
		"dark_mode": darkMode,
	})
}

// NewZoomCanvasAction adjusts the canvas zoom by delta.
func NewZoomCanvasAction(delta float64) *Action {
	return newAction(ActionZoomCanvas, "Zoom canvas", map[string]any{
		"delta": delta,
	})
}

// NewPanCanvasAction shifts the canvas viewport.
func NewPanCanvasAction(deltaX, deltaY float64) *Action {
	return newAction(ActionPanCanvas, "Pan canvas", map[string]any{
		"delta_x": deltaX,
		"delta_y": deltaY,
	})
}

// NewToggleGridAction flips grid display.
func NewToggleGridAction() *Action {
	return newAction(ActionToggleGrid, "Toggle grid", nil)
}

// NewToggleGuidesAction flips guide display.
func NewToggleGuidesAction() *Action {
	return newAction(ActionToggleGuides, "Toggle guides", nil)
}

// NewUndoAction is the synthetic action produced by the history manager.
// It carries the recorded entry's inverse changes for the store to apply.
func NewUndoAction(description string, inverse []Change) *Action {
	a := newAction(ActionUndo, fmt.Sprintf("Undo: %s", description), nil)
	a.Changes = inverse
	return a
}

// NewRedoAction mirrors NewUndoAction using forward changes.
func NewRedoAction(description string, forward []Change) *Action {
	a := newAction(ActionRedo, fmt.Sprintf("Redo: %s", description), nil)
	a.Changes = forward
	return a
}

// NewBatchAction is the batch-end marker recorded as the single undoable
// unit for a batch group.
func NewBatchAction(batchID, description string) *Action {
	a := newAction(ActionBatch, description, nil)
	a.BatchID = batchID
	return a
}
