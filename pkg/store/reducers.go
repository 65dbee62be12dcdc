// Copyright (C) 2026 PolycarpusTack
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/PolycarpusTack/canvasstate/pkg/state"
)

// reducer applies one action type's effect to a working copy of state.
type reducer func(app *state.AppState, action *state.Action) error

// reducers is the closed per-type effect table. Undo, redo, and batch
// markers are handled by the dispatch worker directly and have no entry
// here.
//
// Every effect marks has_unsaved_changes, including pure selection and
// view actions — intentional simplicity carried from the reference
// behavior. Saving is the only effect that clears the flag.
var reducers = map[state.ActionType]reducer{
	state.ActionAddComponent:       reduceAddComponent,
	state.ActionUpdateComponent:    reduceUpdateComponent,
	state.ActionDeleteComponent:    reduceDeleteComponent,
	state.ActionMoveComponent:      reduceMoveComponent,
	state.ActionDuplicateComponent: reduceDuplicateComponent,
	state.ActionSelectComponent:    reduceSelectComponent,
	state.ActionDeselectComponent:  reduceDeselectComponent,
	state.ActionSelectAll:          reduceSelectAll,
	state.ActionClearSelection:     reduceClearSelection,
	state.ActionCreateProject:      reduceCreateProject,
	state.ActionOpenProject:        reduceOpenProject,
	state.ActionSaveProject:        reduceSaveProject,
	state.ActionCloseProject:       reduceCloseProject,
	state.ActionUpdateProjectMeta:  reduceUpdateProjectMeta,
	state.ActionResizePanel:        reduceResizePanel,
	state.ActionTogglePanel:        reduceTogglePanel,
	state.ActionChangeTheme:        reduceChangeTheme,
	state.ActionZoomCanvas:         reduceZoomCanvas,
	state.ActionPanCanvas:          reducePanCanvas,
	state.ActionToggleGrid:         reduceToggleGrid,
	state.ActionToggleGuides:       reduceToggleGuides,
}

// maxRecentProjects bounds the recent-projects list.
const maxRecentProjects = 10

func reduceAddComponent(app *state.AppState, action *state.Action) error {
	payload, err := state.DecodePayload[state.AddComponentPayload](action)
	if err != nil {
		return err
	}
	if err := app.Components.AddComponent(payload.Component, payload.ParentID); err != nil {
		return err
	}
	app.HasUnsavedChanges = true
	return nil
}

func reduceUpdateComponent(app *state.AppState, action *state.Action) error {
	payload, err := state.DecodePayload[state.UpdateComponentPayload](action)
	if err != nil {
		return err
	}
	if err := app.Components.UpdateComponent(payload.ComponentID, payload.Updates); err != nil {
		return err
	}
	app.HasUnsavedChanges = true
	return nil
}

func reduceDeleteComponent(app *state.AppState, action *state.Action) error {
	payload, err := state.DecodePayload[state.DeleteComponentPayload](action)
	if err != nil {
		return err
	}
	app.Components.RemoveComponent(payload.ComponentID)
	app.Selection.Remove(payload.ComponentID)
	app.HasUnsavedChanges = true
	return nil
}

func reduceMoveComponent(app *state.AppState, action *state.Action) error {
	payload, err := state.DecodePayload[state.MoveComponentPayload](action)
	if err != nil {
		return err
	}
	return moveComponentTo(app, payload.ComponentID, payload.X, payload.Y)
}

func moveComponentTo(app *state.AppState, id string, x, y float64) error {
	record := app.Components.Component(id)
	if record == nil {
		return fmt.Errorf("component %q does not exist", id)
	}
	style := mergedStyle(record, map[string]any{"left": x, "top": y})
	if err := app.Components.UpdateComponent(id, map[string]any{"style": style}); err != nil {
		return err
	}
	app.HasUnsavedChanges = true
	return nil
}

func reduceDuplicateComponent(app *state.AppState, action *state.Action) error {
	payload, err := state.DecodePayload[state.DuplicateComponentPayload](action)
	if err != nil {
		return err
	}
	original := app.Components.Component(payload.ComponentID)
	if original == nil {
		return fmt.Errorf("component %q does not exist", payload.ComponentID)
	}

	clone := deepCopyMap(original)
	clone["id"] = payload.NewID
	style, _ := clone["style"].(map[string]any)
	if style == nil {
		style = make(map[string]any)
	}
	style["left"] = styleNumber(style["left"]) + payload.OffsetX
	style["top"] = styleNumber(style["top"]) + payload.OffsetY
	clone["style"] = style

	parentID := app.Components.ParentMap[payload.ComponentID]
	if err := app.Components.AddComponent(clone, parentID); err != nil {
		return err
	}
	app.HasUnsavedChanges = true
	return nil
}

func reduceSelectComponent(app *state.AppState, action *state.Action) error {
	payload, err := state.DecodePayload[state.SelectComponentPayload](action)
	if err != nil {
		return err
	}
	if !payload.Additive {
		app.Selection.Clear()
	}
	app.Selection.Add(payload.ComponentID)
	app.HasUnsavedChanges = true
	return nil
}

func reduceDeselectComponent(app *state.AppState, action *state.Action) error {
	payload, err := state.DecodePayload[state.DeselectComponentPayload](action)
	if err != nil {
		return err
	}
	app.Selection.Remove(payload.ComponentID)
	app.HasUnsavedChanges = true
	return nil
}

func reduceSelectAll(app *state.AppState, _ *state.Action) error {
	ids := make([]string, 0, len(app.Components.ComponentMap))
	for id := range app.Components.ComponentMap {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	app.Selection.Clear()
	for _, id := range ids {
		app.Selection.Add(id)
	}
	app.HasUnsavedChanges = true
	return nil
}

func reduceClearSelection(app *state.AppState, _ *state.Action) error {
	app.Selection.Clear()
	app.HasUnsavedChanges = true
	return nil
}

func reduceCreateProject(app *state.AppState, action *state.Action) error {
	payload, err := state.DecodePayload[state.CreateProjectPayload](action)
	if err != nil {
		return err
	}
	app.Project = state.ProjectState{
		ID:   uuid.NewString(),
		Name: payload.Name,
		Path: payload.Path,
		Meta: make(map[string]any),
		Open: true,
	}
	app.Components = state.NewComponentTreeState()
	app.Selection.Clear()
	app.Canvas.Zoom = 1.0
	app.Canvas.PanX = 0
	app.Canvas.PanY = 0
	app.HasUnsavedChanges = true
	return nil
}

func reduceOpenProject(app *state.AppState, action *state.Action) error {
	payload, err := state.DecodePayload[state.OpenProjectPayload](action)
	if err != nil {
		return err
	}
	name := payload.Name
	if name == "" {
		name = payload.Path
	}
	app.Project = state.ProjectState{
		ID:   uuid.NewString(),
		Name: name,
		Path: payload.Path,
		Meta: make(map[string]any),
		Open: true,
	}
	app.RecentProjects = prependRecent(app.RecentProjects, payload.Path)
	app.IsLoading = false
	app.HasUnsavedChanges = true
	return nil
}

func reduceSaveProject(app *state.AppState, _ *state.Action) error {
	app.HasUnsavedChanges = false
	app.LastSaved = time.Now().UnixMilli()
	return nil
}

func reduceCloseProject(app *state.AppState, _ *state.Action) error {
	app.Project = state.ProjectState{}
	app.Components = state.NewComponentTreeState()
	app.Selection.Clear()
	app.HasUnsavedChanges = false
	return nil
}

func reduceUpdateProjectMeta(app *state.AppState, action *state.Action) error {
	payload, err := state.DecodePayload[state.UpdateProjectMetaPayload](action)
	if err != nil {
		return err
	}
	if app.Project.Meta == nil {
		app.Project.Meta = make(map[string]any)
	}
	for k, v := range payload.Meta {
		app.Project.Meta[k] = v
	}
	app.HasUnsavedChanges = true
	return nil
}

func reduceResizePanel(app *state.AppState, action *state.Action) error {
	payload, err := state.DecodePayload[state.ResizePanelPayload](action)
	if err != nil {
		return err
	}
	panel, ok := app.Panels[payload.Panel]
	if !ok {
		return fmt.Errorf("panel %q does not exist", payload.Panel)
	}
	panel.Width = payload.Width
	app.HasUnsavedChanges = true
	return nil
}

func reduceTogglePanel(app *state.AppState, action *state.Action) error {
	payload, err := state.DecodePayload[state.TogglePanelPayload](action)
	if err != nil {
		return err
	}
	panel, ok := app.Panels[payload.Panel]
	if !ok {
		return fmt.Errorf("panel %q does not exist", payload.Panel)
	}
	panel.Visible = !panel.Visible
	app.HasUnsavedChanges = true
	return nil
}

func reduceChangeTheme(app *state.AppState, action *state.Action) error {
	payload, err := state.DecodePayload[state.ChangeThemePayload](action)
	if err != nil {
		return err
	}
	app.Theme.Name = payload.Theme
	app.Theme.DarkMode = payload.DarkMode
	app.HasUnsavedChanges = true
	return nil
}

func reduceZoomCanvas(app *state.AppState, action *state.Action) error {
	payload, err := state.DecodePayload[state.ZoomCanvasPayload](action)
	if err != nil {
		return err
	}
	app.Canvas.Zoom += payload.Delta
	app.HasUnsavedChanges = true
	return nil
}

func reducePanCanvas(app *state.AppState, action *state.Action) error {
	payload, err := state.DecodePayload[state.PanCanvasPayload](action)
	if err != nil {
		return err
	}
	app.Canvas.PanX += payload.DeltaX
	app.Canvas.PanY += payload.DeltaY
	app.HasUnsavedChanges = true
	return nil
}

func reduceToggleGrid(app *state.AppState, _ *state.Action) error {
	app.Canvas.ShowGrid = !app.Canvas.ShowGrid
	app.HasUnsavedChanges = true
	return nil
}

func reduceToggleGuides(app *state.AppState, _ *state.Action) error {
	app.Canvas.ShowGuides = !app.Canvas.ShowGuides
	app.HasUnsavedChanges = true
	return nil
}

func prependRecent(recent []string, path string) []string {
	out := make([]string, 0, len(recent)+1)
	out = append(out, path)
	for _, p := range recent {
		if p != path {
			out = append(out, p)
		}
	}
	if len(out) > maxRecentProjects {
		out = out[:maxRecentProjects]
	}
	return out
}

// mergedStyle copies the record's style map and overlays updates.
func mergedStyle(record map[string]any, updates map[string]any) map[string]any {
	style := make(map[string]any)
	if existing, ok := record["style"].(map[string]any); ok {
		for k, v := range existing {
			style[k] = v
		}
	}
	for k, v := range updates {
		style[k] = v
	}
	return style
}

func styleNumber(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}

func deepCopyMap(src map[string]any) map[string]any {
	out := make(map[string]any, len(src))
	for k, v := range src {
		switch val := v.(type) {
		case map[string]any:
			out[k] = deepCopyMap(val)
		case []any:
			list := make([]any, len(val))
			copy(list, val)
			out[k] = list
		default:
			out[k] = v
		}
	}
	return out
}
