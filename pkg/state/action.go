// Copyright (C) 2026 PolycarpusTack
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package state

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// ActionType enumerates the closed set of dispatchable action kinds.
type ActionType string

const (
	ActionAddComponent       ActionType = "add_component"
	ActionUpdateComponent    ActionType = "update_component"
	ActionDeleteComponent    ActionType = "delete_component"
	ActionMoveComponent      ActionType = "move_component"
	ActionDuplicateComponent ActionType = "duplicate_component"

	ActionSelectComponent   ActionType = "select_component"
	ActionDeselectComponent ActionType = "deselect_component"
	ActionSelectAll         ActionType = "select_all"
	ActionClearSelection    ActionType = "clear_selection"

	ActionCreateProject     ActionType = "create_project"
	ActionOpenProject       ActionType = "open_project"
	ActionSaveProject       ActionType = "save_project"
	ActionCloseProject      ActionType = "close_project"
	ActionUpdateProjectMeta ActionType = "update_project_meta"

	ActionResizePanel ActionType = "resize_panel"
	ActionTogglePanel ActionType = "toggle_panel"
	ActionChangeTheme ActionType = "change_theme"

	ActionZoomCanvas   ActionType = "zoom_canvas"
	ActionPanCanvas    ActionType = "pan_canvas"
	ActionToggleGrid   ActionType = "toggle_grid"
	ActionToggleGuides ActionType = "toggle_guides"

	// ActionUndo and ActionRedo are synthesized by the history manager
	// and carry pre-computed change lists instead of payloads.
	ActionUndo ActionType = "undo"
	ActionRedo ActionType = "redo"

	// ActionBatch marks the close of a batch group. The history manager
	// records it as the single undoable unit for the whole batch.
	ActionBatch ActionType = "batch"
)

// Action is an immutable description of an intended state change.
//
// Actions are constructed by the factory functions in this package (which
// auto-populate ID, Timestamp, and Description) and validated structurally
// before the store ever queues them.
type Action struct {
	ID          string         `json:"id"`
	Type        ActionType     `json:"type"`
	Timestamp   time.Time      `json:"timestamp"`
	Description string         `json:"description"`
	Payload     map[string]any `json:"payload,omitempty"`
	// Changes optionally carries a pre-computed change list. Undo/redo
	// actions use it to replay recorded deltas instead of a reducer.
	Changes  []Change       `json:"changes,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	UserID   string         `json:"user_id,omitempty"`
	BatchID  string         `json:"batch_id,omitempty"`
}

// InvalidActionError reports a structurally malformed action. It is
// returned synchronously from Dispatch, before queueing.
type InvalidActionError struct {
	ActionID string
	Type     ActionType
	Reason   string
}

func (e *InvalidActionError) Error() string {
	return fmt.Sprintf("invalid action %s (%s): %s", e.ActionID, e.Type, e.Reason)
}

// Validate checks the action's structure and its payload shape against
// the per-type validator table.
//
// # Description
//
// Required fields must be present and the payload must decode into the
// type's declared payload struct and pass its validation tags. Unknown
// action types pass trivially: validators check shape only and never
// touch state (semantic checks belong to the validation middleware).
func (a *Action) Validate() error {
	if a == nil {
		return &InvalidActionError{Reason: "action is nil"}
	}
	if a.ID == "" {
		return &InvalidActionError{Type: a.Type, Reason: "missing id"}
	}
	if a.Type == "" {
		return &InvalidActionError{ActionID: a.ID, Reason: "missing type"}
	}
	if a.Timestamp.IsZero() {
		return &InvalidActionError{ActionID: a.ID, Type: a.Type, Reason: "missing timestamp"}
	}
	check, ok := payloadValidators[a.Type]
	if !ok {
		return nil
	}
	if err := check(a.Payload); err != nil {
		return &InvalidActionError{ActionID: a.ID, Type: a.Type, Reason: err.Error()}
	}
	return nil
}

// =============================================================================
// Typed payloads
// =============================================================================

// AddComponentPayload carries a new component record.
type AddComponentPayload struct {
	Component map[string]any `json:"component" validate:"required"`
	ParentID  string         `json:"parent_id,omitempty"`
}

// UpdateComponentPayload carries a shallow property merge.
type UpdateComponentPayload struct {
	ComponentID string         `json:"component_id" validate:"required"`
	Updates     map[string]any `json:"updates" validate:"required"`
}

// DeleteComponentPayload identifies the component to remove.
type DeleteComponentPayload struct {
	ComponentID string `json:"component_id" validate:"required"`
}

// MoveComponentPayload repositions a component on the canvas.
type MoveComponentPayload struct {
	ComponentID string  `json:"component_id" validate:"required"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
}

// DuplicateComponentPayload clones a component under a new id.
type DuplicateComponentPayload struct {
	ComponentID string  `json:"component_id" validate:"required"`
	NewID       string  `json:"new_id" validate:"required"`
	OffsetX     float64 `json:"offset_x"`
	OffsetY     float64 `json:"offset_y"`
}

// SelectComponentPayload adds a component to the selection.
type SelectComponentPayload struct {
	ComponentID string `json:"component_id" validate:"required"`
	// Additive keeps the existing selection instead of replacing it.
	Additive bool `json:"additive"`
}

// DeselectComponentPayload removes a component from the selection.
type DeselectComponentPayload struct {
	ComponentID string `json:"component_id" validate:"required"`
}

// CreateProjectPayload starts a fresh project.
type CreateProjectPayload struct {
	Name string `json:"name" validate:"required"`
	Path string `json:"path,omitempty"`
}

// OpenProjectPayload opens an existing project.
type OpenProjectPayload struct {
	Path string `json:"path" validate:"required"`
	Name string `json:"name,omitempty"`
}

// UpdateProjectMetaPayload merges metadata into the open project.
type UpdateProjectMetaPayload struct {
	Meta map[string]any `json:"meta" validate:"required"`
}

// ResizePanelPayload resizes a dockable panel.
type ResizePanelPayload struct {
	Panel string  `json:"panel" validate:"required"`
	Width float64 `json:"width" validate:"required"`
}

// TogglePanelPayload flips a panel's visibility.
type TogglePanelPayload struct {
	Panel string `json:"panel" validate:"required"`
}

// ChangeThemePayload switches the visual theme.
type ChangeThemePayload struct {
	Theme    string `json:"theme" validate:"required"`
	DarkMode bool   `json:"dark_mode"`
}

// ZoomCanvasPayload adjusts the canvas zoom by a delta.
type ZoomCanvasPayload struct {
	Delta float64 `json:"delta"`
}

// PanCanvasPayload shifts the canvas viewport.
type PanCanvasPayload struct {
	DeltaX float64 `json:"delta_x"`
	DeltaY float64 `json:"delta_y"`
}

// =============================================================================
// Validator table
// =============================================================================

// validate is the shared validator instance behind the payload table.
var validate = validator.New(validator.WithRequiredStructEnabled())

// payloadValidators maps each action type to its structural payload
// check. The table is an explicit immutable lookup constructed at package
// init, not a mutable global registry; action types without an entry
// (pure toggles, undo/redo, batch markers) pass trivially.
var payloadValidators = map[ActionType]func(map[string]any) error{
	ActionAddComponent: func(p map[string]any) error {
		var payload AddComponentPayload
		if err := decodePayload(p, &payload); err != nil {
			return err
		}
		if _, ok := componentID(payload.Component); !ok {
			return fmt.Errorf("component payload is missing an id")
		}
		return nil
	},
	ActionUpdateComponent:    typedValidator[UpdateComponentPayload](),
	ActionDeleteComponent:    typedValidator[DeleteComponentPayload](),
	ActionMoveComponent:      typedValidator[MoveComponentPayload](),
	ActionDuplicateComponent: typedValidator[DuplicateComponentPayload](),
	ActionSelectComponent:    typedValidator[SelectComponentPayload](),
	ActionDeselectComponent:  typedValidator[DeselectComponentPayload](),
	ActionCreateProject:      typedValidator[CreateProjectPayload](),
	ActionOpenProject:        typedValidator[OpenProjectPayload](),
	ActionUpdateProjectMeta:  typedValidator[UpdateProjectMetaPayload](),
	ActionResizePanel:        typedValidator[ResizePanelPayload](),
	ActionTogglePanel:        typedValidator[TogglePanelPayload](),
	ActionChangeTheme:        typedValidator[ChangeThemePayload](),
	ActionZoomCanvas:         typedValidator[ZoomCanvasPayload](),
	ActionPanCanvas:          typedValidator[PanCanvasPayload](),
}

// typedValidator builds a payload check that decodes the untyped map into
// P and runs its validation tags.
func typedValidator[P any]() func(map[string]any) error {
	return func(p map[string]any) error {
		var payload P
		if err := decodePayload(p, &payload); err != nil {
			return err
		}
		if err := validate.Struct(&payload); err != nil {
			return fmt.Errorf("payload validation: %w", err)
		}
		return nil
	}
}

// decodePayload converts the untyped payload map into a typed struct.
func decodePayload(p map[string]any, out any) error {
	if p == nil {
		return fmt.Errorf("payload is required")
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// DecodePayload decodes an action's payload into a typed struct. Reducers
// and the validation middleware use it to read payload fields without
// scattering map lookups.
func DecodePayload[P any](a *Action) (P, error) {
	var payload P
	if err := decodePayload(a.Payload, &payload); err != nil {
		return payload, err
	}
	return payload, nil
}

// IsHistoryControl reports whether the action type is undo/redo traffic
// that must never itself be recorded in history.
func (t ActionType) IsHistoryControl() bool {
	return t == ActionUndo || t == ActionRedo
}
