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

	"github.com/PolycarpusTack/canvasstate/pkg/state"
	"github.com/PolycarpusTack/canvasstate/pkg/validation"
)

// Semantic limits enforced against current state.
const (
	MinPanelWidth = 50.0
	MaxPanelWidth = 1000.0
	MinZoom       = 0.1
	MaxZoom       = 5.0
)

// Validation performs per-type semantic checks against the current
// snapshot. Structural payload shape is already guaranteed by
// Action.Validate at dispatch time; this middleware checks what only
// current state can answer: duplicate ids, unknown parents, nesting
// depth, panel and zoom limits.
//
// A violation cancels the action.
type Validation struct {
	logger *slog.Logger
}

// NewValidation builds the middleware.
func NewValidation(logger *slog.Logger) *Validation {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Validation{logger: logger}
}

// Name implements Middleware.
func (v *Validation) Name() string { return "validation" }

// BeforeAction runs the per-type semantic check.
func (v *Validation) BeforeAction(_ context.Context, action *state.Action, snapshot state.Snapshot) Decision {
	var err error
	switch action.Type {
	case state.ActionAddComponent:
		err = v.checkAdd(action, snapshot)
	case state.ActionUpdateComponent:
		err = v.checkComponentExists(action, snapshot, func(a *state.Action) (string, error) {
			p, derr := state.DecodePayload[state.UpdateComponentPayload](a)
			return p.ComponentID, derr
		})
	case state.ActionDeleteComponent:
		err = v.checkComponentExists(action, snapshot, func(a *state.Action) (string, error) {
			p, derr := state.DecodePayload[state.DeleteComponentPayload](a)
			return p.ComponentID, derr
		})
	case state.ActionMoveComponent:
		err = v.checkComponentExists(action, snapshot, func(a *state.Action) (string, error) {
			p, derr := state.DecodePayload[state.MoveComponentPayload](a)
			return p.ComponentID, derr
		})
	case state.ActionDuplicateComponent:
		err = v.checkDuplicate(action, snapshot)
	case state.ActionSelectComponent:
		err = v.checkComponentExists(action, snapshot, func(a *state.Action) (string, error) {
			p, derr := state.DecodePayload[state.SelectComponentPayload](a)
			return p.ComponentID, derr
		})
	case state.ActionDeselectComponent:
		err = v.checkComponentExists(action, snapshot, func(a *state.Action) (string, error) {
			p, derr := state.DecodePayload[state.DeselectComponentPayload](a)
			return p.ComponentID, derr
		})
	case state.ActionResizePanel:
		err = v.checkResizePanel(action, snapshot)
	case state.ActionTogglePanel:
		err = v.checkTogglePanel(action, snapshot)
	case state.ActionZoomCanvas:
		err = v.checkZoom(action, snapshot)
	}

	if err != nil {
		v.logger.Warn("semantic validation failed",
			slog.String("action_type", string(action.Type)),
			slog.String("action_id", action.ID),
			slog.String("reason", err.Error()))
		return Cancelled(err.Error())
	}
	return Proceed()
}

// AfterAction implements Middleware. Validation is before-only.
func (v *Validation) AfterAction(context.Context, *state.Action, state.Snapshot, []state.Change) {}

func (v *Validation) checkAdd(action *state.Action, snapshot state.Snapshot) error {
	payload, err := state.DecodePayload[state.AddComponentPayload](action)
	if err != nil {
		return err
	}
	id, _ := payload.Component["id"].(string)
	if err := validation.ValidateComponentID(id); err != nil {
		return err
	}
	components := componentMap(snapshot)
	if _, exists := components[id]; exists {
		return fmt.Errorf("component %q already exists", id)
	}
	if payload.ParentID != "" {
		if _, ok := components[payload.ParentID]; !ok {
			return fmt.Errorf("parent component %q does not exist", payload.ParentID)
		}
		if depthOf(payload.ParentID, parentMap(snapshot))+1 >= state.MaxNestingDepth {
			return fmt.Errorf("component nesting exceeds maximum depth %d", state.MaxNestingDepth)
		}
	}
	return nil
}

func (v *Validation) checkDuplicate(action *state.Action, snapshot state.Snapshot) error {
	payload, err := state.DecodePayload[state.DuplicateComponentPayload](action)
	if err != nil {
		return err
	}
	if err := validation.ValidateComponentID(payload.NewID); err != nil {
		return err
	}
	components := componentMap(snapshot)
	if _, ok := components[payload.ComponentID]; !ok {
		return fmt.Errorf("component %q does not exist", payload.ComponentID)
	}
	if _, exists := components[payload.NewID]; exists {
		return fmt.Errorf("component %q already exists", payload.NewID)
	}
	return nil
}

func (v *Validation) checkComponentExists(action *state.Action, snapshot state.Snapshot, extract func(*state.Action) (string, error)) error {
	id, err := extract(action)
	if err != nil {
		return err
	}
	if _, ok := componentMap(snapshot)[id]; !ok {
		return fmt.Errorf("component %q does not exist", id)
	}
	return nil
}

func (v *Validation) checkResizePanel(action *state.Action, snapshot state.Snapshot) error {
	payload, err := state.DecodePayload[state.ResizePanelPayload](action)
	if err != nil {
		return err
	}
	if _, ok := state.GetAtPath(snapshot, "panels."+payload.Panel); !ok {
		return fmt.Errorf("panel %q does not exist", payload.Panel)
	}
	if payload.Width < MinPanelWidth || payload.Width > MaxPanelWidth {
		return fmt.Errorf("panel width %.1f outside [%.0f, %.0f]",
			payload.Width, MinPanelWidth, MaxPanelWidth)
	}
	return nil
}

func (v *Validation) checkTogglePanel(action *state.Action, snapshot state.Snapshot) error {
	payload, err := state.DecodePayload[state.TogglePanelPayload](action)
	if err != nil {
		return err
	}
	if _, ok := state.GetAtPath(snapshot, "panels."+payload.Panel); !ok {
		return fmt.Errorf("panel %q does not exist", payload.Panel)
	}
	return nil
}

func (v *Validation) checkZoom(action *state.Action, snapshot state.Snapshot) error {
	payload, err := state.DecodePayload[state.ZoomCanvasPayload](action)
	if err != nil {
		return err
	}
	current := 1.0
	if raw, ok := state.GetAtPath(snapshot, "canvas.zoom"); ok {
		if z, ok := raw.(float64); ok {
			current = z
		}
	}
	result := current + payload.Delta
	if result < MinZoom || result > MaxZoom {
		return fmt.Errorf("resulting zoom %.2f outside [%.1f, %.1f]", result, MinZoom, MaxZoom)
	}
	return nil
}

// depthOf walks the parent relation upward. The walk is bounded so a
// corrupted cyclic relation cannot loop forever.
func depthOf(id string, parents map[string]any) int {
	depth := 0
	for current := id; depth <= state.MaxNestingDepth; depth++ {
		parent, ok := parents[current].(string)
		if !ok || parent == "" {
			break
		}
		current = parent
	}
	return depth
}
