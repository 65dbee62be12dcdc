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
)

// Snapshot is a point-in-time deep copy of AppState in document form.
//
// Snapshots are what external readers, the diff engine, the history log,
// and the persistence layer see. The JSON field tags on AppState define
// the canonical dot-path namespace used by Change paths and subscriber
// registrations.
type Snapshot = map[string]any

// AppState is the single source of truth for the application.
//
// # Description
//
// AppState is always a complete, self-consistent value; no partial update
// is observable outside a dispatch cycle. The canonical instance is
// exclusively owned by the store and mutated only by its dispatch worker.
// Everyone else sees deep-copied snapshots or change notifications.
type AppState struct {
	Window            WindowState         `json:"window"`
	Panels            map[string]*Panel   `json:"panels"`
	Theme             ThemeState          `json:"theme"`
	Components        *ComponentTreeState `json:"components"`
	Selection         *SelectionState     `json:"selection"`
	Canvas            CanvasState         `json:"canvas"`
	Clipboard         ClipboardState      `json:"clipboard"`
	Project           ProjectState        `json:"project"`
	Preferences       map[string]any      `json:"preferences"`
	RecentProjects    []string            `json:"recent_projects"`
	IsLoading         bool                `json:"is_loading"`
	HasUnsavedChanges bool                `json:"has_unsaved_changes"`
	// LastSaved is a unix millisecond timestamp, zero if never saved.
	LastSaved int64 `json:"last_saved"`
}

// WindowState describes the top-level application window.
type WindowState struct {
	Width     float64 `json:"width"`
	Height    float64 `json:"height"`
	Title     string  `json:"title"`
	Maximized bool    `json:"maximized"`
}

// Panel describes one dockable panel.
type Panel struct {
	Width   float64 `json:"width"`
	Visible bool    `json:"visible"`
}

// ThemeState holds the active visual theme.
type ThemeState struct {
	Name     string `json:"name"`
	DarkMode bool   `json:"dark_mode"`
}

// CanvasState holds the viewport of the design canvas.
type CanvasState struct {
	Zoom       float64 `json:"zoom"`
	PanX       float64 `json:"pan_x"`
	PanY       float64 `json:"pan_y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	ShowGrid   bool    `json:"show_grid"`
	ShowGuides bool    `json:"show_guides"`
}

// ClipboardState holds components captured by copy/cut.
type ClipboardState struct {
	Components []map[string]any `json:"components"`
	Operation  string           `json:"operation"`
}

// ProjectState holds metadata about the open project.
type ProjectState struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Path string         `json:"path"`
	Meta map[string]any `json:"meta"`
	Open bool           `json:"open"`
}

// SelectionState tracks the selected component set.
//
// Selection ids are expected to reference live components; a dangling id
// is a detectable integrity finding (audited by the integrity middleware),
// never a crash.
type SelectionState struct {
	// SelectedIDs is an ordered set: insertion order, no duplicates.
	SelectedIDs  []string `json:"selected_ids"`
	LastSelected string   `json:"last_selected"`
}

// Contains reports whether id is selected.
func (s *SelectionState) Contains(id string) bool {
	for _, existing := range s.SelectedIDs {
		if existing == id {
			return true
		}
	}
	return false
}

// Add appends id to the selection if not already present and marks it as
// the last selected component.
func (s *SelectionState) Add(id string) {
	if !s.Contains(id) {
		s.SelectedIDs = append(s.SelectedIDs, id)
	}
	s.LastSelected = id
}

// Remove drops id from the selection, clearing LastSelected if it pointed
// at the removed id.
func (s *SelectionState) Remove(id string) {
	for i, existing := range s.SelectedIDs {
		if existing == id {
			s.SelectedIDs = append(s.SelectedIDs[:i], s.SelectedIDs[i+1:]...)
			break
		}
	}
	if s.LastSelected == id {
		s.LastSelected = ""
	}
}

// Clear empties the selection.
func (s *SelectionState) Clear() {
	s.SelectedIDs = nil
	s.LastSelected = ""
}

// NewAppState returns a complete default state for an empty session.
func NewAppState() *AppState {
	return &AppState{
		Window: WindowState{Width: 1280, Height: 800, Title: "Untitled"},
		Panels: map[string]*Panel{
			"left":  {Width: 240, Visible: true},
			"right": {Width: 300, Visible: true},
		},
		Theme:          ThemeState{Name: "light"},
		Components:     NewComponentTreeState(),
		Selection:      &SelectionState{},
		Canvas:         CanvasState{Zoom: 1.0, Width: 1920, Height: 1080, ShowGrid: true},
		Preferences:    make(map[string]any),
		RecentProjects: nil,
	}
}

// TakeSnapshot deep-copies the state into document form via a JSON
// round-trip.
//
// This is the deep-copy-on-every-dispatch correctness baseline: simple,
// safe, and the dominant cost driver. Numeric values in the resulting
// document are float64 per JSON semantics, which keeps diff comparisons
// between any two snapshots consistent.
func (s *AppState) TakeSnapshot() (Snapshot, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	var doc Snapshot
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal state snapshot: %w", err)
	}
	return doc, nil
}

// FromSnapshot rehydrates a typed AppState from document form.
//
// The component tree's spatial index is not serialized; it is rebuilt
// lazily by the tree on first use.
func FromSnapshot(doc Snapshot) (*AppState, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	restored := &AppState{}
	if err := json.Unmarshal(raw, restored); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if restored.Components == nil {
		restored.Components = NewComponentTreeState()
	}
	if restored.Selection == nil {
		restored.Selection = &SelectionState{}
	}
	if restored.Preferences == nil {
		restored.Preferences = make(map[string]any)
	}
	restored.Components.invalidateIndex()
	return restored, nil
}

// CloneSnapshot deep-copies a snapshot document.
func CloneSnapshot(doc Snapshot) (Snapshot, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	var clone Snapshot
	if err := json.Unmarshal(raw, &clone); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return clone, nil
}

// EstimateSize returns the serialized byte size of a snapshot document,
// used by the history manager for memory accounting.
func EstimateSize(v any) int {
	raw, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return len(raw)
}
