// Copyright (C) 2026 PolycarpusTack
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PolycarpusTack/canvasstate/pkg/state"
)

// TestDiffKinds verifies create, delete, and update changes with
// recursion into nested maps.
func TestDiffKinds(t *testing.T) {
	oldDoc := state.Snapshot{
		"canvas": map[string]any{"zoom": 1.0, "pan_x": 0.0},
		"theme":  map[string]any{"name": "light"},
		"gone":   "bye",
	}
	newDoc := state.Snapshot{
		"canvas": map[string]any{"zoom": 1.5, "pan_x": 0.0},
		"theme":  map[string]any{"name": "light"},
		"added":  map[string]any{"x": 1.0},
	}

	changes := DiffSnapshots(oldDoc, newDoc)
	require.Len(t, changes, 3)

	// Sorted key order: added, canvas.zoom, gone.
	assert.Equal(t, "added", changes[0].Path)
	assert.Equal(t, state.ChangeCreate, changes[0].Kind)

	assert.Equal(t, "canvas.zoom", changes[1].Path)
	assert.Equal(t, state.ChangeUpdate, changes[1].Kind)
	assert.Equal(t, 1.0, changes[1].OldValue)
	assert.Equal(t, 1.5, changes[1].NewValue)

	assert.Equal(t, "gone", changes[2].Path)
	assert.Equal(t, state.ChangeDelete, changes[2].Kind)
	assert.Equal(t, "bye", changes[2].OldValue)
}

// TestDiffIdentical verifies equal documents produce no changes.
func TestDiffIdentical(t *testing.T) {
	doc := state.Snapshot{"a": map[string]any{"b": []any{1.0, 2.0}}}
	clone, err := state.CloneSnapshot(doc)
	require.NoError(t, err)
	assert.Empty(t, DiffSnapshots(doc, clone))
}

// TestDiffLists verifies equal-length lists recurse by index while a
// length change collapses to a single update.
func TestDiffLists(t *testing.T) {
	t.Run("same length recurses", func(t *testing.T) {
		oldDoc := state.Snapshot{"items": []any{map[string]any{"v": 1.0}, map[string]any{"v": 2.0}}}
		newDoc := state.Snapshot{"items": []any{map[string]any{"v": 1.0}, map[string]any{"v": 9.0}}}

		changes := DiffSnapshots(oldDoc, newDoc)
		require.Len(t, changes, 1)
		assert.Equal(t, "items.1.v", changes[0].Path)
		assert.Equal(t, state.ChangeUpdate, changes[0].Kind)
	})

	t.Run("length change is one update", func(t *testing.T) {
		oldDoc := state.Snapshot{"items": []any{1.0}}
		newDoc := state.Snapshot{"items": []any{1.0, 2.0}}

		changes := DiffSnapshots(oldDoc, newDoc)
		require.Len(t, changes, 1)
		assert.Equal(t, "items", changes[0].Path)
		assert.Equal(t, state.ChangeUpdate, changes[0].Kind)
	})
}

// TestDiffTypeMismatch verifies a map-to-scalar divergence stops
// recursion with a single update.
func TestDiffTypeMismatch(t *testing.T) {
	oldDoc := state.Snapshot{"node": map[string]any{"x": 1.0}}
	newDoc := state.Snapshot{"node": "flattened"}

	changes := DiffSnapshots(oldDoc, newDoc)
	require.Len(t, changes, 1)
	assert.Equal(t, "node", changes[0].Path)
	assert.Equal(t, state.ChangeUpdate, changes[0].Kind)
}

// TestDiffRoundTrip verifies the fundamental diff law: applying the
// changes to the old document reproduces the new one, and applying the
// inverses to the new document reproduces the old one.
func TestDiffRoundTrip(t *testing.T) {
	oldApp := state.NewAppState()
	require.NoError(t, oldApp.Components.AddComponent(map[string]any{
		"id": "btn1", "style": map[string]any{"left": 10, "top": 20},
	}, ""))
	oldDoc, err := oldApp.TakeSnapshot()
	require.NoError(t, err)

	newApp, err := state.FromSnapshot(oldDoc)
	require.NoError(t, err)
	require.NoError(t, newApp.Components.AddComponent(map[string]any{"id": "btn2"}, "btn1"))
	require.NoError(t, newApp.Components.UpdateComponent("btn1", map[string]any{"label": "Go"}))
	newApp.Selection.Add("btn2")
	newApp.Canvas.Zoom = 2.5
	newApp.HasUnsavedChanges = true
	newDoc, err := newApp.TakeSnapshot()
	require.NoError(t, err)

	changes := DiffSnapshots(oldDoc, newDoc)
	require.NotEmpty(t, changes)

	forward, err := state.CloneSnapshot(oldDoc)
	require.NoError(t, err)
	ApplyChanges(forward, changes)
	assert.Equal(t, map[string]any(newDoc), map[string]any(forward))

	backward, err := state.CloneSnapshot(newDoc)
	require.NoError(t, err)
	ApplyChanges(backward, state.InverseChanges(changes))
	assert.Equal(t, map[string]any(oldDoc), map[string]any(backward))
}

// TestPathMatches verifies ancestor-prefix subscription matching.
func TestPathMatches(t *testing.T) {
	tests := []struct {
		sub    string
		change string
		want   bool
	}{
		{"", "anything.at.all", true},
		{"components", "components", true},
		{"components", "components.component_map.btn1.style", true},
		{"components.component_map", "components.component_map.btn1", true},
		{"canvas.zoom", "canvas.zoom", true},
		{"canvas.zoom", "canvas", false},
		{"canvas", "canvasstate", false},
		{"theme", "canvas.zoom", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, pathMatches(tt.sub, tt.change),
			"sub=%q change=%q", tt.sub, tt.change)
	}
}
