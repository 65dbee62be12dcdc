// Copyright (C) 2026 PolycarpusTack
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package state

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PolycarpusTack/canvasstate/pkg/geometry"
)

func component(id string, style map[string]any) map[string]any {
	c := map[string]any{"id": id, "type": "button"}
	if style != nil {
		c["style"] = style
	}
	return c
}

// TestAddComponentValidation verifies the add failure modes: missing id,
// duplicate id, unknown parent.
func TestAddComponentValidation(t *testing.T) {
	tree := NewComponentTreeState()

	assert.Error(t, tree.AddComponent(map[string]any{"type": "button"}, ""), "missing id")

	require.NoError(t, tree.AddComponent(component("a", nil), ""))
	assert.Error(t, tree.AddComponent(component("a", nil), ""), "duplicate id")
	assert.Error(t, tree.AddComponent(component("b", nil), "ghost"), "unknown parent")
}

// TestTreeInvariants verifies root/parent cross-references after a mixed
// sequence of adds and removes.
func TestTreeInvariants(t *testing.T) {
	tree := NewComponentTreeState()
	require.NoError(t, tree.AddComponent(component("root1", nil), ""))
	require.NoError(t, tree.AddComponent(component("root2", nil), ""))
	require.NoError(t, tree.AddComponent(component("child1", nil), "root1"))
	require.NoError(t, tree.AddComponent(component("child2", nil), "child1"))

	tree.RemoveComponent("root2")
	tree.RemoveComponent("child2")
	tree.RemoveComponent("never-existed") // no-op

	for _, rootID := range tree.RootComponents {
		_, exists := tree.ComponentMap[rootID]
		assert.True(t, exists, "root %s must exist in component map", rootID)
		_, hasParent := tree.ParentMap[rootID]
		assert.False(t, hasParent, "root %s must not have a parent", rootID)
	}
	for child, parent := range tree.ParentMap {
		_, exists := tree.ComponentMap[parent]
		assert.True(t, exists, "parent %s of %s must exist", parent, child)
	}
	assert.Len(t, tree.ComponentMap, 2)
}

// TestMaxNestingDepth verifies the depth-10 bound is enforced during add.
func TestMaxNestingDepth(t *testing.T) {
	tree := NewComponentTreeState()
	require.NoError(t, tree.AddComponent(component("c0", nil), ""))
	parent := "c0"
	var failedAt int
	for i := 1; i < MaxNestingDepth+2; i++ {
		id := fmt.Sprintf("c%d", i)
		if err := tree.AddComponent(component(id, nil), parent); err != nil {
			failedAt = i
			break
		}
		parent = id
	}
	require.NotZero(t, failedAt, "nesting must eventually be rejected")
	assert.Equal(t, MaxNestingDepth, failedAt)
}

// TestDeriveBounds verifies permissive CSS-px parsing and defaults.
func TestDeriveBounds(t *testing.T) {
	cases := []struct {
		name  string
		style map[string]any
		want  geometry.BoundingBox
	}{
		{"no style", nil, geometry.BoundingBox{X: 0, Y: 0, Width: 100, Height: 50}},
		{"numeric", map[string]any{"left": 10.0, "top": 20.0, "width": 30.0, "height": 40.0},
			geometry.BoundingBox{X: 10, Y: 20, Width: 30, Height: 40}},
		{"px strings", map[string]any{"left": "10px", "top": " 20 px", "width": "30px", "height": "40"},
			geometry.BoundingBox{X: 10, Y: 20, Width: 30, Height: 40}},
		{"non-numeric", map[string]any{"left": "auto", "top": []any{}, "width": "30px"},
			geometry.BoundingBox{X: 0, Y: 0, Width: 30, Height: 50}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DeriveBounds(component("x", tc.style)))
		})
	}
}

// TestSpatialIndexKeptInLockStep verifies every tree mutation mirrors
// into the owned spatial index.
func TestSpatialIndexKeptInLockStep(t *testing.T) {
	tree := NewComponentTreeState()
	require.NoError(t, tree.AddComponent(component("a", map[string]any{"left": 0.0, "top": 0.0, "width": 50.0, "height": 50.0}), ""))

	assert.Equal(t, []string{"a"}, tree.ComponentsAtPoint(25, 25))

	require.NoError(t, tree.UpdateComponent("a", map[string]any{"style": map[string]any{"left": 500.0, "top": 500.0, "width": 50.0, "height": 50.0}}))
	assert.Empty(t, tree.ComponentsAtPoint(25, 25))
	assert.Equal(t, []string{"a"}, tree.ComponentsAtPoint(525, 525))

	tree.RemoveComponent("a")
	assert.Empty(t, tree.ComponentsAtPoint(525, 525))
	assert.Zero(t, tree.Index().Len())
}

// TestUpdateComponentIdempotent verifies calling the same update twice is
// safe and id is immutable.
func TestUpdateComponentIdempotent(t *testing.T) {
	tree := NewComponentTreeState()
	require.NoError(t, tree.AddComponent(component("a", nil), ""))

	updates := map[string]any{"label": "Go", "id": "evil"}
	require.NoError(t, tree.UpdateComponent("a", updates))
	require.NoError(t, tree.UpdateComponent("a", updates))

	record := tree.Component("a")
	assert.Equal(t, "Go", record["label"])
	assert.Equal(t, "a", record["id"])

	assert.Error(t, tree.UpdateComponent("ghost", updates))
}

// TestLinearFallbackMatchesIndex verifies the linear-scan fallback
// produces the same result set as the spatial index.
func TestLinearFallbackMatchesIndex(t *testing.T) {
	tree := NewComponentTreeState()
	for i := 0; i < 30; i++ {
		style := map[string]any{"left": float64(i * 40), "top": float64((i % 5) * 40), "width": 35.0, "height": 35.0}
		require.NoError(t, tree.AddComponent(component(fmt.Sprintf("c%d", i), style), ""))
	}

	region := geometry.BoundingBox{X: 100, Y: 0, Width: 300, Height: 200}
	withIndex := tree.ComponentsInRegion(region)
	pointWithIndex := tree.ComponentsAtPoint(120, 50)

	tree.invalidateIndex()
	assert.ElementsMatch(t, withIndex, tree.ComponentsInRegion(region))
	assert.ElementsMatch(t, pointWithIndex, tree.ComponentsAtPoint(120, 50))
}

// TestSnapshotRoundTripRebuildsIndex verifies rehydrated trees answer
// spatial queries identically after the lazy index rebuild.
func TestSnapshotRoundTripRebuildsIndex(t *testing.T) {
	app := NewAppState()
	require.NoError(t, app.Components.AddComponent(component("a", map[string]any{"left": 10.0, "top": 10.0}), ""))
	require.NoError(t, app.Components.AddComponent(component("b", nil), "a"))

	doc, err := app.TakeSnapshot()
	require.NoError(t, err)
	restored, err := FromSnapshot(doc)
	require.NoError(t, err)

	assert.Equal(t, app.Components.RootComponents, restored.Components.RootComponents)
	assert.Equal(t, "a", restored.Components.ParentMap["b"])
	assert.ElementsMatch(t, app.Components.ComponentsAtPoint(50, 30), restored.Components.ComponentsAtPoint(50, 30))
}
