// Copyright (C) 2026 PolycarpusTack
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package state

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/PolycarpusTack/canvasstate/pkg/geometry"
)

// MaxNestingDepth bounds the component parent chain, enforced during add.
const MaxNestingDepth = 10

// Default bounds for components whose style omits geometry.
const (
	defaultComponentWidth  = 100.0
	defaultComponentHeight = 50.0
)

// ComponentTreeState is the hierarchical entity store for canvas
// components.
//
// # Description
//
// Components are stored flat in ComponentMap with O(1) id lookup;
// hierarchy is expressed through ParentMap and the ordered RootComponents
// list. The tree owns one SpatialIndex, built lazily and kept in
// lock-step: every add, update, and remove performs the mirrored index
// operation.
//
// Invariants (audited by the integrity middleware):
//   - every id in RootComponents exists in ComponentMap and has no
//     ParentMap entry
//   - every ParentMap value exists as a ComponentMap key
//   - parent chains terminate within MaxNestingDepth
//
// # Thread Safety
//
// Not safe for concurrent use. The canonical instance is only mutated by
// the store's dispatch worker.
type ComponentTreeState struct {
	RootComponents  []string                  `json:"root_components"`
	ComponentMap    map[string]map[string]any `json:"component_map"`
	ParentMap       map[string]string         `json:"parent_map"`
	DirtyComponents map[string]bool           `json:"dirty_components"`

	index *geometry.SpatialIndex
}

// NewComponentTreeState returns an empty tree.
func NewComponentTreeState() *ComponentTreeState {
	return &ComponentTreeState{
		ComponentMap:    make(map[string]map[string]any),
		ParentMap:       make(map[string]string),
		DirtyComponents: make(map[string]bool),
	}
}

// AddComponent stores a new component record, optionally under a parent.
//
// # Description
//
// Fails if data carries no "id", the id already exists, the parent is
// unknown, or attaching under parentID would exceed MaxNestingDepth.
// On success the component is recorded, marked dirty, and inserted into
// the spatial index with bounds derived from its style fields.
//
// # Inputs
//
//   - data: Component record. Must contain a non-empty string "id".
//   - parentID: Optional parent id. Empty string adds a root component.
func (t *ComponentTreeState) AddComponent(data map[string]any, parentID string) error {
	id, ok := componentID(data)
	if !ok {
		return fmt.Errorf("component data is missing an id")
	}
	if _, exists := t.ComponentMap[id]; exists {
		return fmt.Errorf("component %q already exists", id)
	}
	if parentID != "" {
		if _, exists := t.ComponentMap[parentID]; !exists {
			return fmt.Errorf("parent component %q does not exist", parentID)
		}
		if t.Depth(parentID)+1 >= MaxNestingDepth {
			return fmt.Errorf("component %q would exceed max nesting depth %d", id, MaxNestingDepth)
		}
	}

	t.ComponentMap[id] = data
	if parentID != "" {
		t.ParentMap[id] = parentID
	} else {
		t.RootComponents = append(t.RootComponents, id)
	}
	t.DirtyComponents[id] = true
	t.ensureIndex().Insert(id, DeriveBounds(data))
	return nil
}

// UpdateComponent shallow-merges updates into an existing record.
//
// Re-deriving bounds and re-inserting into the spatial index makes the
// operation idempotent: applying the same update twice is safe.
func (t *ComponentTreeState) UpdateComponent(id string, updates map[string]any) error {
	record, exists := t.ComponentMap[id]
	if !exists {
		return fmt.Errorf("component %q does not exist", id)
	}
	for key, value := range updates {
		if key == "id" {
			// Identity is immutable once stored.
			continue
		}
		record[key] = value
	}
	t.DirtyComponents[id] = true
	t.ensureIndex().Insert(id, DeriveBounds(record))
	return nil
}

// RemoveComponent deletes a component. Removing an unknown id is a no-op,
// not an error.
//
// Order matters: the spatial index entry goes first, then the hierarchy
// attachment, then the record itself.
func (t *ComponentTreeState) RemoveComponent(id string) {
	if _, exists := t.ComponentMap[id]; !exists {
		return
	}
	t.ensureIndex().Remove(id)

	if _, hasParent := t.ParentMap[id]; hasParent {
		delete(t.ParentMap, id)
	} else {
		for i, rootID := range t.RootComponents {
			if rootID == id {
				t.RootComponents = append(t.RootComponents[:i], t.RootComponents[i+1:]...)
				break
			}
		}
	}
	delete(t.ComponentMap, id)
	delete(t.DirtyComponents, id)
}

// Component returns the record for id, or nil when unknown.
func (t *ComponentTreeState) Component(id string) map[string]any {
	return t.ComponentMap[id]
}

// Children returns the ids whose parent is id, in ComponentMap iteration
// order (callers needing stable order should sort).
func (t *ComponentTreeState) Children(id string) []string {
	var children []string
	for child, parent := range t.ParentMap {
		if parent == id {
			children = append(children, child)
		}
	}
	return children
}

// Depth returns the number of ancestors above id. A root has depth 0,
// an unknown id depth 0. The walk is bounded so a corrupted parent cycle
// cannot hang the caller.
func (t *ComponentTreeState) Depth(id string) int {
	depth := 0
	current := id
	for depth <= MaxNestingDepth {
		parent, ok := t.ParentMap[current]
		if !ok {
			return depth
		}
		current = parent
		depth++
	}
	return depth
}

// ClearDirty resets the dirty set after a consumer-visible sync.
func (t *ComponentTreeState) ClearDirty() {
	t.DirtyComponents = make(map[string]bool)
}

// ComponentsAtPoint returns ids of components containing the point.
//
// Delegates to the owned spatial index when available; otherwise a
// linear scan over ComponentMap produces the same result set.
func (t *ComponentTreeState) ComponentsAtPoint(x, y float64) []string {
	if t.index != nil {
		return t.index.QueryPoint(x, y)
	}
	var matches []string
	for id, record := range t.ComponentMap {
		if DeriveBounds(record).ContainsPoint(x, y) {
			matches = append(matches, id)
		}
	}
	return matches
}

// ComponentsInRegion returns ids of components intersecting region.
func (t *ComponentTreeState) ComponentsInRegion(region geometry.BoundingBox) []string {
	if t.index != nil {
		return t.index.QueryRegion(region)
	}
	var matches []string
	for id, record := range t.ComponentMap {
		if DeriveBounds(record).Intersects(region) {
			matches = append(matches, id)
		}
	}
	return matches
}

// ComponentsInSelectionBox returns ids matching a rubber-band selection.
func (t *ComponentTreeState) ComponentsInSelectionBox(box geometry.BoundingBox, fullyContained bool) []string {
	return t.ensureIndex().QuerySelectionBox(box, fullyContained)
}

// NearestComponents returns up to limit components whose centers lie
// within maxDistance of the point, nearest first.
func (t *ComponentTreeState) NearestComponents(x, y, maxDistance float64, limit int) []geometry.Candidate {
	return t.ensureIndex().NearestComponents(x, y, maxDistance, limit)
}

// DetectOverlaps returns components overlapping id by at least
// thresholdArea.
func (t *ComponentTreeState) DetectOverlaps(id string, thresholdArea float64) []geometry.Overlap {
	return t.ensureIndex().DetectOverlaps(id, thresholdArea)
}

// Index exposes the owned spatial index, building it on first use.
func (t *ComponentTreeState) Index() *geometry.SpatialIndex {
	return t.ensureIndex()
}

// ensureIndex lazily builds the spatial index from the component map.
func (t *ComponentTreeState) ensureIndex() *geometry.SpatialIndex {
	if t.index == nil {
		t.index = geometry.NewSpatialIndex(geometry.DefaultCellSize)
		for id, record := range t.ComponentMap {
			t.index.Insert(id, DeriveBounds(record))
		}
	}
	return t.index
}

// invalidateIndex drops the index so the next spatial operation rebuilds
// it from the component map. Called after snapshot rehydration.
func (t *ComponentTreeState) invalidateIndex() {
	t.index = nil
}

// DeriveBounds computes a component's bounding box from its style fields
// (left/top/width/height).
//
// Values are parsed permissively: numbers pass through, strings may carry
// a "px" suffix, anything non-numeric becomes 0. Missing width and height
// fall back to the 100x50 defaults.
func DeriveBounds(record map[string]any) geometry.BoundingBox {
	style, _ := record["style"].(map[string]any)
	return geometry.BoundingBox{
		X:      styleValue(style, "left", 0),
		Y:      styleValue(style, "top", 0),
		Width:  styleValue(style, "width", defaultComponentWidth),
		Height: styleValue(style, "height", defaultComponentHeight),
	}
}

func styleValue(style map[string]any, key string, fallback float64) float64 {
	if style == nil {
		return fallback
	}
	raw, ok := style[key]
	if !ok {
		return fallback
	}
	return parseCSSPixels(raw)
}

// parseCSSPixels converts a CSS-px style value to a float. Non-numeric
// input yields 0.
func parseCSSPixels(raw any) float64 {
	switch v := raw.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		trimmed := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(v), "px"))
		parsed, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}

func componentID(data map[string]any) (string, bool) {
	id, ok := data["id"].(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
