// Copyright (C) 2026 PolycarpusTack
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package geometry

import (
	"math"
	"sort"
)

// DefaultCellSize is the default edge length of a grid cell, in canvas units.
const DefaultCellSize = 100.0

// CellKey identifies one grid cell.
type CellKey struct {
	X int
	Y int
}

// SpatialIndex is a grid-bucketed index over axis-aligned rectangles.
//
// # Description
//
// Every rectangle is registered in each grid cell its bounding box overlaps.
// Queries gather candidates from the relevant cells and re-check the exact
// geometric predicate, so results have zero false positives and zero false
// negatives regardless of cell size.
//
// Insert is the only mutation primitive: updating a rectangle is a full
// remove of its old cell memberships followed by a fresh insert. This keeps
// cell bookkeeping free of partial-update artifacts.
//
// Queries for ids that were never inserted (or were already removed) return
// empty results rather than errors; the index is a best-effort lookup over a
// possibly-already-cleaned-up set.
//
// # Thread Safety
//
// Not safe for concurrent use. A SpatialIndex is exclusively owned by a
// single ComponentTreeState and is only touched from the store's dispatch
// worker.
type SpatialIndex struct {
	cellSize    float64
	invCellSize float64
	cells       map[CellKey][]string
	bounds      map[string]BoundingBox
}

// Candidate pairs a component id with its distance from a query point.
type Candidate struct {
	ID       string
	Distance float64
}

// Overlap describes the exact overlap area between two indexed rectangles.
type Overlap struct {
	ID   string
	Area float64
}

// NewSpatialIndex creates an empty index. A non-positive cellSize falls
// back to DefaultCellSize.
func NewSpatialIndex(cellSize float64) *SpatialIndex {
	if cellSize <= 0 {
		cellSize = DefaultCellSize
	}
	return &SpatialIndex{
		cellSize:    cellSize,
		invCellSize: 1.0 / cellSize,
		cells:       make(map[CellKey][]string),
		bounds:      make(map[string]BoundingBox),
	}
}

// Insert registers box under id, replacing any previous registration.
//
// # Description
//
// If id is already present its old cell memberships are fully removed
// first, then the new memberships are inserted fresh. Calling Insert twice
// with the same arguments is idempotent.
func (idx *SpatialIndex) Insert(id string, box BoundingBox) {
	if id == "" {
		return
	}
	if _, ok := idx.bounds[id]; ok {
		idx.Remove(id)
	}
	idx.bounds[id] = box
	for _, key := range idx.cellsForBox(box) {
		idx.cells[key] = append(idx.cells[key], id)
	}
}

// Remove erases id from every member cell and from the bounds table.
// Removing an unknown id is a no-op.
func (idx *SpatialIndex) Remove(id string) {
	box, ok := idx.bounds[id]
	if !ok {
		return
	}
	for _, key := range idx.cellsForBox(box) {
		bucket := idx.cells[key]
		for i := range bucket {
			if bucket[i] != id {
				continue
			}
			bucket[i] = bucket[len(bucket)-1]
			bucket = bucket[:len(bucket)-1]
			break
		}
		if len(bucket) == 0 {
			delete(idx.cells, key)
		} else {
			idx.cells[key] = bucket
		}
	}
	delete(idx.bounds, id)
}

// Bounds returns the registered box for id, and whether id is present.
func (idx *SpatialIndex) Bounds(id string) (BoundingBox, bool) {
	box, ok := idx.bounds[id]
	return box, ok
}

// Len returns the number of indexed rectangles.
func (idx *SpatialIndex) Len() int {
	return len(idx.bounds)
}

// QueryPoint returns the ids of every rectangle containing the point.
//
// Only candidates registered in the single cell containing the point are
// tested, then exact containment is re-checked.
func (idx *SpatialIndex) QueryPoint(x, y float64) []string {
	key := CellKey{X: idx.coordToCell(x), Y: idx.coordToCell(y)}
	var matches []string
	for _, id := range idx.cells[key] {
		if idx.bounds[id].ContainsPoint(x, y) {
			matches = append(matches, id)
		}
	}
	return matches
}

// QueryRegion returns the ids of every rectangle intersecting region.
func (idx *SpatialIndex) QueryRegion(region BoundingBox) []string {
	var matches []string
	for id := range idx.candidatesFor(region) {
		if idx.bounds[id].Intersects(region) {
			matches = append(matches, id)
		}
	}
	sort.Strings(matches)
	return matches
}

// QuerySelectionBox returns ids matching a rubber-band selection.
//
// When fullyContained is true only rectangles entirely inside the box
// match; otherwise any intersecting rectangle matches.
func (idx *SpatialIndex) QuerySelectionBox(box BoundingBox, fullyContained bool) []string {
	var matches []string
	for id := range idx.candidatesFor(box) {
		b := idx.bounds[id]
		if fullyContained {
			if box.ContainsBox(b) {
				matches = append(matches, id)
			}
		} else if b.Intersects(box) {
			matches = append(matches, id)
		}
	}
	sort.Strings(matches)
	return matches
}

// NearestComponents returns up to limit rectangles whose centers lie within
// maxDistance of (x, y), sorted by ascending center distance.
func (idx *SpatialIndex) NearestComponents(x, y, maxDistance float64, limit int) []Candidate {
	if maxDistance <= 0 || limit <= 0 {
		return nil
	}
	search := BoundingBox{
		X:      x - maxDistance,
		Y:      y - maxDistance,
		Width:  2 * maxDistance,
		Height: 2 * maxDistance,
	}
	var found []Candidate
	for id := range idx.candidatesFor(search) {
		d := idx.bounds[id].DistanceToPoint(x, y)
		if d <= maxDistance {
			found = append(found, Candidate{ID: id, Distance: d})
		}
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].Distance != found[j].Distance {
			return found[i].Distance < found[j].Distance
		}
		return found[i].ID < found[j].ID
	})
	if len(found) > limit {
		found = found[:limit]
	}
	return found
}

// DetectOverlaps returns indexed rectangles whose exact overlap area with
// id's rectangle is at least thresholdArea. The id itself is excluded.
// An unknown id yields an empty result.
func (idx *SpatialIndex) DetectOverlaps(id string, thresholdArea float64) []Overlap {
	box, ok := idx.bounds[id]
	if !ok {
		return nil
	}
	var overlaps []Overlap
	for other := range idx.candidatesFor(box) {
		if other == id {
			continue
		}
		area := box.IntersectionArea(idx.bounds[other])
		if area >= thresholdArea && area > 0 {
			overlaps = append(overlaps, Overlap{ID: other, Area: area})
		}
	}
	sort.Slice(overlaps, func(i, j int) bool {
		if overlaps[i].Area != overlaps[j].Area {
			return overlaps[i].Area > overlaps[j].Area
		}
		return overlaps[i].ID < overlaps[j].ID
	})
	return overlaps
}

// Optimize drops empty cell buckets.
//
// Safe to call at any time; query results are unaffected. Empty buckets
// normally only accumulate if a caller mutated a returned slice, so this
// is a maintenance operation rather than a correctness requirement.
func (idx *SpatialIndex) Optimize() {
	for key, bucket := range idx.cells {
		if len(bucket) == 0 {
			delete(idx.cells, key)
		}
	}
}

// CellCount returns the number of occupied grid cells.
func (idx *SpatialIndex) CellCount() int {
	return len(idx.cells)
}

// cellsForBox enumerates the keys of every cell the box overlaps.
func (idx *SpatialIndex) cellsForBox(box BoundingBox) []CellKey {
	minX := idx.coordToCell(box.Left())
	minY := idx.coordToCell(box.Top())
	maxX := idx.coordToCell(box.Right())
	maxY := idx.coordToCell(box.Bottom())

	keys := make([]CellKey, 0, (maxX-minX+1)*(maxY-minY+1))
	for cy := minY; cy <= maxY; cy++ {
		for cx := minX; cx <= maxX; cx++ {
			keys = append(keys, CellKey{X: cx, Y: cy})
		}
	}
	return keys
}

// candidatesFor collects the deduplicated id set registered in every cell
// the region overlaps.
func (idx *SpatialIndex) candidatesFor(region BoundingBox) map[string]struct{} {
	minX := idx.coordToCell(region.Left())
	minY := idx.coordToCell(region.Top())
	maxX := idx.coordToCell(region.Right())
	maxY := idx.coordToCell(region.Bottom())

	candidates := make(map[string]struct{})
	for cy := minY; cy <= maxY; cy++ {
		for cx := minX; cx <= maxX; cx++ {
			for _, id := range idx.cells[CellKey{X: cx, Y: cy}] {
				candidates[id] = struct{}{}
			}
		}
	}
	return candidates
}

func (idx *SpatialIndex) coordToCell(v float64) int {
	return int(math.Floor(v * idx.invCellSize))
}
