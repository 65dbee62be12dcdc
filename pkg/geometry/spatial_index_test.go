// Copyright (C) 2026 PolycarpusTack
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package geometry

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBoundingBoxPredicates verifies the derived values and predicates of
// the pure value type.
func TestBoundingBoxPredicates(t *testing.T) {
	b := BoundingBox{X: 10, Y: 20, Width: 100, Height: 50}

	assert.Equal(t, 10.0, b.Left())
	assert.Equal(t, 110.0, b.Right())
	assert.Equal(t, 20.0, b.Top())
	assert.Equal(t, 70.0, b.Bottom())
	assert.Equal(t, 60.0, b.Center()[0])
	assert.Equal(t, 45.0, b.Center()[1])

	assert.True(t, b.ContainsPoint(10, 20), "edge points are inside")
	assert.True(t, b.ContainsPoint(110, 70))
	assert.False(t, b.ContainsPoint(110.01, 70))

	assert.True(t, b.Intersects(BoundingBox{X: 100, Y: 60, Width: 50, Height: 50}))
	assert.False(t, b.Intersects(BoundingBox{X: 200, Y: 200, Width: 5, Height: 5}))

	assert.True(t, b.ContainsBox(BoundingBox{X: 20, Y: 30, Width: 10, Height: 10}))
	assert.False(t, b.ContainsBox(BoundingBox{X: 20, Y: 30, Width: 200, Height: 10}))
}

// TestIntersectionArea verifies exact overlap area computation.
func TestIntersectionArea(t *testing.T) {
	a := BoundingBox{X: 0, Y: 0, Width: 100, Height: 100}

	assert.Equal(t, 2500.0, a.IntersectionArea(BoundingBox{X: 50, Y: 50, Width: 100, Height: 100}))
	assert.Equal(t, 0.0, a.IntersectionArea(BoundingBox{X: 200, Y: 0, Width: 10, Height: 10}))
	// Touching edges share no area.
	assert.Equal(t, 0.0, a.IntersectionArea(BoundingBox{X: 100, Y: 0, Width: 10, Height: 10}))
}

// TestInsertReplacesOldMembership verifies Insert fully removes stale cell
// memberships before re-inserting.
func TestInsertReplacesOldMembership(t *testing.T) {
	idx := NewSpatialIndex(100)

	idx.Insert("a", BoundingBox{X: 0, Y: 0, Width: 50, Height: 50})
	require.ElementsMatch(t, []string{"a"}, idx.QueryPoint(25, 25))

	// Move the rectangle far away; the old cell must not still match.
	idx.Insert("a", BoundingBox{X: 1000, Y: 1000, Width: 50, Height: 50})
	assert.Empty(t, idx.QueryPoint(25, 25))
	assert.ElementsMatch(t, []string{"a"}, idx.QueryPoint(1025, 1025))
	assert.Equal(t, 1, idx.Len())
}

// TestCellMembershipAcrossCells verifies a rectangle spanning several
// cells is registered in (and removed from) every overlapped cell.
func TestCellMembershipAcrossCells(t *testing.T) {
	idx := NewSpatialIndex(100)

	// 50..250 on both axes: overlaps a 3x3 block of cells.
	idx.Insert("wide", BoundingBox{X: 50, Y: 50, Width: 200, Height: 200})
	assert.Equal(t, 9, idx.CellCount())
	assert.ElementsMatch(t, []string{"wide"}, idx.QueryPoint(60, 60))
	assert.ElementsMatch(t, []string{"wide"}, idx.QueryPoint(240, 240))

	idx.Remove("wide")
	assert.Equal(t, 0, idx.CellCount())
	assert.Equal(t, 0, idx.Len())
	assert.Empty(t, idx.QueryPoint(60, 60))
}

// TestRemoveUnknownIsNoOp verifies misuse semantics: unknown ids never error.
func TestRemoveUnknownIsNoOp(t *testing.T) {
	idx := NewSpatialIndex(0)
	idx.Remove("ghost")
	assert.Empty(t, idx.QueryPoint(0, 0))
	assert.Nil(t, idx.DetectOverlaps("ghost", 0))

	_, ok := idx.Bounds("ghost")
	assert.False(t, ok)
}

// TestQueryRegionSpanningCells verifies candidates are gathered across all
// overlapped cells and deduplicated.
func TestQueryRegionSpanningCells(t *testing.T) {
	idx := NewSpatialIndex(100)
	// Spans four cells.
	idx.Insert("big", BoundingBox{X: 50, Y: 50, Width: 100, Height: 100})
	idx.Insert("off", BoundingBox{X: 500, Y: 500, Width: 10, Height: 10})

	got := idx.QueryRegion(BoundingBox{X: 0, Y: 0, Width: 300, Height: 300})
	assert.Equal(t, []string{"big"}, got)
}

// TestQuerySelectionBoxModes verifies the intersects vs fully-contained
// final predicates.
func TestQuerySelectionBoxModes(t *testing.T) {
	idx := NewSpatialIndex(100)
	idx.Insert("inside", BoundingBox{X: 10, Y: 10, Width: 20, Height: 20})
	idx.Insert("partial", BoundingBox{X: 90, Y: 90, Width: 50, Height: 50})

	box := BoundingBox{X: 0, Y: 0, Width: 100, Height: 100}
	assert.Equal(t, []string{"inside", "partial"}, idx.QuerySelectionBox(box, false))
	assert.Equal(t, []string{"inside"}, idx.QuerySelectionBox(box, true))
}

// TestNearestComponents verifies distance filtering, ordering, and limit
// truncation.
func TestNearestComponents(t *testing.T) {
	idx := NewSpatialIndex(100)
	idx.Insert("near", BoundingBox{X: 0, Y: 0, Width: 10, Height: 10})    // center (5,5)
	idx.Insert("mid", BoundingBox{X: 30, Y: 0, Width: 10, Height: 10})    // center (35,5)
	idx.Insert("far", BoundingBox{X: 300, Y: 300, Width: 10, Height: 10}) // outside radius

	got := idx.NearestComponents(5, 5, 50, 10)
	require.Len(t, got, 2)
	assert.Equal(t, "near", got[0].ID)
	assert.Equal(t, "mid", got[1].ID)
	assert.InDelta(t, 0, got[0].Distance, 1e-9)
	assert.InDelta(t, 30, got[1].Distance, 1e-9)

	got = idx.NearestComponents(5, 5, 50, 1)
	require.Len(t, got, 1)
	assert.Equal(t, "near", got[0].ID)
}

// TestDetectOverlaps verifies threshold filtering and self-exclusion.
func TestDetectOverlaps(t *testing.T) {
	idx := NewSpatialIndex(100)
	idx.Insert("a", BoundingBox{X: 0, Y: 0, Width: 100, Height: 100})
	idx.Insert("b", BoundingBox{X: 50, Y: 50, Width: 100, Height: 100}) // 2500 overlap with a
	idx.Insert("c", BoundingBox{X: 90, Y: 90, Width: 100, Height: 100}) // 100 overlap with a

	got := idx.DetectOverlaps("a", 500)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, 2500.0, got[0].Area)

	got = idx.DetectOverlaps("a", 1)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID, "larger overlap first")
}

// TestOptimizeDoesNotChangeResults verifies Optimize is a pure maintenance
// operation.
func TestOptimizeDoesNotChangeResults(t *testing.T) {
	idx := NewSpatialIndex(100)
	for i := 0; i < 20; i++ {
		idx.Insert(fmt.Sprintf("c%d", i), BoundingBox{X: float64(i * 30), Y: 0, Width: 25, Height: 25})
	}
	before := idx.QueryRegion(BoundingBox{X: 0, Y: 0, Width: 1000, Height: 1000})
	idx.Optimize()
	after := idx.QueryRegion(BoundingBox{X: 0, Y: 0, Width: 1000, Height: 1000})
	assert.Equal(t, before, after)
}

// TestSpatialExactnessAgainstLinearScan cross-checks grid query results
// against a brute-force scan for random rectangles and several cell sizes.
func TestSpatialExactnessAgainstLinearScan(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for _, cellSize := range []float64{10, 100, 1000} {
		t.Run(fmt.Sprintf("cell=%v", cellSize), func(t *testing.T) {
			idx := NewSpatialIndex(cellSize)
			boxes := make(map[string]BoundingBox)
			for i := 0; i < 200; i++ {
				id := fmt.Sprintf("r%d", i)
				box := BoundingBox{
					X:      rng.Float64()*2000 - 1000,
					Y:      rng.Float64()*2000 - 1000,
					Width:  rng.Float64() * 300,
					Height: rng.Float64() * 300,
				}
				boxes[id] = box
				idx.Insert(id, box)
			}

			for i := 0; i < 50; i++ {
				px := rng.Float64()*2400 - 1200
				py := rng.Float64()*2400 - 1200

				var want []string
				for id, box := range boxes {
					if box.ContainsPoint(px, py) {
						want = append(want, id)
					}
				}
				assert.ElementsMatch(t, want, idx.QueryPoint(px, py))

				region := BoundingBox{X: px, Y: py, Width: rng.Float64() * 500, Height: rng.Float64() * 500}
				var wantRegion []string
				for id, box := range boxes {
					if box.Intersects(region) {
						wantRegion = append(wantRegion, id)
					}
				}
				assert.ElementsMatch(t, wantRegion, idx.QueryRegion(region))
			}
		})
	}
}
