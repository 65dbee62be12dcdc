// Copyright (C) 2026 PolycarpusTack
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package geometry provides the 2D primitives used for canvas hit-testing.
//
// The package has two parts: BoundingBox, a pure value type describing an
// axis-aligned rectangle, and SpatialIndex, a grid-bucketed index over a
// dynamic set of rectangles that answers point, region, and nearest-neighbor
// queries in better than O(n) amortized time for typical canvas densities.
package geometry

import (
	"github.com/go-gl/mathgl/mgl64"
)

// BoundingBox is an axis-aligned rectangle on the canvas plane.
//
// # Description
//
// All derived values (Left, Right, Top, Bottom, Center) and all spatial
// predicates are computed from the four stored fields on demand. There is
// no cached derived state, so a BoundingBox can be freely copied and
// compared by value.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Left returns the minimum x coordinate.
func (b BoundingBox) Left() float64 { return b.X }

// Right returns the maximum x coordinate.
func (b BoundingBox) Right() float64 { return b.X + b.Width }

// Top returns the minimum y coordinate.
func (b BoundingBox) Top() float64 { return b.Y }

// Bottom returns the maximum y coordinate.
func (b BoundingBox) Bottom() float64 { return b.Y + b.Height }

// Center returns the geometric center of the box.
func (b BoundingBox) Center() mgl64.Vec2 {
	return mgl64.Vec2{b.X + b.Width/2, b.Y + b.Height/2}
}

// Area returns the rectangle area. Negative extents contribute zero.
func (b BoundingBox) Area() float64 {
	if b.Width <= 0 || b.Height <= 0 {
		return 0
	}
	return b.Width * b.Height
}

// ContainsPoint reports whether the point (x, y) lies inside the box.
// Points on the edge are considered inside.
func (b BoundingBox) ContainsPoint(x, y float64) bool {
	return x >= b.Left() && x <= b.Right() && y >= b.Top() && y <= b.Bottom()
}

// Intersects reports whether the two boxes share any area or edge.
func (b BoundingBox) Intersects(other BoundingBox) bool {
	return b.Left() <= other.Right() && b.Right() >= other.Left() &&
		b.Top() <= other.Bottom() && b.Bottom() >= other.Top()
}

// ContainsBox reports whether other lies entirely within b.
func (b BoundingBox) ContainsBox(other BoundingBox) bool {
	return other.Left() >= b.Left() && other.Right() <= b.Right() &&
		other.Top() >= b.Top() && other.Bottom() <= b.Bottom()
}

// IntersectionArea returns the exact overlap area between the two boxes,
// or zero when they do not intersect.
func (b BoundingBox) IntersectionArea(other BoundingBox) float64 {
	w := min(b.Right(), other.Right()) - max(b.Left(), other.Left())
	h := min(b.Bottom(), other.Bottom()) - max(b.Top(), other.Top())
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// DistanceToPoint returns the Euclidean distance from the box center to
// the point (x, y).
func (b BoundingBox) DistanceToPoint(x, y float64) float64 {
	return b.Center().Sub(mgl64.Vec2{x, y}).Len()
}
