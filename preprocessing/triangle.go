// Package preprocessing converts surface meshes and CFD exports into the
// occupancy grid and wind fields used by the simulator.
package preprocessing

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Triangle is one mesh face in world coordinates.
type Triangle struct {
	P1, P2, P3 r3.Vec
}

// Normal returns the unnormalized face normal.
func (t Triangle) Normal() r3.Vec {
	return r3.Cross(r3.Sub(t.P1, t.P2), r3.Sub(t.P1, t.P3))
}

// isAxisAligned reports whether the normal lies along a coordinate axis.
func (t Triangle) isAxisAligned() bool {
	n := t.Normal()
	x, y, z := approxZero(n.X), approxZero(n.Y), approxZero(n.Z)
	return (y && z) || (x && z) || (x && y)
}

const approxEpsilon = 1e-5

func approxZero(v float64) bool {
	return math.Abs(v) < approxEpsilon
}

// BoundingBox is an axis-aligned box that starts empty.
type BoundingBox struct {
	Min, Max r3.Vec
}

// EmptyBoundingBox returns a box that any Grow call replaces.
func EmptyBoundingBox() BoundingBox {
	inf := math.Inf(1)
	return BoundingBox{
		Min: r3.Vec{X: inf, Y: inf, Z: inf},
		Max: r3.Vec{X: -inf, Y: -inf, Z: -inf},
	}
}

// Grow extends the box to contain p.
func (b *BoundingBox) Grow(p r3.Vec) {
	b.Min = r3.Vec{X: math.Min(b.Min.X, p.X), Y: math.Min(b.Min.Y, p.Y), Z: math.Min(b.Min.Z, p.Z)}
	b.Max = r3.Vec{X: math.Max(b.Max.X, p.X), Y: math.Max(b.Max.Y, p.Y), Z: math.Max(b.Max.Z, p.Z)}
}

// Empty reports whether nothing has been added.
func (b BoundingBox) Empty() bool {
	return b.Min.X > b.Max.X
}

func boundsOf(sets ...[]Triangle) BoundingBox {
	box := EmptyBoundingBox()
	for _, set := range sets {
		for _, t := range set {
			box.Grow(t.P1)
			box.Grow(t.P2)
			box.Grow(t.P3)
		}
	}
	return box
}
