package preprocessing

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// triBoxOverlap is the Akenine-Möller separating axis test between a
// triangle and a cube centered at center with the given half size.
func triBoxOverlap(center r3.Vec, tri Triangle, half float64) bool {
	v0 := r3.Sub(tri.P1, center)
	v1 := r3.Sub(tri.P2, center)
	v2 := r3.Sub(tri.P3, center)

	e0 := r3.Sub(v1, v0)
	e1 := r3.Sub(v2, v1)
	e2 := r3.Sub(v0, v2)

	// nine edge x axis tests
	for _, e := range [3]r3.Vec{e0, e1, e2} {
		fx, fy, fz := math.Abs(e.X), math.Abs(e.Y), math.Abs(e.Z)

		// e x (1,0,0)
		if separated(e.Z*v0.Y-e.Y*v0.Z, e.Z*v1.Y-e.Y*v1.Z, e.Z*v2.Y-e.Y*v2.Z, (fz+fy)*half) {
			return false
		}
		// e x (0,1,0)
		if separated(-e.Z*v0.X+e.X*v0.Z, -e.Z*v1.X+e.X*v1.Z, -e.Z*v2.X+e.X*v2.Z, (fz+fx)*half) {
			return false
		}
		// e x (0,0,1)
		if separated(e.Y*v0.X-e.X*v0.Y, e.Y*v1.X-e.X*v1.Y, e.Y*v2.X-e.X*v2.Y, (fy+fx)*half) {
			return false
		}
	}

	// box face normals
	if separated(v0.X, v1.X, v2.X, half) ||
		separated(v0.Y, v1.Y, v2.Y, half) ||
		separated(v0.Z, v1.Z, v2.Z, half) {
		return false
	}

	return planeBoxOverlap(r3.Cross(e0, e1), v0, half)
}

// separated reports whether the projections p0..p2 all fall outside [-rad, rad]
// on the same side.
func separated(p0, p1, p2, rad float64) bool {
	lo := math.Min(p0, math.Min(p1, p2))
	hi := math.Max(p0, math.Max(p1, p2))
	return lo > rad || hi < -rad
}

func planeBoxOverlap(normal, vert r3.Vec, half float64) bool {
	var vmin, vmax r3.Vec
	axis := func(n, v float64) (lo, hi float64) {
		if n > 0 {
			return -half - v, half - v
		}
		return half - v, -half - v
	}
	vmin.X, vmax.X = axis(normal.X, vert.X)
	vmin.Y, vmax.Y = axis(normal.Y, vert.Y)
	vmin.Z, vmax.Z = axis(normal.Z, vert.Z)

	if r3.Dot(normal, vmin) > 0 {
		return false
	}
	return r3.Dot(normal, vmax) >= 0
}

// pointInTriangle projects the cell center and its eight corners onto the
// triangle's plane and reports whether any projection lands inside it.
// Used for axis-aligned faces lying exactly on cell boundaries, where the
// separating axis test is numerically unreliable.
func pointInTriangle(center r3.Vec, tri Triangle, half float64) bool {
	u := r3.Sub(tri.P2, tri.P1)
	v := r3.Sub(tri.P3, tri.P1)
	n := r3.Cross(u, v)
	nn := r3.Dot(n, n)
	if nn == 0 {
		return false
	}

	for _, p := range cubePoints(center, half) {
		w := r3.Sub(p, tri.P1)
		gamma := r3.Dot(r3.Cross(u, w), n) / nn
		beta := r3.Dot(r3.Cross(w, v), n) / nn
		alpha := 1 - gamma - beta
		if inUnit(alpha) && inUnit(beta) && inUnit(gamma) {
			return true
		}
	}
	return false
}

func inUnit(v float64) bool { return v >= 0 && v <= 1 }

func cubePoints(c r3.Vec, h float64) [9]r3.Vec {
	pts := [9]r3.Vec{c}
	i := 1
	for _, dx := range [2]float64{-h, h} {
		for _, dy := range [2]float64{-h, h} {
			for _, dz := range [2]float64{-h, h} {
				pts[i] = r3.Vec{X: c.X + dx, Y: c.Y + dy, Z: c.Z + dz}
				i++
			}
		}
	}
	return pts
}
