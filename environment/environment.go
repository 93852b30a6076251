// Package environment holds the 3D occupancy grid and its coordinate mapping.
package environment

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/gaden/codec"
)

// CellState classifies one grid cell.
type CellState uint8

const (
	Free     CellState = 0 // gas can be here
	Obstacle CellState = 1 // filaments cannot enter
	Outlet   CellState = 2 // removes any filament that enters
	// OutOfBounds is synthesized by At for invalid queries and never stored.
	OutOfBounds CellState = 3
	// Uninitialized only exists while the voxelizer is building a grid.
	Uninitialized CellState = 4
)

func (c CellState) String() string {
	switch c {
	case Free:
		return "free"
	case Obstacle:
		return "obstacle"
	case Outlet:
		return "outlet"
	case OutOfBounds:
		return "out_of_bounds"
	case Uninitialized:
		return "uninitialized"
	}
	return fmt.Sprintf("CellState(%d)", uint8(c))
}

// Index is an integer cell coordinate.
type Index struct {
	X, Y, Z int
}

// Add returns i+o.
func (i Index) Add(o Index) Index {
	return Index{i.X + o.X, i.Y + o.Y, i.Z + o.Z}
}

// Sub returns i-o.
func (i Index) Sub(o Index) Index {
	return Index{i.X - o.X, i.Y - o.Y, i.Z - o.Z}
}

// Description is the grid geometry.
type Description struct {
	Dimensions Index
	MinCoord   r3.Vec // [m]
	MaxCoord   r3.Vec // [m]
	CellSize   float64
}

// DescriptionBlobSize is the encoded size of a Description.
const DescriptionBlobSize = 40

// Encode writes d as the fixed blob used by snapshot files:
// int32 dims x3, float32 min x3, float32 max x3, float32 cell size.
func (d Description) Encode(w *codec.Writer) {
	w.WriteInt32(int32(d.Dimensions.X))
	w.WriteInt32(int32(d.Dimensions.Y))
	w.WriteInt32(int32(d.Dimensions.Z))
	w.WriteVec3f(d.MinCoord)
	w.WriteVec3f(d.MaxCoord)
	w.WriteFloat32(float32(d.CellSize))
}

// DecodeDescription reads the blob written by Encode.
func DecodeDescription(r *codec.Reader) Description {
	var d Description
	d.Dimensions.X = int(r.ReadInt32())
	d.Dimensions.Y = int(r.ReadInt32())
	d.Dimensions.Z = int(r.ReadInt32())
	d.MinCoord = r.ReadVec3f()
	d.MaxCoord = r.ReadVec3f()
	d.CellSize = float64(r.ReadFloat32())
	return d
}

// NumCells returns the total cell count.
func (d Description) NumCells() int {
	return d.Dimensions.X * d.Dimensions.Y * d.Dimensions.Z
}

// Environment is the occupancy grid. Cells are stored x-fastest.
type Environment struct {
	Description
	Cells []CellState
}

// New allocates an environment with every cell set to fill.
func New(desc Description, fill CellState) *Environment {
	cells := make([]CellState, desc.NumCells())
	if fill != Free {
		for i := range cells {
			cells[i] = fill
		}
	}
	return &Environment{Description: desc, Cells: cells}
}

// IndexFrom3D flattens idx. The caller must ensure it is in bounds.
func (e *Environment) IndexFrom3D(idx Index) int {
	d := e.Dimensions
	return idx.X + idx.Y*d.X + idx.Z*d.X*d.Y
}

// IndicesFrom1D is the inverse of IndexFrom3D.
func (e *Environment) IndicesFrom1D(i int) Index {
	d := e.Dimensions
	return Index{
		X: i % d.X,
		Y: (i / d.X) % d.Y,
		Z: i / (d.X * d.Y),
	}
}

// CoordsToIndices returns the cell containing p. The result may be out of bounds.
func (e *Environment) CoordsToIndices(p r3.Vec) Index {
	cs := e.CellSize
	return Index{
		X: int(math.Floor((p.X - e.MinCoord.X) / cs)),
		Y: int(math.Floor((p.Y - e.MinCoord.Y) / cs)),
		Z: int(math.Floor((p.Z - e.MinCoord.Z) / cs)),
	}
}

// CoordsOfCellCenter returns the world position of the center of cell idx.
func (e *Environment) CoordsOfCellCenter(idx Index) r3.Vec {
	cs := e.CellSize
	return r3.Vec{
		X: e.MinCoord.X + (float64(idx.X)+0.5)*cs,
		Y: e.MinCoord.Y + (float64(idx.Y)+0.5)*cs,
		Z: e.MinCoord.Z + (float64(idx.Z)+0.5)*cs,
	}
}

// CoordsOfCellOrigin returns the world position of the minimum corner of cell idx.
func (e *Environment) CoordsOfCellOrigin(idx Index) r3.Vec {
	cs := e.CellSize
	return r3.Vec{
		X: e.MinCoord.X + float64(idx.X)*cs,
		Y: e.MinCoord.Y + float64(idx.Y)*cs,
		Z: e.MinCoord.Z + float64(idx.Z)*cs,
	}
}

// IsInBoundsIndex reports whether idx addresses a stored cell.
func (e *Environment) IsInBoundsIndex(idx Index) bool {
	d := e.Dimensions
	return idx.X >= 0 && idx.X < d.X &&
		idx.Y >= 0 && idx.Y < d.Y &&
		idx.Z >= 0 && idx.Z < d.Z
}

// IsInBounds reports whether p lies inside a stored cell.
func (e *Environment) IsInBounds(p r3.Vec) bool {
	if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsNaN(p.Z) {
		return false
	}
	return e.IsInBoundsIndex(e.CoordsToIndices(p))
}

// AtIndex returns the state of cell idx, or OutOfBounds.
func (e *Environment) AtIndex(idx Index) CellState {
	if !e.IsInBoundsIndex(idx) {
		return OutOfBounds
	}
	return e.Cells[e.IndexFrom3D(idx)]
}

// At returns the state of the cell containing p, or OutOfBounds.
func (e *Environment) At(p r3.Vec) CellState {
	if !e.IsInBounds(p) {
		return OutOfBounds
	}
	return e.Cells[e.IndexFrom3D(e.CoordsToIndices(p))]
}

// Ref returns a pointer to the stored state of idx without bounds synthesis.
// Callers must have checked IsInBoundsIndex.
func (e *Environment) Ref(idx Index) *CellState {
	return &e.Cells[e.IndexFrom3D(idx)]
}

// Count returns how many cells hold state s.
func (e *Environment) Count(s CellState) int {
	n := 0
	for _, c := range e.Cells {
		if c == s {
			n++
		}
	}
	return n
}
