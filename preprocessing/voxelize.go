package preprocessing

import (
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/gaden/environment"
	"github.com/pthm-cable/gaden/errs"
)

// occupyChunk is the number of triangles handed to one goroutine.
const occupyChunk = 256

// VoxelizeFiles parses the STL files concurrently and voxelizes them.
func VoxelizeFiles(obstaclePaths, outletPaths []string, cellSize float64, emptyPoint r3.Vec) (*environment.Environment, error) {
	obstacles, err := parseAll(obstaclePaths)
	if err != nil {
		return nil, err
	}
	outlets, err := parseAll(outletPaths)
	if err != nil {
		return nil, err
	}
	return Voxelize(obstacles, outlets, cellSize, emptyPoint)
}

func parseAll(paths []string) ([]Triangle, error) {
	meshes := make([][]Triangle, len(paths))
	var g errgroup.Group
	for i, path := range paths {
		g.Go(func() error {
			tris, err := ParseSTLFile(path)
			if err != nil {
				return err
			}
			meshes[i] = tris
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []Triangle
	for _, m := range meshes {
		all = append(all, m...)
	}
	return all, nil
}

// Voxelize builds an occupancy grid from obstacle and outlet triangles.
// Every resulting cell is Free, Obstacle or Outlet. A seed cell that the
// meshes already occupied is reported as errs.ErrConfiguration after the
// grid has been built, so callers may still inspect it.
func Voxelize(obstacles, outlets []Triangle, cellSize float64, emptyPoint r3.Vec) (*environment.Environment, error) {
	if cellSize <= 0 {
		return nil, fmt.Errorf("%w: cell size must be positive, got %g", errs.ErrConfiguration, cellSize)
	}
	box := boundsOf(obstacles, outlets)
	if box.Empty() {
		return nil, fmt.Errorf("%w: no triangles to voxelize", errs.ErrConfiguration)
	}

	size := r3.Sub(box.Max, box.Min)
	desc := environment.Description{
		Dimensions: environment.Index{
			X: max(1, int(math.Ceil(size.X/cellSize))),
			Y: max(1, int(math.Ceil(size.Y/cellSize))),
			Z: max(1, int(math.Ceil(size.Z/cellSize))),
		},
		MinCoord: box.Min,
		MaxCoord: box.Max,
		CellSize: cellSize,
	}
	env := environment.New(desc, environment.Uninitialized)

	slog.Info("voxelizing",
		"obstacle_triangles", len(obstacles),
		"outlet_triangles", len(outlets),
		"dims", fmt.Sprintf("%dx%dx%d", desc.Dimensions.X, desc.Dimensions.Y, desc.Dimensions.Z),
		"cell_size", cellSize,
	)

	Occupy(obstacles, env, environment.Obstacle)
	Occupy(outlets, env, environment.Outlet)
	err := Fill(env, emptyPoint)

	slog.Info("voxelized",
		"free", env.Count(environment.Free),
		"obstacle", env.Count(environment.Obstacle),
		"outlet", env.Count(environment.Outlet),
	)
	return env, err
}

// Occupy marks every cell that a triangle passes through with state.
// Triangles are tested in parallel; grid writes share one mutex.
func Occupy(tris []Triangle, env *environment.Environment, state environment.CellState) {
	if len(tris) == 0 {
		return
	}
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))

	for start := 0; start < len(tris); start += occupyChunk {
		end := min(start+occupyChunk, len(tris))
		g.Go(func() error {
			for _, tri := range tris[start:end] {
				occupyTriangle(tri, env, state, &mu)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func occupyTriangle(tri Triangle, env *environment.Environment, state environment.CellState, mu *sync.Mutex) {
	lo, hi := indexBounds(env, tri)
	half := env.CellSize * 0.5
	axisAligned := tri.isAxisAligned()

	for z := lo.Z; z <= hi.Z; z++ {
		for y := lo.Y; y <= hi.Y; y++ {
			for x := lo.X; x <= hi.X; x++ {
				idx := environment.Index{X: x, Y: y, Z: z}
				center := env.CoordsOfCellCenter(idx)
				if (axisAligned && pointInTriangle(center, tri, half)) || triBoxOverlap(center, tri, half) {
					mu.Lock()
					*env.Ref(idx) = state
					mu.Unlock()
				}
			}
		}
	}
}

// indexBounds returns the triangle's bounding box in index space, clamped
// to the grid.
func indexBounds(env *environment.Environment, tri Triangle) (lo, hi environment.Index) {
	a := env.CoordsToIndices(tri.P1)
	b := env.CoordsToIndices(tri.P2)
	c := env.CoordsToIndices(tri.P3)
	d := env.Dimensions
	clamp := func(v, n int) int { return max(0, min(v, n-1)) }

	lo = environment.Index{
		X: clamp(min(a.X, b.X, c.X), d.X),
		Y: clamp(min(a.Y, b.Y, c.Y), d.Y),
		Z: clamp(min(a.Z, b.Z, c.Z), d.Z),
	}
	hi = environment.Index{
		X: clamp(max(a.X, b.X, c.X), d.X),
		Y: clamp(max(a.Y, b.Y, c.Y), d.Y),
		Z: clamp(max(a.Z, b.Z, c.Z), d.Z),
	}
	return lo, hi
}

var faceNeighbours = [6]environment.Index{
	{X: 1}, {X: -1},
	{Y: 1}, {Y: -1},
	{Z: 1}, {Z: -1},
}

// Fill flood-fills Free from the cell containing emptyPoint through
// Uninitialized cells, then turns whatever is still Uninitialized into
// Obstacle.
func Fill(env *environment.Environment, emptyPoint r3.Vec) error {
	seed := env.CoordsToIndices(emptyPoint)
	var seedErr error

	switch state := env.AtIndex(seed); state {
	case environment.OutOfBounds:
		seedErr = fmt.Errorf("%w: empty point %v lies outside the environment", errs.ErrConfiguration, emptyPoint)
		slog.Error("empty point outside environment", "point", emptyPoint)
	case environment.Uninitialized:
	default:
		seedErr = fmt.Errorf("%w: empty point %v lies in a cell already occupied by the mesh (%s)", errs.ErrConfiguration, emptyPoint, state)
		slog.Error("empty point is inside space occupied by the mesh", "point", emptyPoint, "state", state.String())
	}

	if env.IsInBoundsIndex(seed) {
		*env.Ref(seed) = environment.Free
		queue := []environment.Index{seed}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, off := range faceNeighbours {
				next := cur.Add(off)
				if env.AtIndex(next) == environment.Uninitialized {
					*env.Ref(next) = environment.Free
					queue = append(queue, next)
				}
			}
		}
	}

	for i, c := range env.Cells {
		if c == environment.Uninitialized {
			env.Cells[i] = environment.Obstacle
		}
	}
	return seedErr
}
