package simulation

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/gaden/environment"
)

// gravity [m/s²]
const gravity = 9.8

// maxWallSlides bounds how often one displacement may be redirected along a
// wall before the filament stalls for the step.
const maxWallSlides = 8

// moveChunk advances filaments [start, end) of the active buffer.
func (r *Running) moveChunk(start, end int, scratch *workerScratch) {
	filaments := r.active()[start:end]
	for i := range filaments {
		r.moveFilament(&filaments[i], scratch)
	}
}

func (r *Running) moveFilament(f *Filament, scratch *workerScratch) {
	env := r.env
	idx := env.CoordsToIndices(f.Position)
	if !env.IsInBoundsIndex(idx) {
		f.Active = false
		scratch.removed++
		return
	}
	cell := env.IndexFrom3D(idx)
	dt := r.params.DeltaTime

	w := r.wind.Current()[cell]
	if r.disturbance != nil {
		w = r3.Add(w, r.disturbance[cell])
	}
	disp := r3.Scale(dt, w)
	disp.Z += r.buoyancy(f.Sigma)

	if std := r.params.NoiseStd; std > 0 {
		disp.X += scratch.gauss.sample() * std * dt
		disp.Y += scratch.gauss.sample() * std * dt
		disp.Z += scratch.gauss.sample() * std * dt
	}

	r.travel(f, disp, scratch)
	if !f.Active {
		scratch.removed++
	}

	f.Sigma += r.params.GrowthGamma / (2 * f.Sigma) * dt
}

// sphereDrag is the drag coefficient of a sphere at moderate Reynolds numbers.
const sphereDrag = 0.47

// buoyancy returns the vertical displacement over one step for a filament of
// the given sigma. The puff is taken as a sphere of radius sigma whose gas is
// mixed with air at its center concentration, moving at the terminal velocity
// where reduced gravity balances quadratic drag: v² = 8·r·g'/(3·Cd).
func (r *Running) buoyancy(sigma float64) float64 {
	sg := r.meta.Source.GasType.SpecificGravity()
	if sg == 1 {
		return 0
	}
	fraction := min(max(r.sampler().ConcentrationAtCenter(sigma)/1e6, 0), 1)
	sgMix := 1 + fraction*(sg-1)
	reduced := gravity * (1 - sgMix) / sgMix
	radius := sigma / 100 // [m]
	terminal := math.Copysign(math.Sqrt(8*radius*math.Abs(reduced)/(3*sphereDrag)), reduced)
	return terminal * r.params.DeltaTime
}

// travel moves f by disp, visiting every cell the segment pierces one face
// at a time so no obstacle can be skipped, not even two obstacles that only
// share an edge or a corner. A filament reaching an outlet is deactivated.
// Hitting an obstacle or the domain boundary removes the displacement
// component along the face normal and retries with what is left.
func (r *Running) travel(f *Filament, disp r3.Vec, scratch *workerScratch) {
	env := r.env
	start := f.Position

	for depth := 0; ; depth++ {
		end := r3.Add(start, disp)
		startIdx := env.CoordsToIndices(start)
		endIdx := env.CoordsToIndices(end)
		if startIdx == endIdx {
			f.Position = end
			if s := env.AtIndex(endIdx); s == environment.Outlet || s == environment.OutOfBounds {
				f.Active = false
			}
			return
		}

		c, hit := firstContact(env, start, disp)
		if !hit {
			switch env.AtIndex(endIdx) {
			case environment.Free:
				f.Position = end
			case environment.Outlet:
				f.Position = end
				f.Active = false
			default:
				// the walk and the end cell disagree by rounding on a face
				f.Position = start
			}
			return
		}

		at := r3.Add(start, r3.Scale(c.t, disp))
		if c.state == environment.Outlet {
			f.Position = clampToCell(env, at, c.to)
			f.Active = false
			return
		}

		at = clampToCell(env, at, c.from)
		disp = r3.Sub(end, at)
		setAxis(&disp, c.axis, 0)
		start = at

		scratch.wallSlides++
		if depth+1 >= maxWallSlides {
			scratch.stalls++
			f.Position = start
			return
		}
		if r3.Norm2(disp) < 1e-18 {
			f.Position = start
			return
		}
	}
}

// contact is the first face crossed by a segment that leads out of free
// space.
type contact struct {
	t     float64 // segment parameter of the crossing, in [0, 1]
	axis  int
	from  environment.Index
	to    environment.Index
	state environment.CellState
}

// firstContact walks the cells pierced by start→start+disp in crossing
// order. When two faces are crossed at the same parameter the lower axis is
// taken first, so corner and edge passages are treated as face passages.
func firstContact(env *environment.Environment, start, disp r3.Vec) (contact, bool) {
	cs := env.CellSize
	idx := env.CoordsToIndices(start)
	origin := env.CoordsOfCellOrigin(idx)

	cur := [3]int{idx.X, idx.Y, idx.Z}
	var stepDir [3]int
	var tMax, tDelta [3]float64
	for a := 0; a < 3; a++ {
		d := axis(disp, a)
		lo := axis(origin, a)
		p := axis(start, a)
		switch {
		case d > 0:
			stepDir[a] = 1
			tMax[a] = (lo + cs - p) / d
			tDelta[a] = cs / d
		case d < 0:
			stepDir[a] = -1
			tMax[a] = (lo - p) / d
			tDelta[a] = -cs / d
		default:
			tMax[a] = math.Inf(1)
			tDelta[a] = math.Inf(1)
		}
	}

	for {
		a := 0
		if tMax[1] < tMax[a] {
			a = 1
		}
		if tMax[2] < tMax[a] {
			a = 2
		}
		if tMax[a] > 1 {
			return contact{}, false
		}

		from := environment.Index{X: cur[0], Y: cur[1], Z: cur[2]}
		cur[a] += stepDir[a]
		to := environment.Index{X: cur[0], Y: cur[1], Z: cur[2]}
		if s := env.AtIndex(to); s != environment.Free {
			return contact{t: max(tMax[a], 0), axis: a, from: from, to: to, state: s}, true
		}
		tMax[a] += tDelta[a]
	}
}

// clampToCell pulls p strictly inside cell idx.
func clampToCell(env *environment.Environment, p r3.Vec, idx environment.Index) r3.Vec {
	lo := env.CoordsOfCellOrigin(idx)
	gap := 1e-6 * env.CellSize
	hi := env.CellSize - gap
	for a := 0; a < 3; a++ {
		setAxis(&p, a, min(max(axis(p, a), axis(lo, a)+gap), axis(lo, a)+hi))
	}
	return p
}

func axis(v r3.Vec, a int) float64 {
	switch a {
	case 0:
		return v.X
	case 1:
		return v.Y
	}
	return v.Z
}

func setAxis(v *r3.Vec, a int, x float64) {
	switch a {
	case 0:
		v.X = x
	case 1:
		v.Y = x
	default:
		v.Z = x
	}
}
