package simulation

import (
	"log/slog"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/gaden/environment"
	"github.com/pthm-cable/gaden/wind"
)

// Sampler evaluates the Gaussian concentration model over an environment.
type Sampler struct {
	Env       *environment.Environment
	Constants Constants
}

// ConcentrationAtCenter returns the ppm at the center of a filament of the given sigma.
func (s Sampler) ConcentrationAtCenter(sigma float64) float64 {
	molesTarget := s.Constants.TotalMolesInFilament / (gaussianNorm * sigma * sigma * sigma)
	return 1e6 * molesTarget / s.Constants.NumMolesAllGasesIncm3
}

// SingleFilament returns the ppm that f contributes at p, ignoring obstacles.
func (s Sampler) SingleFilament(f Filament, p r3.Vec) float64 {
	d := 100 * r3.Norm(r3.Sub(f.Position, p)) // [cm]
	return s.ConcentrationAtCenter(f.Sigma) * math.Exp(-(d*d)/(2*f.Sigma*f.Sigma))
}

// Concentration sums the contributions of every filament within three
// sigma of p that has a clear line of sight to it.
func (s Sampler) Concentration(filaments []Filament, p r3.Vec) float64 {
	var total float64
	for _, f := range filaments {
		limit := f.Sigma * 3 / 100 // [m]
		if r3.Norm2(r3.Sub(f.Position, p)) < limit*limit && s.LineOfSight(p, f.Position) {
			total += s.SingleFilament(f, p)
		}
	}
	return total
}

// LineOfSight reports whether the segment a-b crosses only Free cells.
// Both endpoints must be Free.
func (s Sampler) LineOfSight(a, b r3.Vec) bool {
	env := s.Env
	if env.At(a) != environment.Free || env.At(b) != environment.Free {
		return false
	}
	v := r3.Sub(b, a)
	dist := r3.Norm(v)
	steps := int(dist / env.CellSize)
	if steps == 0 {
		return true
	}
	step := r3.Scale(1/float64(steps), v)
	for i := 1; i < steps; i++ {
		if env.At(r3.Add(a, r3.Scale(float64(i), step))) != environment.Free {
			return false
		}
	}
	return true
}

// shared is the state and query logic common to Running and Playback.
type shared struct {
	env  *environment.Environment
	wind *wind.Sequence
	meta Metadata
	// concentrations holds a per-cell ppm grid when one was precomputed.
	concentrations []float32
}

func (s *shared) sampler() Sampler {
	return Sampler{Env: s.env, Constants: s.meta.Constants}
}

func (s *shared) sample(filaments []Filament, p r3.Vec) float64 {
	if !s.env.IsInBounds(p) {
		slog.Error("concentration requested outside the environment", "point", p)
		return 0
	}
	if s.concentrations != nil {
		return float64(s.concentrations[s.env.IndexFrom3D(s.env.CoordsToIndices(p))])
	}
	return s.sampler().Concentration(filaments, p)
}

// SampleWind returns the ambient wind in the cell containing p, or zero
// outside the environment.
func (s *shared) SampleWind(p r3.Vec) r3.Vec {
	idx := s.env.CoordsToIndices(p)
	if !s.env.IsInBoundsIndex(idx) {
		return r3.Vec{}
	}
	return s.wind.Current()[s.env.IndexFrom3D(idx)]
}

func (s *shared) Metadata() Metadata                    { return s.meta }
func (s *shared) Environment() *environment.Environment { return s.env }
func (s *shared) WindIndex() int                        { return s.wind.CurrentIndex() }

// Concentrations returns the precomputed grid, or nil.
func (s *shared) Concentrations() []float32 { return s.concentrations }
