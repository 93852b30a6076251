package wind

import (
	"math"

	"github.com/ojrac/opensimplex-go"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/gaden/environment"
)

// GustConfig describes a synthetic, spatially coherent wind sequence used
// when no CFD export is available.
type GustConfig struct {
	Base       r3.Vec  // mean wind [m/s]
	Amplitude  float64 // peak perturbation per axis [m/s]
	Scale      float64 // spatial wavelength of the perturbation [m]
	Iterations int     // number of fields to generate
	TimeStep   float64 // noise-time advance between fields
	Seed       int64
}

// Gusts generates cfg.Iterations fields of Base wind plus simplex noise.
// Obstacle and outlet cells get zero wind.
func Gusts(env *environment.Environment, cfg GustConfig) [][]r3.Vec {
	if cfg.Iterations < 1 {
		cfg.Iterations = 1
	}
	if cfg.Scale <= 0 {
		cfg.Scale = 1
	}
	if cfg.TimeStep <= 0 {
		cfg.TimeStep = 0.1
	}

	// one independent noise per axis
	noise := [3]opensimplex.Noise{
		opensimplex.New(cfg.Seed),
		opensimplex.New(cfg.Seed + 1),
		opensimplex.New(cfg.Seed + 2),
	}
	inv := 1 / cfg.Scale

	fields := make([][]r3.Vec, cfg.Iterations)
	for it := range fields {
		t := float64(it) * cfg.TimeStep
		field := make([]r3.Vec, env.NumCells())
		for i := range field {
			if env.Cells[i] != environment.Free {
				continue
			}
			p := env.CoordsOfCellCenter(env.IndicesFrom1D(i))
			x, y, z := p.X*inv, p.Y*inv, p.Z*inv+t
			field[i] = r3.Vec{
				X: cfg.Base.X + cfg.Amplitude*clampUnit(noise[0].Eval3(x, y, z)),
				Y: cfg.Base.Y + cfg.Amplitude*clampUnit(noise[1].Eval3(x, y, z)),
				Z: cfg.Base.Z + cfg.Amplitude*clampUnit(noise[2].Eval3(x, y, z)),
			}
		}
		fields[it] = field
	}
	return fields
}

// MeanSpeed returns the average vector magnitude of field.
func MeanSpeed(field []r3.Vec) float64 {
	if len(field) == 0 {
		return 0
	}
	var sum float64
	for _, v := range field {
		sum += r3.Norm(v)
	}
	return sum / float64(len(field))
}

// clampUnit limits v to [-1, 1].
func clampUnit(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}
