package simulation

import (
	"errors"
	"slices"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/gaden/source"
)

// Scene groups simulations sharing one environment, typically one per gas.
type Scene struct {
	sims []Simulation
}

// NewScene returns a scene over sims.
func NewScene(sims ...Simulation) *Scene {
	return &Scene{sims: sims}
}

// Add appends a simulation.
func (s *Scene) Add(sim Simulation) { s.sims = append(s.sims, sim) }

// Simulations returns the members in insertion order.
func (s *Scene) Simulations() []Simulation { return s.sims }

// AdvanceTimestep steps every simulation and joins their errors.
func (s *Scene) AdvanceTimestep() error {
	var errList []error
	for _, sim := range s.sims {
		if err := sim.AdvanceTimestep(); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

// GasTypes lists the distinct gases in insertion order.
func (s *Scene) GasTypes() []source.GasType {
	var gases []source.GasType
	for _, sim := range s.sims {
		g := sim.Metadata().Source.GasType
		if !slices.Contains(gases, g) {
			gases = append(gases, g)
		}
	}
	return gases
}

// SampleConcentrations returns the ppm at p for each gas in the scene.
// Simulations of the same gas are summed.
func (s *Scene) SampleConcentrations(p r3.Vec) map[source.GasType]float64 {
	out := make(map[source.GasType]float64, len(s.sims))
	for _, sim := range s.sims {
		out[sim.Metadata().Source.GasType] += sim.SampleConcentration(p)
	}
	return out
}

// SampleWind returns the wind at p from the first simulation.
func (s *Scene) SampleWind(p r3.Vec) r3.Vec {
	if len(s.sims) == 0 {
		return r3.Vec{}
	}
	return s.sims[0].SampleWind(p)
}
