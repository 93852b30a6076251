// Package simulation advances and replays filament-based gas dispersion.
//
// A filament is an isotropic 3D Gaussian puff. Running moves filaments
// through the wind field of an environment and optionally persists
// snapshots; Playback replays those snapshots. Both answer point queries for
// concentration and wind through the same sampling code.
package simulation

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/gaden/environment"
	"github.com/pthm-cable/gaden/source"
)

// GasConstant is R in cm³·atm/(mol·K).
const GasConstant = 82.057338

// sqrt(8π³), the Gaussian normalization without sigma.
var gaussianNorm = math.Sqrt(8 * math.Pi * math.Pi * math.Pi)

// Filament is one simulated puff. Sigma is in cm, Position in m.
type Filament struct {
	Position r3.Vec
	Sigma    float64
	Active   bool
}

// Constants converts filament geometry into concentration.
type Constants struct {
	TotalMolesInFilament  float64
	NumMolesAllGasesIncm3 float64
}

// NewConstants derives the constants from the ideal gas law for filaments
// created with initialSigma [cm] and ppmCenter at their center.
func NewConstants(temperature, pressure, ppmCenter, initialSigma float64) Constants {
	numMolesAll := pressure / (GasConstant * temperature)
	centerMoles := ppmCenter / 1e6 * numMolesAll
	return Constants{
		TotalMolesInFilament:  centerMoles * gaussianNorm * initialSigma * initialSigma * initialSigma,
		NumMolesAllGasesIncm3: numMolesAll,
	}
}

// Metadata describes what a simulation is releasing.
type Metadata struct {
	Source    source.Source
	Constants Constants
}

// Simulation is the query surface shared by live and replayed runs.
type Simulation interface {
	AdvanceTimestep() error
	Filaments() []Filament
	Metadata() Metadata
	Environment() *environment.Environment
	WindIndex() int
	SampleConcentration(p r3.Vec) float64
	SampleWind(p r3.Vec) r3.Vec
}
