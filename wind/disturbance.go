package wind

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"

	"github.com/pthm-cable/gaden/environment"
	"github.com/pthm-cable/gaden/errs"
)

const (
	gasConstant = 82.057338 // [cm³·atm/(mol·K)]
	airMolar    = 28.966    // [g/mol]
	gravity     = 9.8

	// far-field jet fit for a hovering quadrotor (IEEE doc 10804051)
	jetVirtualOrigin = -5.817
	jetDecay         = 10.11
	jetSpreadingRate = 0.07668
	numRotors        = 4
)

// Quadrotor models the downwash of a hovering multirotor as an axisymmetric
// far-field jet pointing down from Position.
type Quadrotor struct {
	Position      r3.Vec
	MotorDistance float64 // [m]
	Mass          float64 // [kg]
	RotorRadius   float64 // [m]
}

// quadrotorDoc is the YAML shape of a Quadrotor, with the position as [x, y, z].
type quadrotorDoc struct {
	Position      [3]float64 `yaml:"position"`
	MotorDistance float64    `yaml:"motor_distance"`
	Mass          float64    `yaml:"mass"`
	RotorRadius   float64    `yaml:"rotor_radius"`
}

func (q Quadrotor) MarshalYAML() (any, error) {
	return quadrotorDoc{
		Position:      [3]float64{q.Position.X, q.Position.Y, q.Position.Z},
		MotorDistance: q.MotorDistance,
		Mass:          q.Mass,
		RotorRadius:   q.RotorRadius,
	}, nil
}

func (q *Quadrotor) UnmarshalYAML(value *yaml.Node) error {
	var doc quadrotorDoc
	if err := value.Decode(&doc); err != nil {
		return fmt.Errorf("%w: disturbance: %v", errs.ErrMalformedData, err)
	}
	*q = Quadrotor{
		Position:      r3.Vec{X: doc.Position[0], Y: doc.Position[1], Z: doc.Position[2]},
		MotorDistance: doc.MotorDistance,
		Mass:          doc.Mass,
		RotorRadius:   doc.RotorRadius,
	}
	return nil
}

// Validate rejects vehicles whose jet fit is undefined.
func (q Quadrotor) Validate() error {
	switch {
	case q.MotorDistance <= 0:
		return fmt.Errorf("%w: motor_distance must be positive", errs.ErrConfiguration)
	case q.RotorRadius <= 0:
		return fmt.Errorf("%w: rotor_radius must be positive", errs.ErrConfiguration)
	case q.Mass <= 0:
		return fmt.Errorf("%w: mass must be positive", errs.ErrConfiguration)
	}
	return nil
}

// AirDensity returns the density of dry air in kg/m³.
func AirDensity(pressure, temperature float64) float64 {
	r := gasConstant * 0.001 // L·atm/(mol·K)
	return pressure * airMolar / (r * temperature)
}

// Speed returns the induced airflow speed at radial distance r and
// downstream distance s from the rotor plane. A vehicle that fails Validate
// induces no flow.
func (q Quadrotor) Speed(r, s, pressure, temperature float64) float64 {
	if q.Validate() != nil {
		return 0
	}
	halfWidth := jetSpreadingRate*(s-jetVirtualOrigin) + 0.1
	l := q.MotorDistance
	r, s, halfWidth = r/l, s/l, halfWidth/l
	if s <= jetVirtualOrigin || halfWidth <= 0 {
		return 0
	}

	xi := r / halfWidth
	rho := AirDensity(pressure, temperature)
	jet := math.Sqrt(q.Mass * gravity / (2 * rho * math.Pi * q.RotorRadius * q.RotorRadius) * numRotors)

	centerline := jet * jetDecay / (s - jetVirtualOrigin)
	den := 1 + (math.Sqrt2-1)*xi*xi
	return centerline / (den * den)
}

// Field fills dst with the disturbance at every cell center, radially away
// from the vehicle. dst must have env.NumCells() entries.
func (q Quadrotor) Field(env *environment.Environment, dst []r3.Vec, pressure, temperature float64) {
	for i := range dst {
		p := env.CoordsOfCellCenter(env.IndicesFrom1D(i))
		rel := r3.Sub(p, q.Position)
		n := r3.Norm(rel)
		if n == 0 {
			dst[i] = r3.Vec{}
			continue
		}
		s := -rel.Z
		r := math.Hypot(rel.X, rel.Y)
		dst[i] = r3.Scale(q.Speed(r, s, pressure, temperature)/n, rel)
	}
}
