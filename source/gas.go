// Package source describes gas emitters and the gases they release.
package source

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// GasType identifies the simulated gas.
type GasType int32

const (
	Unknown GasType = iota - 1
	Ethanol
	Methane
	Hydrogen
	Propanol
	Chlorine
	Fluorine
	Acetone
	Neon
	Helium
	Biogas
	Butane
	CarbonDioxide
	CarbonMonoxide
	Smoke
)

var gasNames = [...]string{
	"ethanol", "methane", "hydrogen", "propanol", "chlorine", "fluorine", "acetone",
	"neon", "helium", "biogas", "butane", "carbon_dioxide", "carbon_monoxide", "smoke",
}

// specificGravity relative to air, indexed by GasType.
var specificGravity = [...]float64{
	1.0378, // ethanol
	0.5537, // methane
	0.0696, // hydrogen
	1.23,   // propanol
	2.48,   // chlorine
	1.31,   // fluorine
	1.4529, // acetone
	0.7,    // neon
	0.138,  // helium
	0.8,    // biogas
	2.0061, // butane
	1.52,   // carbon dioxide
	0.967,  // carbon monoxide
	0.89,   // smoke
}

// Valid reports whether g names a known gas.
func (g GasType) Valid() bool {
	return g >= Ethanol && int(g) < len(gasNames)
}

// SpecificGravity returns the density of g relative to air. Unknown gases
// are treated as neutrally buoyant.
func (g GasType) SpecificGravity() float64 {
	if !g.Valid() {
		return 1
	}
	return specificGravity[g]
}

func (g GasType) String() string {
	if !g.Valid() {
		return "unknown"
	}
	return gasNames[g]
}

// ParseGasType accepts a gas name or its numeric index.
func ParseGasType(s string) (GasType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		g := GasType(n)
		if !g.Valid() && g != Unknown {
			return Unknown, fmt.Errorf("gas type index %d out of range", n)
		}
		return g, nil
	}
	if s == "unknown" {
		return Unknown, nil
	}
	for i, name := range gasNames {
		if name == s || strings.ReplaceAll(name, "_", "") == s {
			return GasType(i), nil
		}
	}
	return Unknown, fmt.Errorf("unknown gas type %q", s)
}

// MarshalYAML writes the gas name.
func (g GasType) MarshalYAML() (interface{}, error) {
	return g.String(), nil
}

// UnmarshalYAML accepts a name or an index.
func (g *GasType) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParseGasType(value.Value)
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}
