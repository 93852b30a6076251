package source

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"

	"github.com/pthm-cable/gaden/codec"
	"github.com/pthm-cable/gaden/errs"
)

func allKinds() []Source {
	pos := r3.Vec{X: 1, Y: 2, Z: 0.5}
	return []Source{
		NewPoint(pos, Methane),
		NewBox(pos, r3.Vec{X: 0.5, Y: 1, Z: 0.25}, Ethanol),
		NewLine(pos, r3.Vec{X: 3, Y: 2, Z: 0.5}, Acetone),
		NewSphere(pos, 0.75, Hydrogen),
		NewCylinder(pos, 0.5, 2, CarbonDioxide),
	}
}

func TestEmit_StaysInsideShape(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for _, src := range allKinds() {
		t.Run(src.Kind.String(), func(t *testing.T) {
			for range 2000 {
				p := src.Emit(rng)
				d := r3.Sub(p, src.Position)
				switch src.Kind {
				case KindPoint:
					require.Equal(t, src.Position, p)
				case KindBox:
					require.LessOrEqual(t, math.Abs(d.X), src.Size.X/2)
					require.LessOrEqual(t, math.Abs(d.Y), src.Size.Y/2)
					require.LessOrEqual(t, math.Abs(d.Z), src.Size.Z/2)
				case KindLine:
					require.InDelta(t, src.Position.Y, p.Y, 1e-12)
					require.GreaterOrEqual(t, p.X, src.Position.X)
					require.LessOrEqual(t, p.X, src.LineEnd.X)
				case KindSphere:
					require.LessOrEqual(t, r3.Norm(d), src.Radius+1e-12)
				case KindCylinder:
					require.LessOrEqual(t, math.Hypot(d.X, d.Y), src.Radius+1e-12)
					require.LessOrEqual(t, math.Abs(d.Z), src.Height/2)
				}
			}
		})
	}
}

func TestEmit_SphereFillsVolume(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	src := NewSphere(r3.Vec{}, 1, Methane)
	inner := 0
	const n = 20000
	for range n {
		if r3.Norm(src.Emit(rng)) < 0.5 {
			inner++
		}
	}
	// uniform in volume: P(r < R/2) = 1/8
	assert.InDelta(t, 0.125, float64(inner)/n, 0.015)
}

func TestEmit_ZeroValueSphere(t *testing.T) {
	src := Source{Kind: KindSphere, Radius: 2}
	p := src.Emit(rand.New(rand.NewPCG(5, 6)))
	assert.LessOrEqual(t, r3.Norm(p), 2.0)
}

func TestBinary_RoundTrip(t *testing.T) {
	for _, src := range allKinds() {
		t.Run(src.Kind.String(), func(t *testing.T) {
			src.InitialSigma = 4
			src.PPMCenter = 50
			src.FilamentsPerSec = 25
			w := codec.NewWriter(make([]byte, 128))
			src.EncodeBinary(w)
			require.NoError(t, w.Err())

			got, err := DecodeBinary(codec.NewReader(w.Bytes()))
			require.NoError(t, err)
			assert.Equal(t, src, got)
		})
	}
}

func TestBinary_Layout(t *testing.T) {
	src := NewCylinder(r3.Vec{X: 1}, 2, 3, Smoke)
	w := codec.NewWriter(make([]byte, 128))
	src.EncodeBinary(w)
	require.NoError(t, w.Err())
	// tag (8 + 8) + radius, height + position + gas + three common floats
	assert.Equal(t, 16+8+12+4+12, w.Offset())

	r := codec.NewReader(w.Bytes())
	assert.Equal(t, "cylinder", r.ReadString())
	assert.Equal(t, float32(2), r.ReadFloat32())
	assert.Equal(t, float32(3), r.ReadFloat32())
	assert.Equal(t, r3.Vec{X: 1}, r.ReadVec3f())
	assert.Equal(t, int32(Smoke), r.ReadInt32())
}

func TestBinary_BadTag(t *testing.T) {
	w := codec.NewWriter(make([]byte, 64))
	w.WriteString("torus")
	_, err := DecodeBinary(codec.NewReader(w.Bytes()))
	assert.True(t, errors.Is(err, errs.ErrMalformedData))

	_, err = DecodeBinary(codec.NewReader([]byte{3, 0}))
	assert.True(t, errors.Is(err, errs.ErrMalformedData))
}

func TestYAML_RoundTrip(t *testing.T) {
	for _, src := range allKinds() {
		t.Run(src.Kind.String(), func(t *testing.T) {
			data, err := yaml.Marshal(src)
			require.NoError(t, err)

			var got Source
			require.NoError(t, yaml.Unmarshal(data, &got))
			assert.Equal(t, src, got)
		})
	}
}

func TestYAML_Document(t *testing.T) {
	doc := `
sourceType: box
size: [1, 2, 3]
position: [0.5, 0.5, 1]
gasType: methane
numFilaments_sec: 40
`
	src := NewPoint(r3.Vec{}, Unknown)
	require.NoError(t, yaml.Unmarshal([]byte(doc), &src))
	assert.Equal(t, KindBox, src.Kind)
	assert.Equal(t, r3.Vec{X: 1, Y: 2, Z: 3}, src.Size)
	assert.Equal(t, Methane, src.GasType)
	assert.Equal(t, 40.0, src.FilamentsPerSec)
	assert.Equal(t, DefaultPPMCenter, src.PPMCenter, "missing keys keep their values")

	var fallback Source
	require.NoError(t, yaml.Unmarshal([]byte("sourceType: blob\ngasType: 2\n"), &fallback))
	assert.Equal(t, KindPoint, fallback.Kind)
	assert.Equal(t, Hydrogen, fallback.GasType)
}

func TestGasType(t *testing.T) {
	assert.Equal(t, 0.5537, Methane.SpecificGravity())
	assert.Equal(t, 0.89, Smoke.SpecificGravity())
	assert.Equal(t, 1.0, Unknown.SpecificGravity())
	assert.Equal(t, "carbon_monoxide", CarbonMonoxide.String())

	tests := []struct {
		in   string
		want GasType
		ok   bool
	}{
		{"ethanol", Ethanol, true},
		{"CarbonDioxide", CarbonDioxide, true},
		{"13", Smoke, true},
		{"-1", Unknown, true},
		{"14", Unknown, false},
		{"plasma", Unknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseGasType(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, err == nil)
		})
	}
}
