package source

import (
	"fmt"
	"log/slog"
	"math/rand/v2"

	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"

	"github.com/pthm-cable/gaden/codec"
	"github.com/pthm-cable/gaden/errs"
)

// Kind tags the emitter shape.
type Kind uint8

const (
	KindPoint Kind = iota
	KindBox
	KindLine
	KindSphere
	KindCylinder
)

var kindTags = [...]string{"point", "box", "line", "sphere", "cylinder"}

func (k Kind) String() string {
	if int(k) < len(kindTags) {
		return kindTags[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// ParseKind maps a type tag to its Kind.
func ParseKind(tag string) (Kind, bool) {
	for i, t := range kindTags {
		if t == tag {
			return Kind(i), true
		}
	}
	return KindPoint, false
}

// Defaults for the common emitter fields.
const (
	DefaultInitialSigma    = 10.0 // [cm]
	DefaultPPMCenter       = 20.0
	DefaultFilamentsPerSec = 10.0
)

// Source is a gas emitter. Kind selects which shape fields apply:
// Size for boxes, LineEnd for lines, Radius for spheres and cylinders,
// Height for cylinders.
type Source struct {
	Kind     Kind
	Position r3.Vec // [m]
	GasType  GasType

	InitialSigma    float64 // [cm]
	PPMCenter       float64 // concentration at the center of a new filament
	FilamentsPerSec float64

	Size    r3.Vec
	LineEnd r3.Vec
	Radius  float64
	Height  float64

	radiusSq float64
}

func base(kind Kind, pos r3.Vec, gas GasType) Source {
	return Source{
		Kind:            kind,
		Position:        pos,
		GasType:         gas,
		InitialSigma:    DefaultInitialSigma,
		PPMCenter:       DefaultPPMCenter,
		FilamentsPerSec: DefaultFilamentsPerSec,
	}
}

// NewPoint returns a source emitting at pos.
func NewPoint(pos r3.Vec, gas GasType) Source {
	return base(KindPoint, pos, gas)
}

// NewBox returns a source emitting uniformly in a box of the given size centered at pos.
func NewBox(pos, size r3.Vec, gas GasType) Source {
	s := base(KindBox, pos, gas)
	s.Size = size
	return s
}

// NewLine returns a source emitting uniformly along the segment pos-end.
func NewLine(pos, end r3.Vec, gas GasType) Source {
	s := base(KindLine, pos, gas)
	s.LineEnd = end
	return s
}

// NewSphere returns a source emitting uniformly inside a sphere.
func NewSphere(pos r3.Vec, radius float64, gas GasType) Source {
	s := base(KindSphere, pos, gas)
	s.SetRadius(radius)
	return s
}

// NewCylinder returns a source emitting uniformly inside a vertical cylinder centered at pos.
func NewCylinder(pos r3.Vec, radius, height float64, gas GasType) Source {
	s := base(KindCylinder, pos, gas)
	s.SetRadius(radius)
	s.Height = height
	return s
}

// SetRadius updates the radius and its cached square.
func (s *Source) SetRadius(r float64) {
	s.Radius = r
	s.radiusSq = r * r
}

func (s *Source) radiusSquared() float64 {
	if s.radiusSq == 0 && s.Radius != 0 {
		s.radiusSq = s.Radius * s.Radius
	}
	return s.radiusSq
}

// Emit samples a spawn position.
func (s *Source) Emit(rng *rand.Rand) r3.Vec {
	switch s.Kind {
	case KindBox:
		return r3.Vec{
			X: s.Position.X + (rng.Float64()-0.5)*s.Size.X,
			Y: s.Position.Y + (rng.Float64()-0.5)*s.Size.Y,
			Z: s.Position.Z + (rng.Float64()-0.5)*s.Size.Z,
		}
	case KindLine:
		t := rng.Float64()
		return r3.Add(s.Position, r3.Scale(t, r3.Sub(s.LineEnd, s.Position)))
	case KindSphere:
		r2 := s.radiusSquared()
		if r2 == 0 {
			return s.Position
		}
		for {
			p := r3.Vec{
				X: (2*rng.Float64() - 1) * s.Radius,
				Y: (2*rng.Float64() - 1) * s.Radius,
				Z: (2*rng.Float64() - 1) * s.Radius,
			}
			if r3.Norm2(p) <= r2 {
				return r3.Add(s.Position, p)
			}
		}
	case KindCylinder:
		r2 := s.radiusSquared()
		var x, y float64
		for r2 > 0 {
			x = (2*rng.Float64() - 1) * s.Radius
			y = (2*rng.Float64() - 1) * s.Radius
			if x*x+y*y <= r2 {
				break
			}
		}
		z := (rng.Float64() - 0.5) * s.Height
		return r3.Add(s.Position, r3.Vec{X: x, Y: y, Z: z})
	}
	return s.Position
}

// EncodeBinary writes the tagged record: type tag, shape fields, position,
// gas type, then initial sigma, ppm at center and emission rate.
func (s *Source) EncodeBinary(w *codec.Writer) {
	w.WriteString(s.Kind.String())
	switch s.Kind {
	case KindBox:
		w.WriteVec3f(s.Size)
	case KindLine:
		w.WriteVec3f(s.LineEnd)
	case KindSphere:
		w.WriteFloat32(float32(s.Radius))
	case KindCylinder:
		w.WriteFloat32(float32(s.Radius))
		w.WriteFloat32(float32(s.Height))
	}
	w.WriteVec3f(s.Position)
	w.WriteInt32(int32(s.GasType))
	w.WriteFloat32(float32(s.InitialSigma))
	w.WriteFloat32(float32(s.PPMCenter))
	w.WriteFloat32(float32(s.FilamentsPerSec))
}

// DecodeBinary reads a record written by EncodeBinary.
func DecodeBinary(r *codec.Reader) (Source, error) {
	tag := r.ReadString()
	if err := r.Err(); err != nil {
		return Source{}, err
	}
	kind, ok := ParseKind(tag)
	if !ok {
		return Source{}, fmt.Errorf("%w: invalid source type %q", errs.ErrMalformedData, tag)
	}

	s := Source{Kind: kind}
	switch kind {
	case KindBox:
		s.Size = r.ReadVec3f()
	case KindLine:
		s.LineEnd = r.ReadVec3f()
	case KindSphere:
		s.SetRadius(float64(r.ReadFloat32()))
	case KindCylinder:
		s.SetRadius(float64(r.ReadFloat32()))
		s.Height = float64(r.ReadFloat32())
	}
	s.Position = r.ReadVec3f()
	s.GasType = GasType(r.ReadInt32())
	s.InitialSigma = float64(r.ReadFloat32())
	s.PPMCenter = float64(r.ReadFloat32())
	s.FilamentsPerSec = float64(r.ReadFloat32())
	if err := r.Err(); err != nil {
		return Source{}, fmt.Errorf("decoding %s source: %w", tag, err)
	}
	return s, nil
}

type document struct {
	SourceType      string      `yaml:"sourceType"`
	Size            *[3]float64 `yaml:"size,omitempty,flow"`
	LineEnd         *[3]float64 `yaml:"lineEnd,omitempty,flow"`
	Radius          *float64    `yaml:"radius,omitempty"`
	Height          *float64    `yaml:"height,omitempty"`
	Position        [3]float64  `yaml:"position,flow"`
	GasType         GasType     `yaml:"gasType"`
	InitialSigma    float64     `yaml:"initialSigma"`
	PPMCenter       float64     `yaml:"ppmCenter"`
	FilamentsPerSec float64     `yaml:"numFilaments_sec"`
}

func toArray(v r3.Vec) [3]float64   { return [3]float64{v.X, v.Y, v.Z} }
func fromArray(a [3]float64) r3.Vec { return r3.Vec{X: a[0], Y: a[1], Z: a[2]} }

// MarshalYAML writes only the fields relevant to the source's kind.
func (s Source) MarshalYAML() (interface{}, error) {
	doc := document{
		SourceType:      s.Kind.String(),
		Position:        toArray(s.Position),
		GasType:         s.GasType,
		InitialSigma:    s.InitialSigma,
		PPMCenter:       s.PPMCenter,
		FilamentsPerSec: s.FilamentsPerSec,
	}
	switch s.Kind {
	case KindBox:
		size := toArray(s.Size)
		doc.Size = &size
	case KindLine:
		end := toArray(s.LineEnd)
		doc.LineEnd = &end
	case KindSphere:
		doc.Radius = &s.Radius
	case KindCylinder:
		doc.Radius = &s.Radius
		doc.Height = &s.Height
	}
	return doc, nil
}

// UnmarshalYAML overlays the document onto s, so keys missing from the
// document keep their current values. An unknown sourceType falls back to a
// point source with a warning.
func (s *Source) UnmarshalYAML(value *yaml.Node) error {
	doc := document{
		SourceType:      s.Kind.String(),
		Position:        toArray(s.Position),
		GasType:         s.GasType,
		InitialSigma:    s.InitialSigma,
		PPMCenter:       s.PPMCenter,
		FilamentsPerSec: s.FilamentsPerSec,
	}
	if err := value.Decode(&doc); err != nil {
		return fmt.Errorf("%w: source: %v", errs.ErrMalformedData, err)
	}

	kind, ok := ParseKind(doc.SourceType)
	if !ok {
		slog.Warn("invalid source type, using a point source", "sourceType", doc.SourceType)
	}
	s.Kind = kind
	s.Position = fromArray(doc.Position)
	s.GasType = doc.GasType
	s.InitialSigma = doc.InitialSigma
	s.PPMCenter = doc.PPMCenter
	s.FilamentsPerSec = doc.FilamentsPerSec
	if doc.Size != nil {
		s.Size = fromArray(*doc.Size)
	}
	if doc.LineEnd != nil {
		s.LineEnd = fromArray(*doc.LineEnd)
	}
	if doc.Radius != nil {
		s.SetRadius(*doc.Radius)
	}
	if doc.Height != nil {
		s.Height = *doc.Height
	}
	return nil
}
