package simulation

import (
	"fmt"

	"github.com/pthm-cable/gaden/codec"
	"github.com/pthm-cable/gaden/environment"
	"github.com/pthm-cable/gaden/errs"
	"github.com/pthm-cable/gaden/source"
)

// Version identifies a snapshot layout.
type Version struct {
	Major int32
	Minor int32
}

// CurrentVersion is the layout written by EncodeSnapshot.
var CurrentVersion = Version{Major: 3, Minor: 0}

func (v Version) String() string { return fmt.Sprintf("%d.%d", v.Major, v.Minor) }

// Mode says which payload a snapshot carries.
type Mode uint8

const (
	ModeFilaments Mode = iota
	ModeConcentrations
)

var modeTags = [...]string{"filaments", "concentrations"}

func (m Mode) String() string {
	if int(m) < len(modeTags) {
		return modeTags[m]
	}
	return fmt.Sprintf("Mode(%d)", uint8(m))
}

// Record sizes in bytes: int32 id plus four coordinates.
const (
	filamentRecordSize     = 4 + 4*4
	filamentRecordSizeWide = 4 + 4*8
)

// Snapshot is the decoded content of one iteration file.
type Snapshot struct {
	Version     Version
	Description environment.Description
	// Source is complete only when HasSource is set; older layouts carry
	// just the position and gas type, and the 2.6 layout carries nothing.
	Source    source.Source
	HasSource bool
	Constants Constants
	WindIndex int
	Mode      Mode

	Filaments      []Filament
	Concentrations []float32

	// Legacy is set when the data came from a pre-current layout.
	Legacy bool
}

// EncodedSize returns an upper bound on the bytes EncodeSnapshot writes for s.
func (s *Snapshot) EncodedSize() int {
	const header = 8 + environment.DescriptionBlobSize + 128 + 8 + 4 + 24
	if s.Mode == ModeConcentrations {
		return header + 8 + 4*len(s.Concentrations)
	}
	return header + filamentRecordSize*len(s.Filaments)
}

// EncodeSnapshot writes s in the current layout. Only active filaments are
// written; their record id is their index in the payload.
func EncodeSnapshot(w *codec.Writer, s *Snapshot) error {
	w.WriteInt32(CurrentVersion.Major)
	w.WriteInt32(CurrentVersion.Minor)
	s.Description.Encode(w)
	s.Source.EncodeBinary(w)
	w.WriteFloat32(float32(s.Constants.TotalMolesInFilament))
	w.WriteFloat32(float32(s.Constants.NumMolesAllGasesIncm3))
	w.WriteInt32(int32(s.WindIndex))
	w.WriteString(s.Mode.String())

	switch s.Mode {
	case ModeConcentrations:
		w.WriteFloat32s(s.Concentrations)
	default:
		var id int32
		for _, f := range s.Filaments {
			if !f.Active {
				continue
			}
			w.WriteInt32(id)
			w.WriteVec3f(f.Position)
			w.WriteFloat32(float32(f.Sigma))
			id++
		}
	}
	if err := w.Err(); err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	return nil
}

type snapshotDecoder func(r *codec.Reader, s *Snapshot) error

func decoderFor(v Version) (snapshotDecoder, error) {
	switch {
	case v.Major <= 0:
		return nil, fmt.Errorf("%w: snapshot version %s", errs.ErrMalformedData, v)
	case v.Major == 1:
		return decodeV1, nil
	case v.Major == 2 && v.Minor <= 5:
		return decodeV2, nil
	case v.Major == 2:
		return decodeV26, nil
	default:
		return decodeCurrent, nil
	}
}

// DecodeSnapshot parses data into dst, reusing dst's filament and
// concentration storage. Every supported layout is recognized by its header.
func DecodeSnapshot(data []byte, dst *Snapshot) error {
	r := codec.NewReader(data)
	v := Version{Major: r.ReadInt32()}
	if v.Major != 1 {
		v.Minor = r.ReadInt32()
	}
	if err := r.Err(); err != nil {
		return fmt.Errorf("snapshot header: %w", err)
	}
	decode, err := decoderFor(v)
	if err != nil {
		return err
	}

	*dst = Snapshot{
		Version:        v,
		Filaments:      dst.Filaments[:0],
		Concentrations: dst.Concentrations[:0],
		Legacy:         v.Major < CurrentVersion.Major,
	}
	if err := decode(r, dst); err != nil {
		return fmt.Errorf("snapshot version %s: %w", v, err)
	}
	return nil
}

// decodeV1 reads the first layout: a double-precision header without minor
// version, double-precision metadata and double-precision records.
func decodeV1(r *codec.Reader, s *Snapshot) error {
	var d environment.Description
	d.MinCoord = r.ReadVec3d()
	d.MaxCoord = r.ReadVec3d()
	d.Dimensions = environment.Index{X: int(r.ReadInt32()), Y: int(r.ReadInt32()), Z: int(r.ReadInt32())}
	cellSize := r.ReadVec3d()
	d.CellSize = cellSize.X
	s.Description = d

	pos := r.ReadVec3d()
	gas := source.GasType(r.ReadInt32())
	s.Source = source.NewPoint(pos, gas)
	s.Constants.TotalMolesInFilament = r.ReadFloat64()
	s.Constants.NumMolesAllGasesIncm3 = r.ReadFloat64()
	s.WindIndex = int(r.ReadInt32())
	return readFilaments(r, s, true)
}

// decodeV2 reads 2.0 to 2.5: description blob, float32 source position,
// float64 constants, float64 records.
func decodeV2(r *codec.Reader, s *Snapshot) error {
	s.Description = environment.DecodeDescription(r)
	pos := r.ReadVec3f()
	gas := source.GasType(r.ReadInt32())
	s.Source = source.NewPoint(pos, gas)
	s.Constants.TotalMolesInFilament = r.ReadFloat64()
	s.Constants.NumMolesAllGasesIncm3 = r.ReadFloat64()
	s.WindIndex = int(r.ReadInt32())
	return readFilaments(r, s, true)
}

// decodeV26 reads 2.6 and later 2.x: no source record, float32 everywhere.
func decodeV26(r *codec.Reader, s *Snapshot) error {
	s.Description = environment.DecodeDescription(r)
	s.Source = source.Source{GasType: source.Unknown}
	s.Constants.TotalMolesInFilament = float64(r.ReadFloat32())
	s.Constants.NumMolesAllGasesIncm3 = float64(r.ReadFloat32())
	s.WindIndex = int(r.ReadInt32())
	return readFilaments(r, s, false)
}

func decodeCurrent(r *codec.Reader, s *Snapshot) error {
	s.Description = environment.DecodeDescription(r)
	if err := r.Err(); err != nil {
		return err
	}
	src, err := source.DecodeBinary(r)
	if err != nil {
		return err
	}
	s.Source = src
	s.HasSource = true
	s.Constants.TotalMolesInFilament = float64(r.ReadFloat32())
	s.Constants.NumMolesAllGasesIncm3 = float64(r.ReadFloat32())
	s.WindIndex = int(r.ReadInt32())

	tag := r.ReadString()
	if err := r.Err(); err != nil {
		return err
	}
	switch tag {
	case ModeFilaments.String():
		s.Mode = ModeFilaments
		return readFilaments(r, s, false)
	case ModeConcentrations.String():
		s.Mode = ModeConcentrations
		s.Concentrations = r.ReadFloat32s(s.Concentrations)
		if err := r.Err(); err != nil {
			return err
		}
		if n := s.Description.NumCells(); len(s.Concentrations) != n {
			return fmt.Errorf("%w: %d concentrations for %d cells", errs.ErrMalformedData, len(s.Concentrations), n)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown snapshot mode %q", errs.ErrMalformedData, tag)
	}
}

// readFilaments reads id+position+sigma records until the end of the data.
func readFilaments(r *codec.Reader, s *Snapshot, wide bool) error {
	if err := r.Err(); err != nil {
		return err
	}
	size := filamentRecordSize
	if wide {
		size = filamentRecordSizeWide
	}
	if rem := r.Remaining(); rem%size != 0 {
		return fmt.Errorf("%w: %d trailing bytes after filament records", errs.ErrMalformedData, rem%size)
	}

	s.Mode = ModeFilaments
	for !r.Ended() {
		r.ReadInt32()
		var f Filament
		if wide {
			f.Position = r.ReadVec3d()
			f.Sigma = r.ReadFloat64()
		} else {
			f.Position = r.ReadVec3f()
			f.Sigma = float64(r.ReadFloat32())
		}
		f.Active = true
		s.Filaments = append(s.Filaments, f)
	}
	return r.Err()
}
