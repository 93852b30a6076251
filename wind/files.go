package wind

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/gaden/codec"
	"github.com/pthm-cable/gaden/errs"
)

// File format versions. Files with major >= 2 store interleaved float32
// vectors after a minor version; older ones store three float64 blocks.
const (
	FileVersionMajor = 3
	FileVersionMinor = 0

	// splitFileMarker opened the obsolete _U/_V/_W three-file layout.
	splitFileMarker = 999
)

// DefaultPrefix is the file name prefix used inside an environment's wind directory.
const DefaultPrefix = "wind_iteration"

// ErrSplitFormat reports a file in the retired three-file layout.
var ErrSplitFormat = fmt.Errorf("%w: old style wind files (split into _U, _V, _W) are no longer supported, convert them to the current format", errs.ErrMalformedData)

// legacyWarning fires the first time a process decodes a pre-v2 field.
var legacyWarning sync.Once

// EncodeField serializes one wind field in the current format.
func EncodeField(field []r3.Vec) []byte {
	w := codec.NewWriter(make([]byte, 8+12*len(field)))
	w.WriteInt32(FileVersionMajor)
	w.WriteInt32(FileVersionMinor)
	for _, v := range field {
		w.WriteVec3f(v)
	}
	return w.Bytes()
}

// EncodeLegacyField serializes a field in the pre-2.0 layout: a major
// version followed by the x, y and z components as separate float64 blocks.
func EncodeLegacyField(field []r3.Vec) []byte {
	w := codec.NewWriter(make([]byte, 4+24*len(field)))
	w.WriteInt32(1)
	for _, v := range field {
		w.WriteFloat64(v.X)
	}
	for _, v := range field {
		w.WriteFloat64(v.Y)
	}
	for _, v := range field {
		w.WriteFloat64(v.Z)
	}
	return w.Bytes()
}

// DecodeField parses a wind file holding numCells vectors.
func DecodeField(data []byte, numCells int) ([]r3.Vec, error) {
	r := codec.NewReader(data)
	major := r.ReadInt32()
	if err := r.Err(); err != nil {
		return nil, err
	}

	field := make([]r3.Vec, numCells)
	switch {
	case major == splitFileMarker:
		return nil, ErrSplitFormat
	case major >= 2:
		r.ReadInt32() // minor, no layout differences yet
		for i := range field {
			field[i] = r.ReadVec3f()
		}
	default:
		legacyWarning.Do(func() {
			slog.Warn("reading wind files in the legacy per-axis float64 layout, regenerate them to the current format",
				"version", major,
				"current", FileVersionMajor,
			)
		})
		for i := range field {
			field[i].X = r.ReadFloat64()
		}
		for i := range field {
			field[i].Y = r.ReadFloat64()
		}
		for i := range field {
			field[i].Z = r.ReadFloat64()
		}
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("wind field with %d cells: %w", numCells, err)
	}
	return field, nil
}

// ReadFile loads one wind field file.
func ReadFile(path string, numCells int) ([]r3.Vec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: wind file %s", errs.ErrNotFound, path)
		}
		return nil, fmt.Errorf("reading wind file %s: %w", path, err)
	}
	field, err := DecodeField(data, numCells)
	if err != nil {
		return nil, fmt.Errorf("parsing wind file %s: %w", path, err)
	}
	return field, nil
}

// FilePaths lists {prefix}_{i}{ext} for i = 0, 1, ... up to the first
// missing file.
func FilePaths(prefix, ext string) []string {
	var paths []string
	for i := 0; ; i++ {
		path := fmt.Sprintf("%s_%d%s", prefix, i, ext)
		if _, err := os.Stat(path); err != nil {
			return paths
		}
		paths = append(paths, path)
	}
}

// LoadFiles reads every {prefix}_{i}{ext} file and builds a sequence.
func LoadFiles(prefix, ext string, numCells int, loop LoopConfig) (*Sequence, error) {
	paths := FilePaths(prefix, ext)
	fields := make([][]r3.Vec, len(paths))
	for i, path := range paths {
		field, err := ReadFile(path, numCells)
		if err != nil {
			return nil, err
		}
		fields[i] = field
	}
	return NewSequence(fields, numCells, loop), nil
}

// WriteFiles writes every iteration to dir/{prefix}_{i}.
func (s *Sequence) WriteFiles(dir, prefix string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating wind directory: %w", err)
	}
	for i, field := range s.fields {
		path := filepath.Join(dir, fmt.Sprintf("%s_%d", prefix, i))
		if err := os.WriteFile(path, EncodeField(field), 0644); err != nil {
			return fmt.Errorf("writing wind file %s: %w", path, err)
		}
	}
	return nil
}
