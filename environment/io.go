package environment

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/gaden/errs"
)

// DefaultFileName is the conventional name of the occupancy grid text file.
const DefaultFileName = "OccupancyGrid3D.csv"

// WriteToFile writes the grid in the plain-text format: four header lines,
// then for every z layer one line per x index listing the y cells, with a
// line containing ";" closing each layer.
func (e *Environment) WriteToFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating environment file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "#env_min(m) %g %g %g\n", e.MinCoord.X, e.MinCoord.Y, e.MinCoord.Z)
	fmt.Fprintf(w, "#env_max(m) %g %g %g\n", e.MaxCoord.X, e.MaxCoord.Y, e.MaxCoord.Z)
	fmt.Fprintf(w, "#num_cells %d %d %d\n", e.Dimensions.X, e.Dimensions.Y, e.Dimensions.Z)
	fmt.Fprintf(w, "#cell_size(m) %g\n", e.CellSize)

	for z := 0; z < e.Dimensions.Z; z++ {
		for x := 0; x < e.Dimensions.X; x++ {
			for y := 0; y < e.Dimensions.Y; y++ {
				if y > 0 {
					w.WriteByte(' ')
				}
				w.WriteString(strconv.Itoa(int(e.Cells[e.IndexFrom3D(Index{x, y, z})])))
			}
			w.WriteByte('\n')
		}
		w.WriteString(";\n")
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("writing environment file: %w", err)
	}
	return f.Close()
}

// ReadFromFile loads a grid written by WriteToFile. A missing file yields
// errs.ErrNotFound, any parse problem errs.ErrMalformedData.
func ReadFromFile(path string) (*Environment, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: environment file %s", errs.ErrNotFound, path)
		}
		return nil, fmt.Errorf("opening environment file: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var desc Description
	header := []struct {
		prefix string
		parse  func(fields []string) error
	}{
		{"#env_min(m)", func(fs []string) (err error) { desc.MinCoord, err = parseVec(fs); return }},
		{"#env_max(m)", func(fs []string) (err error) { desc.MaxCoord, err = parseVec(fs); return }},
		{"#num_cells", func(fs []string) (err error) { desc.Dimensions, err = parseIndex(fs); return }},
		{"#cell_size(m)", func(fs []string) (err error) {
			if len(fs) != 1 {
				return fmt.Errorf("expected 1 value, got %d", len(fs))
			}
			desc.CellSize, err = strconv.ParseFloat(fs[0], 64)
			return
		}},
	}
	for _, h := range header {
		if !sc.Scan() {
			return nil, fmt.Errorf("%w: %s: missing %s header", errs.ErrMalformedData, path, h.prefix)
		}
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || fields[0] != h.prefix {
			return nil, fmt.Errorf("%w: %s: expected %s header, got %q", errs.ErrMalformedData, path, h.prefix, sc.Text())
		}
		if err := h.parse(fields[1:]); err != nil {
			return nil, fmt.Errorf("%w: %s: %s: %v", errs.ErrMalformedData, path, h.prefix, err)
		}
	}
	if desc.CellSize <= 0 || desc.Dimensions.X <= 0 || desc.Dimensions.Y <= 0 || desc.Dimensions.Z <= 0 {
		return nil, fmt.Errorf("%w: %s: invalid grid geometry %+v", errs.ErrMalformedData, path, desc)
	}

	env := New(desc, Free)
	x, z := 0, 0
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if line == ";" {
			x = 0
			z++
			continue
		}
		if z >= desc.Dimensions.Z || x >= desc.Dimensions.X {
			return nil, fmt.Errorf("%w: %s: more rows than declared dimensions", errs.ErrMalformedData, path)
		}
		fields := strings.Fields(line)
		if len(fields) != desc.Dimensions.Y {
			return nil, fmt.Errorf("%w: %s: row has %d cells, want %d", errs.ErrMalformedData, path, len(fields), desc.Dimensions.Y)
		}
		for y, field := range fields {
			v, err := strconv.Atoi(field)
			if err != nil || v < int(Free) || v > int(Outlet) {
				return nil, fmt.Errorf("%w: %s: invalid cell code %q", errs.ErrMalformedData, path, field)
			}
			env.Cells[env.IndexFrom3D(Index{x, y, z})] = CellState(v)
		}
		x++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading environment file: %w", err)
	}
	return env, nil
}

func parseVec(fields []string) (r3.Vec, error) {
	if len(fields) != 3 {
		return r3.Vec{}, fmt.Errorf("expected 3 values, got %d", len(fields))
	}
	var v [3]float64
	for i, f := range fields {
		n, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return r3.Vec{}, err
		}
		v[i] = n
	}
	return r3.Vec{X: v[0], Y: v[1], Z: v[2]}, nil
}

func parseIndex(fields []string) (Index, error) {
	if len(fields) != 3 {
		return Index{}, fmt.Errorf("expected 3 values, got %d", len(fields))
	}
	var v [3]int
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return Index{}, err
		}
		v[i] = n
	}
	return Index{v[0], v[1], v[2]}, nil
}
