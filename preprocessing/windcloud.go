package preprocessing

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/gaden/environment"
	"github.com/pthm-cable/gaden/errs"
)

// ParseOpenFoamVectorCloud reads one CSV point cloud per wind iteration, as
// exported from ParaView, and assigns every sample to the cell containing
// its point. Depending on the exporter version a row is (point, vector) or
// (vector, point); the header decides which.
func ParseOpenFoamVectorCloud(paths []string, env *environment.Environment) ([][]r3.Vec, error) {
	fields := make([][]r3.Vec, 0, len(paths))
	for _, path := range paths {
		field, err := parseVectorCloud(path, env)
		if err != nil {
			return nil, err
		}
		fields = append(fields, field)
	}
	return fields, nil
}

func parseVectorCloud(path string, env *environment.Environment) ([]r3.Vec, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: wind cloud %s", errs.ErrNotFound, path)
		}
		return nil, fmt.Errorf("opening wind cloud: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return nil, fmt.Errorf("%w: %s: empty wind cloud", errs.ErrMalformedData, path)
	}
	first, _, _ := strings.Cut(sc.Text(), ",")
	pointsFirst := strings.Contains(first, "Points")

	field := make([]r3.Vec, env.NumCells())
	line := 1
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		vals, err := parseFloats(text, 6)
		if err != nil {
			return nil, fmt.Errorf("%w: %s:%d: %v", errs.ErrMalformedData, path, line, err)
		}
		a := r3.Vec{X: vals[0], Y: vals[1], Z: vals[2]}
		b := r3.Vec{X: vals[3], Y: vals[4], Z: vals[5]}
		point, vec := b, a
		if pointsFirst {
			point, vec = a, b
		}
		idx := env.CoordsToIndices(point)
		if !env.IsInBoundsIndex(idx) {
			continue
		}
		field[env.IndexFrom3D(idx)] = vec
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading wind cloud: %w", err)
	}
	return field, nil
}

// ParseUniformWind reads one "x,y,z" line per wind iteration and replicates
// each vector over every cell.
func ParseUniformWind(path string, numCells int) ([][]r3.Vec, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: uniform wind %s", errs.ErrNotFound, path)
		}
		return nil, fmt.Errorf("opening uniform wind: %w", err)
	}
	defer f.Close()

	var fields [][]r3.Vec
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		vals, err := parseFloats(text, 3)
		if err != nil {
			return nil, fmt.Errorf("%w: %s:%d: %v", errs.ErrMalformedData, path, line, err)
		}
		v := r3.Vec{X: vals[0], Y: vals[1], Z: vals[2]}
		field := make([]r3.Vec, numCells)
		for i := range field {
			field[i] = v
		}
		fields = append(fields, field)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading uniform wind: %w", err)
	}
	return fields, nil
}

// parseFloats reads the first n comma separated values of line.
func parseFloats(line string, n int) ([]float64, error) {
	parts := strings.Split(line, ",")
	if len(parts) < n {
		return nil, fmt.Errorf("expected %d values, got %d", n, len(parts))
	}
	out := make([]float64, n)
	for i := range out {
		v, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
