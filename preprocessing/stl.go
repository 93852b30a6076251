package preprocessing

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/gaden/errs"
)

const (
	stlHeaderSize = 80
	stlRecordSize = 50 // normal + 3 vertices as float32, 2 attribute bytes
)

// ParseSTLFile reads an ASCII or binary STL file. Files whose first bytes
// are "solid" are parsed as ASCII.
func ParseSTLFile(path string) ([]Triangle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: mesh %s", errs.ErrNotFound, path)
		}
		return nil, fmt.Errorf("reading mesh %s: %w", path, err)
	}
	tris, err := ParseSTL(data)
	if err != nil {
		return nil, fmt.Errorf("parsing mesh %s: %w", path, err)
	}
	return tris, nil
}

// ParseSTL decodes STL data held in memory.
func ParseSTL(data []byte) ([]Triangle, error) {
	if isASCII(data) {
		return parseASCII(data)
	}
	return parseBinary(data)
}

func isASCII(data []byte) bool {
	head := data
	if len(head) > 5 {
		head = head[:5]
	}
	return bytes.Equal(head, []byte("solid"))
}

func parseBinary(data []byte) ([]Triangle, error) {
	if len(data) < stlHeaderSize+4 {
		return nil, fmt.Errorf("%w: binary STL shorter than header", errs.ErrMalformedData)
	}
	count := int(binary.LittleEndian.Uint32(data[stlHeaderSize:]))
	body := data[stlHeaderSize+4:]
	if len(body) < count*stlRecordSize {
		return nil, fmt.Errorf("%w: binary STL declares %d triangles, holds %d", errs.ErrMalformedData, count, len(body)/stlRecordSize)
	}

	vec := func(p []byte) r3.Vec {
		return r3.Vec{
			X: float64(math.Float32frombits(binary.LittleEndian.Uint32(p[0:]))),
			Y: float64(math.Float32frombits(binary.LittleEndian.Uint32(p[4:]))),
			Z: float64(math.Float32frombits(binary.LittleEndian.Uint32(p[8:]))),
		}
	}

	tris := make([]Triangle, count)
	for i := range tris {
		rec := body[i*stlRecordSize:]
		// the stored normal at rec[0:12] is ignored; it is recomputed from the vertices
		tris[i] = Triangle{P1: vec(rec[12:]), P2: vec(rec[24:]), P3: vec(rec[36:])}
	}
	return tris, nil
}

func parseASCII(data []byte) ([]Triangle, error) {
	var tris []Triangle
	var verts []r3.Vec

	sc := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "vertex":
			if len(fields) != 4 {
				return nil, fmt.Errorf("%w: line %d: vertex needs 3 coordinates", errs.ErrMalformedData, line)
			}
			var c [3]float64
			for i := range c {
				v, err := strconv.ParseFloat(fields[i+1], 64)
				if err != nil {
					return nil, fmt.Errorf("%w: line %d: %v", errs.ErrMalformedData, line, err)
				}
				c[i] = v
			}
			verts = append(verts, r3.Vec{X: c[0], Y: c[1], Z: c[2]})
		case "endloop":
			if len(verts) != 3 {
				return nil, fmt.Errorf("%w: line %d: facet has %d vertices", errs.ErrMalformedData, line, len(verts))
			}
			tris = append(tris, Triangle{P1: verts[0], P2: verts[1], P3: verts[2]})
			verts = verts[:0]
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scanning ASCII STL: %w", err)
	}
	return tris, nil
}

// EncodeBinarySTL serializes triangles in binary STL form.
func EncodeBinarySTL(tris []Triangle) []byte {
	out := make([]byte, stlHeaderSize+4+len(tris)*stlRecordSize)
	copy(out, "binary stl")
	binary.LittleEndian.PutUint32(out[stlHeaderSize:], uint32(len(tris)))
	put := func(p []byte, v r3.Vec) {
		binary.LittleEndian.PutUint32(p[0:], math.Float32bits(float32(v.X)))
		binary.LittleEndian.PutUint32(p[4:], math.Float32bits(float32(v.Y)))
		binary.LittleEndian.PutUint32(p[8:], math.Float32bits(float32(v.Z)))
	}
	for i, t := range tris {
		rec := out[stlHeaderSize+4+i*stlRecordSize:]
		n := t.Normal()
		if norm := r3.Norm(n); norm > 0 {
			n = r3.Scale(1/norm, n)
		}
		put(rec[0:], n)
		put(rec[12:], t.P1)
		put(rec[24:], t.P2)
		put(rec[36:], t.P3)
	}
	return out
}
