// Package codec provides the binary buffer reader/writer and the zlib
// compressor used for snapshot and wind files.
//
// All multi-byte values are little-endian. Strings and arrays carry a uint64
// length prefix. Both Writer and Reader keep a sticky error: after the first
// failure every further call is a no-op and Err reports the cause.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/gaden/errs"
)

var (
	// ErrBufferFull is returned when a write does not fit in the remaining capacity.
	ErrBufferFull = fmt.Errorf("%w: buffer full", errs.ErrMalformedData)
	// ErrShortBuffer is returned when a read runs past the end of the data.
	ErrShortBuffer = fmt.Errorf("%w: short buffer", errs.ErrMalformedData)
)

var le = binary.LittleEndian

// Writer appends fixed-size fields to a fixed-capacity byte buffer.
type Writer struct {
	buf []byte
	off int
	err error
}

// NewWriter returns a writer over buf. The capacity is len(buf).
func NewWriter(buf []byte) *Writer {
	return &Writer{buf: buf}
}

// Reset rewinds the cursor and clears the sticky error.
func (w *Writer) Reset() {
	w.off = 0
	w.err = nil
}

// Grow replaces the backing buffer with one of at least n bytes if the
// current one is smaller. Written data is preserved.
func (w *Writer) Grow(n int) {
	if n <= len(w.buf) {
		return
	}
	buf := make([]byte, n)
	copy(buf, w.buf[:w.off])
	w.buf = buf
}

// Bytes returns the written portion of the buffer.
func (w *Writer) Bytes() []byte { return w.buf[:w.off] }

// Offset returns the current cursor position.
func (w *Writer) Offset() int { return w.off }

// Err returns the first error encountered.
func (w *Writer) Err() error { return w.err }

func (w *Writer) reserve(n int) []byte {
	if w.err != nil {
		return nil
	}
	if w.off+n > len(w.buf) {
		w.err = fmt.Errorf("%w: need %d bytes at offset %d, capacity %d", ErrBufferFull, n, w.off, len(w.buf))
		return nil
	}
	p := w.buf[w.off : w.off+n]
	w.off += n
	return p
}

func (w *Writer) WriteInt32(v int32) {
	if p := w.reserve(4); p != nil {
		le.PutUint32(p, uint32(v))
	}
}

func (w *Writer) WriteUint32(v uint32) {
	if p := w.reserve(4); p != nil {
		le.PutUint32(p, v)
	}
}

func (w *Writer) WriteUint64(v uint64) {
	if p := w.reserve(8); p != nil {
		le.PutUint64(p, v)
	}
}

func (w *Writer) WriteFloat32(v float32) {
	if p := w.reserve(4); p != nil {
		le.PutUint32(p, math.Float32bits(v))
	}
}

func (w *Writer) WriteFloat64(v float64) {
	if p := w.reserve(8); p != nil {
		le.PutUint64(p, math.Float64bits(v))
	}
}

// WriteBytes copies p verbatim.
func (w *Writer) WriteBytes(p []byte) {
	if dst := w.reserve(len(p)); dst != nil {
		copy(dst, p)
	}
}

// WriteString writes a length-prefixed string.
func (w *Writer) WriteString(s string) {
	w.WriteUint64(uint64(len(s)))
	if dst := w.reserve(len(s)); dst != nil {
		copy(dst, s)
	}
}

// WriteFloat32s writes a length-prefixed float32 array.
func (w *Writer) WriteFloat32s(vs []float32) {
	w.WriteUint64(uint64(len(vs)))
	p := w.reserve(4 * len(vs))
	if p == nil {
		return
	}
	for i, v := range vs {
		le.PutUint32(p[4*i:], math.Float32bits(v))
	}
}

// WriteVec3f writes v as three float32 values.
func (w *Writer) WriteVec3f(v r3.Vec) {
	w.WriteFloat32(float32(v.X))
	w.WriteFloat32(float32(v.Y))
	w.WriteFloat32(float32(v.Z))
}

// WriteVec3d writes v as three float64 values.
func (w *Writer) WriteVec3d(v r3.Vec) {
	w.WriteFloat64(v.X)
	w.WriteFloat64(v.Y)
	w.WriteFloat64(v.Z)
}

// Reader consumes fixed-size fields from a byte slice.
type Reader struct {
	buf []byte
	off int
	err error
}

// NewReader returns a reader over buf.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Err returns the first error encountered.
func (r *Reader) Err() error { return r.err }

// Offset returns the current cursor position.
func (r *Reader) Offset() int { return r.off }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

// Ended reports whether every byte has been consumed or an error occurred.
func (r *Reader) Ended() bool { return r.err != nil || r.off >= len(r.buf) }

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.buf) {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortBuffer, n, r.off, len(r.buf)-r.off)
		return nil
	}
	p := r.buf[r.off : r.off+n]
	r.off += n
	return p
}

func (r *Reader) ReadInt32() int32 {
	if p := r.take(4); p != nil {
		return int32(le.Uint32(p))
	}
	return 0
}

func (r *Reader) ReadUint32() uint32 {
	if p := r.take(4); p != nil {
		return le.Uint32(p)
	}
	return 0
}

func (r *Reader) ReadUint64() uint64 {
	if p := r.take(8); p != nil {
		return le.Uint64(p)
	}
	return 0
}

func (r *Reader) ReadFloat32() float32 {
	if p := r.take(4); p != nil {
		return math.Float32frombits(le.Uint32(p))
	}
	return 0
}

func (r *Reader) ReadFloat64() float64 {
	if p := r.take(8); p != nil {
		return math.Float64frombits(le.Uint64(p))
	}
	return 0
}

// ReadBytes returns the next n bytes. The slice aliases the reader's buffer.
func (r *Reader) ReadBytes(n int) []byte {
	return r.take(n)
}

// ReadString reads a length-prefixed string.
func (r *Reader) ReadString() string {
	n := r.ReadUint64()
	if r.err == nil && n > uint64(r.Remaining()) {
		r.err = fmt.Errorf("%w: string of %d bytes exceeds remaining %d", ErrShortBuffer, n, r.Remaining())
		return ""
	}
	return string(r.take(int(n)))
}

// ReadFloat32s reads a length-prefixed float32 array into dst, reusing its
// storage when large enough.
func (r *Reader) ReadFloat32s(dst []float32) []float32 {
	n := r.ReadUint64()
	if r.err == nil && n > uint64(r.Remaining()/4) {
		r.err = fmt.Errorf("%w: array of %d floats exceeds remaining %d bytes", ErrShortBuffer, n, r.Remaining())
		return dst[:0]
	}
	p := r.take(4 * int(n))
	if p == nil {
		return dst[:0]
	}
	if cap(dst) < int(n) {
		dst = make([]float32, n)
	}
	dst = dst[:n]
	for i := range dst {
		dst[i] = math.Float32frombits(le.Uint32(p[4*i:]))
	}
	return dst
}

// ReadVec3f reads three float32 values.
func (r *Reader) ReadVec3f() r3.Vec {
	x := r.ReadFloat32()
	y := r.ReadFloat32()
	z := r.ReadFloat32()
	return r3.Vec{X: float64(x), Y: float64(y), Z: float64(z)}
}

// ReadVec3d reads three float64 values.
func (r *Reader) ReadVec3d() r3.Vec {
	x := r.ReadFloat64()
	y := r.ReadFloat64()
	z := r.ReadFloat64()
	return r3.Vec{X: x, Y: y, Z: z}
}

// IsShort reports whether err came from reading past the end of a buffer.
func IsShort(err error) bool {
	return errors.Is(err, ErrShortBuffer)
}
