package codec

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zlib"

	"github.com/pthm-cable/gaden/errs"
)

// Compressor holds reusable zlib state and scratch buffers for snapshot
// files. It is not safe for concurrent use.
type Compressor struct {
	zw     *zlib.Writer
	zr     io.ReadCloser
	packed bytes.Buffer
	raw    bytes.Buffer
	level  int
}

// NewCompressor returns a compressor using the given zlib level
// (zlib.DefaultCompression if level is 0).
func NewCompressor(level int) *Compressor {
	if level == 0 {
		level = zlib.DefaultCompression
	}
	return &Compressor{level: level}
}

// Compress deflates raw and returns the compressed bytes. The returned slice
// is valid until the next call.
func (c *Compressor) Compress(raw []byte) ([]byte, error) {
	c.packed.Reset()
	if c.zw == nil {
		zw, err := zlib.NewWriterLevel(&c.packed, c.level)
		if err != nil {
			return nil, fmt.Errorf("creating zlib writer: %w", err)
		}
		c.zw = zw
	} else {
		c.zw.Reset(&c.packed)
	}
	if _, err := c.zw.Write(raw); err != nil {
		return nil, fmt.Errorf("compressing: %w", err)
	}
	if err := c.zw.Close(); err != nil {
		return nil, fmt.Errorf("compressing: %w", err)
	}
	return c.packed.Bytes(), nil
}

// Decompress inflates packed and returns the raw bytes. The returned slice
// is valid until the next call.
func (c *Compressor) Decompress(packed []byte) ([]byte, error) {
	c.raw.Reset()
	src := bytes.NewReader(packed)
	if c.zr == nil {
		zr, err := zlib.NewReader(src)
		if err != nil {
			return nil, fmt.Errorf("%w: opening zlib stream: %v", errs.ErrMalformedData, err)
		}
		c.zr = zr
	} else if err := c.zr.(zlib.Resetter).Reset(src, nil); err != nil {
		return nil, fmt.Errorf("%w: opening zlib stream: %v", errs.ErrMalformedData, err)
	}
	if _, err := c.raw.ReadFrom(c.zr); err != nil {
		return nil, fmt.Errorf("%w: inflating: %v", errs.ErrMalformedData, err)
	}
	return c.raw.Bytes(), nil
}

// WriteFile compresses raw and writes it to path.
func (c *Compressor) WriteFile(path string, raw []byte) error {
	packed, err := c.Compress(raw)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, packed, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// ReadFile reads path and returns its decompressed contents. A missing file
// is reported as errs.ErrNotFound.
func (c *Compressor) ReadFile(path string) ([]byte, error) {
	packed, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", errs.ErrNotFound, path)
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return c.Decompress(packed)
}
