// Package wind holds the time-indexed sequence of per-cell wind fields.
package wind

import (
	"log/slog"

	"gonum.org/v1/gonum/spatial/r3"
)

// LoopConfig makes a sequential index wrap from To back to From instead of
// clamping at the end.
type LoopConfig struct {
	Loop bool `yaml:"loop"`
	From int  `yaml:"from"`
	To   int  `yaml:"to"`
}

// Valid reports whether the range is ordered and inside [0, n).
func (l LoopConfig) Valid(n int) bool {
	return l.From <= l.To && l.From >= 0 && l.To >= 0 && l.From < n && l.To < n
}

// Sequence is an ordered list of wind fields plus a current index.
type Sequence struct {
	fields  [][]r3.Vec
	current int
	loop    LoopConfig
}

// NewSequence is a convenience for Initialize on a fresh value.
func NewSequence(fields [][]r3.Vec, numCells int, loop LoopConfig) *Sequence {
	s := &Sequence{}
	s.Initialize(fields, numCells, loop)
	return s
}

// Initialize replaces the fields and resets the index. With no fields a
// single all-zero field of numCells vectors is used. An invalid loop range
// is logged and looping is turned off.
func (s *Sequence) Initialize(fields [][]r3.Vec, numCells int, loop LoopConfig) {
	s.current = 0
	s.fields = fields
	s.loop = loop

	if len(s.fields) == 0 {
		slog.Warn("no wind data provided, using an all-zero wind field", "cells", numCells)
		s.fields = [][]r3.Vec{make([]r3.Vec, numCells)}
	}

	if s.loop.Loop && !s.loop.Valid(len(s.fields)) {
		slog.Warn("invalid wind loop configuration, disabling loop",
			"from", s.loop.From,
			"to", s.loop.To,
			"iterations", len(s.fields),
		)
		s.loop.Loop = false
	}
}

// Len returns the number of wind iterations.
func (s *Sequence) Len() int { return len(s.fields) }

// Loop returns the effective loop configuration.
func (s *Sequence) Loop() LoopConfig { return s.loop }

// Current returns the active field. The slice must not be modified.
func (s *Sequence) Current() []r3.Vec { return s.fields[s.current] }

// Field returns iteration i.
func (s *Sequence) Field(i int) []r3.Vec { return s.fields[i] }

// CurrentIndex returns the active iteration.
func (s *Sequence) CurrentIndex() int { return s.current }

// AdvanceTimeStep moves to the next iteration, wrapping inside the loop
// range or clamping at the last iteration.
func (s *Sequence) AdvanceTimeStep() {
	s.current++
	if s.loop.Loop && s.current > s.loop.To {
		s.current = s.loop.From
	} else if s.current >= len(s.fields) {
		s.current = len(s.fields) - 1
	}
}

// SetCurrentIndex jumps to iteration i. Out of range values are logged and ignored.
func (s *Sequence) SetCurrentIndex(i int) {
	if i < 0 || i >= len(s.fields) {
		slog.Error("wind iteration out of range", "requested", i, "iterations", len(s.fields))
		return
	}
	s.current = i
}

// Clone returns a sequence sharing the field data but with its own index.
func (s *Sequence) Clone() *Sequence {
	c := *s
	return &c
}
