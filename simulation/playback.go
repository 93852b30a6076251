package simulation

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/gaden/codec"
	"github.com/pthm-cable/gaden/environment"
	"github.com/pthm-cable/gaden/errs"
	"github.com/pthm-cable/gaden/source"
	"github.com/pthm-cable/gaden/wind"
)

// PlaybackParams configures a replay of saved snapshots.
type PlaybackParams struct {
	ResultsDir     string
	StartIteration int
	Loop           wind.LoopConfig
}

// Playback replays snapshot files written by Running, one per step.
type Playback struct {
	shared
	params     PlaybackParams
	iteration  int
	snapshot   Snapshot
	staging    Snapshot
	compressor *codec.Compressor

	legacyWarned   bool
	mismatchWarned bool
}

// NewPlayback prepares a replay over env. src is reported as the source
// until a snapshot that records one is loaded.
func NewPlayback(params PlaybackParams, env *environment.Environment, seq *wind.Sequence, src source.Source) *Playback {
	loop := params.Loop
	if loop.Loop {
		if loop.From > loop.To {
			slog.Error("playback loop range is inverted, disabling loop", "from", loop.From, "to", loop.To)
			params.Loop.Loop = false
		} else if params.StartIteration > loop.To {
			slog.Warn("playback starts after the end of the loop range",
				"start", params.StartIteration,
				"to", loop.To,
			)
		}
	}
	return &Playback{
		shared: shared{
			env:  env,
			wind: seq,
			meta: Metadata{Source: src},
		},
		params:     params,
		iteration:  params.StartIteration,
		compressor: codec.NewCompressor(0),
	}
}

// Iteration returns the index of the next file to load.
func (p *Playback) Iteration() int { return p.iteration }

// Filaments returns the filaments of the last loaded snapshot.
func (p *Playback) Filaments() []Filament { return p.snapshot.Filaments }

// SampleConcentration returns the ppm at p.
func (p *Playback) SampleConcentration(pt r3.Vec) float64 {
	return p.sample(p.snapshot.Filaments, pt)
}

// SnapshotPath returns the file holding iteration i.
func (p *Playback) SnapshotPath(i int) string {
	return filepath.Join(p.params.ResultsDir, fmt.Sprintf("%s_%d", SnapshotFilePrefix, i))
}

// AdvanceTimestep loads the next snapshot. A missing file is logged and
// skipped; the iteration still advances and the error wraps errs.ErrNotFound.
func (p *Playback) AdvanceTimestep() error {
	path := p.SnapshotPath(p.iteration)
	err := p.load(path)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return err
	}
	if err != nil {
		slog.Error("snapshot file not found", "path", path)
	}

	p.iteration++
	if p.params.Loop.Loop && p.iteration > p.params.Loop.To {
		p.iteration = p.params.Loop.From
	}
	return err
}

// load decodes path into the staging snapshot and only swaps it in once the
// whole frame has validated; a bad frame leaves the last good one visible.
func (p *Playback) load(path string) error {
	raw, err := p.compressor.ReadFile(path)
	if err != nil {
		return err
	}
	snap := &p.staging
	if err := DecodeSnapshot(raw, snap); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if snap.Mode == ModeConcentrations && len(snap.Concentrations) != p.env.NumCells() {
		return fmt.Errorf("%w: %s has %d cells, environment %d",
			errs.ErrMalformedData, path, len(snap.Concentrations), p.env.NumCells())
	}

	if snap.Legacy && !p.legacyWarned {
		slog.Warn("loading snapshots written in an older format", "version", snap.Version.String(), "path", path)
		p.legacyWarned = true
	}
	if !p.mismatchWarned && !sameGrid(snap.Description, p.env.Description) {
		slog.Warn("snapshot environment differs from the loaded environment",
			"snapshot_dims", snap.Description.Dimensions,
			"env_dims", p.env.Dimensions,
		)
		p.mismatchWarned = true
	}

	p.snapshot, p.staging = p.staging, p.snapshot
	snap = &p.snapshot

	p.wind.SetCurrentIndex(snap.WindIndex)
	p.meta.Constants = snap.Constants
	if snap.HasSource {
		p.meta.Source = snap.Source
	} else if snap.Source.GasType != source.Unknown {
		p.meta.Source.Position = snap.Source.Position
		p.meta.Source.GasType = snap.Source.GasType
	}

	p.concentrations = nil
	if snap.Mode == ModeConcentrations {
		p.concentrations = snap.Concentrations
	}
	return nil
}

// sameGrid compares descriptions at float32 precision.
func sameGrid(a, b environment.Description) bool {
	near := func(x, y float64) bool { return math.Abs(x-y) <= 1e-4*max(1, math.Abs(y)) }
	nearVec := func(x, y r3.Vec) bool { return near(x.X, y.X) && near(x.Y, y.Y) && near(x.Z, y.Z) }
	return a.Dimensions == b.Dimensions &&
		near(a.CellSize, b.CellSize) &&
		nearVec(a.MinCoord, b.MinCoord) &&
		nearVec(a.MaxCoord, b.MaxCoord)
}
