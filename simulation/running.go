package simulation

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/gaden/codec"
	"github.com/pthm-cable/gaden/environment"
	"github.com/pthm-cable/gaden/errs"
	"github.com/pthm-cable/gaden/source"
	"github.com/pthm-cable/gaden/telemetry"
	"github.com/pthm-cable/gaden/wind"
)

// ErrSourceOutsideEnvironment is returned when the source position, or every
// retry of a spawn, lands outside the environment.
var ErrSourceOutsideEnvironment = fmt.Errorf("%w: source outside the environment", errs.ErrConfiguration)

// spawnRetries bounds the attempts to place one filament inside the domain.
const spawnRetries = 10

// SnapshotFilePrefix names snapshot files: <prefix>_<n>.
const SnapshotFilePrefix = "iteration"

// Params configures a running simulation.
type Params struct {
	DeltaTime     float64 // [s]
	WindDeltaTime float64 // [s] between wind iterations
	Temperature   float64 // [K]
	Pressure      float64 // [atm]
	GrowthGamma   float64 // [cm²/s]
	NoiseStd      float64 // [m/s]

	Source source.Source

	PrecomputeConcentrations bool
	SaveResults              bool
	SaveDeltaTime            float64 // [s]
	ResultsDir               string

	ExpectedFilaments int
	Seed              uint64 // 0 picks a random seed
	Workers           int    // 0 uses GOMAXPROCS
}

// DefaultParams returns the stock engine configuration.
func DefaultParams() Params {
	return Params{
		DeltaTime:     0.1,
		WindDeltaTime: 1,
		Temperature:   298,
		Pressure:      1,
		GrowthGamma:   10,
		NoiseStd:      0.1,
		Source:        source.NewPoint(r3.Vec{}, source.Methane),
		SaveDeltaTime: 0.5,
		ResultsDir:    "results",
	}
}

func (p Params) validate() error {
	switch {
	case p.DeltaTime <= 0:
		return fmt.Errorf("%w: delta_time must be positive", errs.ErrConfiguration)
	case p.Temperature <= 0 || p.Pressure <= 0:
		return fmt.Errorf("%w: temperature and pressure must be positive", errs.ErrConfiguration)
	case p.Source.InitialSigma <= 0:
		return fmt.Errorf("%w: initial sigma must be positive", errs.ErrConfiguration)
	case p.Source.FilamentsPerSec < 0:
		return fmt.Errorf("%w: negative emission rate", errs.ErrConfiguration)
	}
	return nil
}

// PhaseTimer receives the name of each step phase as it starts.
// *telemetry.PerfCollector satisfies it.
type PhaseTimer interface {
	StartPhase(phase string)
}

type nopTimer struct{}

func (nopTimer) StartPhase(string) {}

// StepReport summarizes one call to AdvanceTimestep.
type StepReport struct {
	Iteration  int
	Time       float64
	Spawned    int
	Removed    int
	Active     int
	WallSlides int
	Stalls     int
	WindIndex  int
	Saved      bool
}

// Running advances filaments through an environment's wind field.
type Running struct {
	shared
	params Params

	// Ping-pong filament buffers; buffers[current] holds the live set.
	buffers [2][]Filament
	current int

	time         float64
	iteration    int
	nextSave     float64
	nextWind     float64
	saveCount    int
	spawnAccum   float64
	totalSpawned int

	disturbance []r3.Vec
	rng         *rand.Rand
	pool        *workerPool
	writer      *codec.Writer
	compressor  *codec.Compressor
	snapshot    Snapshot
	timer       PhaseTimer
}

// NewRunning validates params against env and prepares the engine. The wind
// sequence is used as is; pass a clone to share fields between simulations.
func NewRunning(params Params, env *environment.Environment, seq *wind.Sequence) (*Running, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	if !env.IsInBounds(params.Source.Position) {
		slog.Error("source position outside the environment",
			"position", params.Source.Position,
			"min", env.MinCoord,
			"max", env.MaxCoord,
		)
		return nil, ErrSourceOutsideEnvironment
	}
	if params.SaveResults {
		if err := os.MkdirAll(params.ResultsDir, 0755); err != nil {
			return nil, fmt.Errorf("creating results dir: %w", err)
		}
	}

	seed := params.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	src := params.Source
	r := &Running{
		shared: shared{
			env:  env,
			wind: seq,
			meta: Metadata{
				Source:    src,
				Constants: NewConstants(params.Temperature, params.Pressure, src.PPMCenter, src.InitialSigma),
			},
		},
		params:     params,
		nextWind:   params.WindDeltaTime,
		rng:        rand.New(rand.NewPCG(seed, ^seed)),
		pool:       newWorkerPool(params.Workers, seed),
		compressor: codec.NewCompressor(0),
		timer:      nopTimer{},
	}
	expected := params.ExpectedFilaments
	if expected <= 0 {
		expected = 1024
	}
	r.buffers[0] = make([]Filament, 0, expected)
	r.buffers[1] = make([]Filament, 0, expected)
	r.pool.task = r.moveChunk
	if params.PrecomputeConcentrations {
		r.concentrations = make([]float32, env.NumCells())
	}

	slog.Info("simulation ready",
		"source", src.Kind,
		"gas", src.GasType,
		"filaments_per_sec", src.FilamentsPerSec,
		"workers", r.pool.numWorkers,
		"save", params.SaveResults,
	)
	return r, nil
}

// SetPhaseTimer attaches a timer notified at each step phase.
func (r *Running) SetPhaseTimer(t PhaseTimer) {
	if t == nil {
		t = nopTimer{}
	}
	r.timer = t
}

// SetDisturbance adds field to the ambient wind, cell by cell. Pass nil to
// remove it.
func (r *Running) SetDisturbance(field []r3.Vec) error {
	if field != nil && len(field) != r.env.NumCells() {
		return fmt.Errorf("%w: disturbance has %d cells, environment %d", errs.ErrConfiguration, len(field), r.env.NumCells())
	}
	r.disturbance = field
	return nil
}

// Close stops the worker goroutines.
func (r *Running) Close() {
	r.pool.stop()
}

func (r *Running) active() []Filament { return r.buffers[r.current] }

// Filaments returns the live filaments. The slice is reused by the next step.
func (r *Running) Filaments() []Filament { return r.active() }

// Time returns the simulated time [s].
func (r *Running) Time() float64 { return r.time }

// Iteration returns the number of completed steps.
func (r *Running) Iteration() int { return r.iteration }

// TotalSpawned returns the number of filaments created so far.
func (r *Running) TotalSpawned() int { return r.totalSpawned }

// SampleConcentration returns the ppm at p.
func (r *Running) SampleConcentration(p r3.Vec) float64 {
	return r.sample(r.active(), p)
}

// AdvanceTimestep runs one step and discards the report.
func (r *Running) AdvanceTimestep() error {
	_, err := r.Step()
	return err
}

// Step spawns, moves, compacts, optionally precomputes and saves, then
// advances the wind and the clock.
func (r *Running) Step() (StepReport, error) {
	report := StepReport{Iteration: r.iteration, Time: r.time}

	r.timer.StartPhase(telemetry.PhaseSpawn)
	spawned, err := r.spawn()
	report.Spawned = spawned
	if err != nil {
		return report, err
	}

	r.timer.StartPhase(telemetry.PhaseMove)
	r.pool.run(len(r.active()))
	report.WallSlides, report.Stalls, report.Removed = r.pool.totals()
	r.compact()
	report.Active = len(r.active())

	if r.concentrations != nil {
		r.timer.StartPhase(telemetry.PhaseConcentrations)
		r.updateConcentrations()
	}

	if r.params.SaveResults && r.reached(r.nextSave) {
		r.timer.StartPhase(telemetry.PhaseSave)
		if err := r.save(); err != nil {
			return report, err
		}
		r.nextSave += r.params.SaveDeltaTime
		report.Saved = true
	}
	report.WindIndex = r.wind.CurrentIndex()

	r.timer.StartPhase(telemetry.PhaseWind)
	if r.reached(r.nextWind) {
		r.wind.AdvanceTimeStep()
		r.nextWind += r.params.WindDeltaTime
	}

	r.iteration++
	r.time = float64(r.iteration) * r.params.DeltaTime
	return report, nil
}

// reached reports whether the clock has arrived at deadline t. The clock is
// derived from the iteration count and the comparison tolerates rounding in
// t, so a period that is a whole number of steps fires on that exact step.
func (r *Running) reached(t float64) bool {
	return r.time >= t-1e-9*r.params.DeltaTime
}

func (r *Running) spawn() (int, error) {
	r.spawnAccum += r.meta.Source.FilamentsPerSec * r.params.DeltaTime
	n := int(r.spawnAccum)
	r.spawnAccum -= float64(n)

	live := r.buffers[r.current]
	sigma := r.meta.Source.InitialSigma
	for i := 0; i < n; i++ {
		pos, ok := r.emit()
		if !ok {
			r.buffers[r.current] = live
			slog.Error("could not place filament inside the environment",
				"retries", spawnRetries,
				"source", r.meta.Source.Position,
			)
			return i, ErrSourceOutsideEnvironment
		}
		live = append(live, Filament{Position: pos, Sigma: sigma, Active: true})
		r.totalSpawned++
	}
	r.buffers[r.current] = live
	return n, nil
}

func (r *Running) emit() (r3.Vec, bool) {
	for range spawnRetries {
		p := r.meta.Source.Emit(r.rng)
		if r.env.IsInBounds(p) {
			return p, true
		}
	}
	return r3.Vec{}, false
}

// compact copies active filaments into the other buffer and swaps.
func (r *Running) compact() {
	src := r.buffers[r.current]
	dst := r.buffers[1-r.current][:0]
	for _, f := range src {
		if f.Active {
			dst = append(dst, f)
		}
	}
	r.buffers[1-r.current] = dst
	r.buffers[r.current] = src[:0]
	r.current = 1 - r.current
}

// updateConcentrations rebuilds the per-cell ppm grid by splatting each
// filament over the free cells within three sigma that can see it.
func (r *Running) updateConcentrations() {
	grid := r.concentrations
	clear(grid)
	env := r.env
	s := r.sampler()
	for _, f := range r.active() {
		reach := f.Sigma * 3 / 100
		lo := env.CoordsToIndices(r3.Sub(f.Position, r3.Vec{X: reach, Y: reach, Z: reach}))
		hi := env.CoordsToIndices(r3.Add(f.Position, r3.Vec{X: reach, Y: reach, Z: reach}))
		lo = environment.Index{X: max(lo.X, 0), Y: max(lo.Y, 0), Z: max(lo.Z, 0)}
		hi = environment.Index{
			X: min(hi.X, env.Dimensions.X-1),
			Y: min(hi.Y, env.Dimensions.Y-1),
			Z: min(hi.Z, env.Dimensions.Z-1),
		}
		for z := lo.Z; z <= hi.Z; z++ {
			for y := lo.Y; y <= hi.Y; y++ {
				for x := lo.X; x <= hi.X; x++ {
					idx := environment.Index{X: x, Y: y, Z: z}
					if env.AtIndex(idx) != environment.Free {
						continue
					}
					center := env.CoordsOfCellCenter(idx)
					if r3.Norm2(r3.Sub(center, f.Position)) >= reach*reach || !s.LineOfSight(center, f.Position) {
						continue
					}
					grid[env.IndexFrom3D(idx)] += float32(s.SingleFilament(f, center))
				}
			}
		}
	}
}

func (r *Running) save() error {
	snap := &r.snapshot
	snap.Description = r.env.Description
	snap.Source = r.meta.Source
	snap.Constants = r.meta.Constants
	snap.WindIndex = r.wind.CurrentIndex()
	if r.concentrations != nil {
		snap.Mode = ModeConcentrations
		snap.Concentrations = r.concentrations
		snap.Filaments = nil
	} else {
		snap.Mode = ModeFilaments
		snap.Filaments = r.active()
		snap.Concentrations = nil
	}

	size := snap.EncodedSize()
	if r.writer == nil {
		r.writer = codec.NewWriter(make([]byte, size))
	}
	r.writer.Reset()
	r.writer.Grow(size)
	if err := EncodeSnapshot(r.writer, snap); err != nil {
		return err
	}

	path := filepath.Join(r.params.ResultsDir, fmt.Sprintf("%s_%d", SnapshotFilePrefix, r.saveCount))
	if err := r.compressor.WriteFile(path, r.writer.Bytes()); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: results dir %s", errs.ErrNotFound, r.params.ResultsDir)
		}
		return err
	}
	r.saveCount++
	return nil
}
