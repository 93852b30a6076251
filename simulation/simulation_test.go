package simulation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/gaden/environment"
	"github.com/pthm-cable/gaden/errs"
	"github.com/pthm-cable/gaden/source"
	"github.com/pthm-cable/gaden/wind"
)

// openEnv returns an n³ all-free cube with the given cell size.
func openEnv(n int, cell float64) *environment.Environment {
	size := float64(n) * cell
	return environment.New(environment.Description{
		Dimensions: environment.Index{X: n, Y: n, Z: n},
		MaxCoord:   r3.Vec{X: size, Y: size, Z: size},
		CellSize:   cell,
	}, environment.Free)
}

// walledEnv is 10x3x3 unit cells with the x=5 slab set to state.
func walledEnv(state environment.CellState) *environment.Environment {
	env := environment.New(environment.Description{
		Dimensions: environment.Index{X: 10, Y: 3, Z: 3},
		MaxCoord:   r3.Vec{X: 10, Y: 3, Z: 3},
		CellSize:   1,
	}, environment.Free)
	for z := 0; z < 3; z++ {
		for y := 0; y < 3; y++ {
			*env.Ref(environment.Index{X: 5, Y: y, Z: z}) = state
		}
	}
	return env
}

func uniformWind(env *environment.Environment, vs ...r3.Vec) *wind.Sequence {
	fields := make([][]r3.Vec, len(vs))
	for i, v := range vs {
		field := make([]r3.Vec, env.NumCells())
		for c := range field {
			field[c] = v
		}
		fields[i] = field
	}
	return wind.NewSequence(fields, env.NumCells(), wind.LoopConfig{})
}

func testParams(pos r3.Vec, gas source.GasType) Params {
	p := DefaultParams()
	p.Source = source.NewPoint(pos, gas)
	p.Seed = 7
	p.Workers = 1
	return p
}

func newTestRunning(t *testing.T, params Params, env *environment.Environment, seq *wind.Sequence) *Running {
	t.Helper()
	r, err := NewRunning(params, env, seq)
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

func TestConcentrationAtOwnCenter(t *testing.T) {
	env := openEnv(20, 0.1)
	s := Sampler{Env: env, Constants: NewConstants(298, 1, 20, 10)}
	center := r3.Vec{X: 1.05, Y: 1.05, Z: 1.05}

	assert.InDelta(t, 20, s.ConcentrationAtCenter(10), 1e-9)
	for _, sigma := range []float64{1, 10, 100} {
		f := Filament{Position: center, Sigma: sigma, Active: true}
		want := s.ConcentrationAtCenter(sigma)
		assert.InDelta(t, want, s.Concentration([]Filament{f}, center), want*1e-12, "sigma %v", sigma)
	}
}

func TestConcentration_Falloff(t *testing.T) {
	env := openEnv(20, 0.1)
	s := Sampler{Env: env, Constants: NewConstants(298, 1, 20, 10)}
	f := Filament{Position: r3.Vec{X: 1, Y: 1, Z: 1}, Sigma: 10, Active: true}

	oneSigma := r3.Vec{X: 1.1, Y: 1, Z: 1}
	assert.InDelta(t, 20*0.6065306597, s.Concentration([]Filament{f}, oneSigma), 1e-6)

	// 3 sigma is 0.3 m
	assert.Zero(t, s.Concentration([]Filament{f}, r3.Vec{X: 1.31, Y: 1, Z: 1}))
	assert.Greater(t, s.Concentration([]Filament{f}, r3.Vec{X: 1.29, Y: 1, Z: 1}), 0.0)
}

func TestConcentration_BlockedByObstacle(t *testing.T) {
	env := walledEnv(environment.Obstacle)
	s := Sampler{Env: env, Constants: NewConstants(298, 1, 20, 100)}
	f := Filament{Position: r3.Vec{X: 4.5, Y: 1.5, Z: 1.5}, Sigma: 100, Active: true}

	assert.Greater(t, s.Concentration([]Filament{f}, r3.Vec{X: 3.5, Y: 1.5, Z: 1.5}), 0.0)
	assert.Zero(t, s.Concentration([]Filament{f}, r3.Vec{X: 6.5, Y: 1.5, Z: 1.5}))
	assert.False(t, s.LineOfSight(r3.Vec{X: 5.5, Y: 1, Z: 1}, r3.Vec{X: 4.5, Y: 1, Z: 1}), "endpoint inside obstacle")
	assert.True(t, s.LineOfSight(r3.Vec{X: 4.5, Y: 1, Z: 1}, r3.Vec{X: 4.5, Y: 1, Z: 1}))
}

func TestTravel_NoTunneling(t *testing.T) {
	env := walledEnv(environment.Obstacle)
	r := &Running{shared: shared{env: env}}
	dirs := []r3.Vec{
		{X: 1},
		{X: 1, Y: 0.3, Z: 0.2},
		{X: 1, Y: -1, Z: 0.5},
	}
	for _, dir := range dirs {
		for _, length := range []float64{0.5, 1, 2.5, 10, 100} {
			f := Filament{Position: r3.Vec{X: 4.2, Y: 1.5, Z: 1.5}, Sigma: 10, Active: true}
			var scratch workerScratch
			r.travel(&f, r3.Scale(length, r3.Unit(dir)), &scratch)

			assert.Less(t, f.Position.X, 5.0, "dir %v length %v", dir, length)
			assert.True(t, f.Active)
			assert.Equal(t, environment.Free, env.At(f.Position))
		}
	}
}

func TestTravel_SlidesAlongWall(t *testing.T) {
	env := walledEnv(environment.Obstacle)
	r := &Running{shared: shared{env: env}}
	f := Filament{Position: r3.Vec{X: 4.2, Y: 1.5, Z: 1.5}, Sigma: 10, Active: true}
	var scratch workerScratch

	r.travel(&f, r3.Vec{X: 3, Y: 0.2}, &scratch)
	assert.InDelta(t, 5, f.Position.X, 1e-5)
	assert.Less(t, f.Position.X, 5.0)
	assert.InDelta(t, 1.7, f.Position.Y, 1e-9)
	assert.Equal(t, 1, scratch.wallSlides)
	assert.True(t, f.Active)
}

// staircaseEnv is 10x10x3 unit cells with a diagonal wall of obstacles on
// every cell where x+y == 5. Neighbouring wall cells share only an edge.
func staircaseEnv() *environment.Environment {
	env := environment.New(environment.Description{
		Dimensions: environment.Index{X: 10, Y: 10, Z: 3},
		MaxCoord:   r3.Vec{X: 10, Y: 10, Z: 3},
		CellSize:   1,
	}, environment.Free)
	for z := 0; z < 3; z++ {
		for x := 0; x <= 5; x++ {
			*env.Ref(environment.Index{X: x, Y: 5 - x, Z: z}) = environment.Obstacle
		}
	}
	return env
}

func TestTravel_DiagonalStaircaseWall(t *testing.T) {
	env := staircaseEnv()
	r := &Running{shared: shared{env: env}}

	tests := []struct {
		name  string
		start r3.Vec
		disp  r3.Vec
	}{
		{"near corner", r3.Vec{X: 2.9, Y: 2.95, Z: 1.5}, r3.Vec{X: 0.2, Y: 0.2}},
		{"exact corner", r3.Vec{X: 2.5, Y: 2.5, Z: 1.5}, r3.Vec{X: 1, Y: 1}},
		{"long diagonal", r3.Vec{X: 1.5, Y: 1.2, Z: 1.5}, r3.Vec{X: 4, Y: 4.1, Z: 0.3}},
		{"shallow", r3.Vec{X: 0.5, Y: 3.5, Z: 1.5}, r3.Vec{X: 6, Y: 0.9}},
		{"steep", r3.Vec{X: 3.7, Y: 0.2, Z: 1.5}, r3.Vec{X: 0.6, Y: 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Filament{Position: tt.start, Sigma: 10, Active: true}
			var scratch workerScratch
			r.travel(&f, tt.disp, &scratch)

			idx := env.CoordsToIndices(f.Position)
			assert.LessOrEqual(t, idx.X+idx.Y, 4, "ended at %v", f.Position)
			assert.True(t, f.Active)
			assert.Equal(t, environment.Free, env.At(f.Position))
			assert.Greater(t, scratch.wallSlides, 0)
		})
	}
}

func TestTravel_OutletRemoves(t *testing.T) {
	env := walledEnv(environment.Outlet)
	r := &Running{shared: shared{env: env}}
	f := Filament{Position: r3.Vec{X: 4.2, Y: 1.5, Z: 1.5}, Sigma: 10, Active: true}
	var scratch workerScratch

	r.travel(&f, r3.Vec{X: 3}, &scratch)
	assert.False(t, f.Active)
	assert.Equal(t, environment.Outlet, env.At(f.Position))
}

func TestTravel_BoundaryActsAsWall(t *testing.T) {
	env := openEnv(4, 1)
	r := &Running{shared: shared{env: env}}
	f := Filament{Position: r3.Vec{X: 2.5, Y: 2.5, Z: 2.5}, Sigma: 10, Active: true}
	var scratch workerScratch

	r.travel(&f, r3.Vec{Z: 10}, &scratch)
	assert.True(t, f.Active)
	assert.True(t, env.IsInBounds(f.Position))
	assert.Greater(t, f.Position.Z, 3.0)
}

func TestNewRunning_SourceOutside(t *testing.T) {
	env := openEnv(4, 1)
	_, err := NewRunning(testParams(r3.Vec{X: -1, Y: 1, Z: 1}, source.Methane), env, uniformWind(env))
	assert.True(t, errors.Is(err, ErrSourceOutsideEnvironment))
	assert.True(t, errors.Is(err, errs.ErrConfiguration))

	bad := testParams(r3.Vec{X: 1, Y: 1, Z: 1}, source.Methane)
	bad.DeltaTime = 0
	_, err = NewRunning(bad, env, uniformWind(env))
	assert.True(t, errors.Is(err, errs.ErrConfiguration))
}

func TestStep_SpawnRetriesExhausted(t *testing.T) {
	env := openEnv(4, 1)
	params := testParams(r3.Vec{}, source.Methane)
	params.Source = source.NewBox(r3.Vec{X: 0.01, Y: 0.01, Z: 0.01}, r3.Vec{X: 1000, Y: 1000, Z: 1000}, source.Methane)
	r := newTestRunning(t, params, env, uniformWind(env))

	_, err := r.Step()
	assert.True(t, errors.Is(err, ErrSourceOutsideEnvironment))
}

func TestStep_ConservesFilaments(t *testing.T) {
	env := openEnv(20, 0.5)
	params := testParams(r3.Vec{X: 5, Y: 5, Z: 5}, source.Methane)
	params.NoiseStd = 0
	params.Source.FilamentsPerSec = 7.3
	r := newTestRunning(t, params, env, uniformWind(env))

	for range 100 {
		report, err := r.Step()
		require.NoError(t, err)
		require.Zero(t, report.Removed)
	}
	assert.InDelta(t, 73, r.TotalSpawned(), 1)
	assert.Len(t, r.Filaments(), r.TotalSpawned())
	assert.InDelta(t, 10.0, r.Time(), 1e-9)
	assert.Equal(t, 100, r.Iteration())
}

func TestStep_WindAdvancesOnWholeStepPeriods(t *testing.T) {
	env := openEnv(4, 1)
	params := testParams(r3.Vec{X: 2, Y: 2, Z: 2}, source.Methane)
	params.DeltaTime = 0.1
	params.WindDeltaTime = 1
	winds := make([]r3.Vec, 6)
	r := newTestRunning(t, params, env, uniformWind(env, winds...))

	for k := range 60 {
		report, err := r.Step()
		require.NoError(t, err)
		require.Equal(t, k, report.Iteration)
		assert.Equal(t, k/10, r.WindIndex(), "after step %d", k)
	}
	assert.InDelta(t, 6.0, r.Time(), 1e-12)
}

func TestStep_RemovesOutletFilaments(t *testing.T) {
	env := walledEnv(environment.Outlet)
	params := testParams(r3.Vec{X: 4.5, Y: 1.5, Z: 1.5}, source.Unknown)
	params.NoiseStd = 0
	r := newTestRunning(t, params, env, uniformWind(env, r3.Vec{X: 6}))

	report, err := r.Step()
	require.NoError(t, err)
	assert.Equal(t, 1, report.Spawned)
	assert.Equal(t, 1, report.Removed)
	assert.Empty(t, r.Filaments())
}

func TestStep_ParallelMovement(t *testing.T) {
	env := openEnv(20, 1)
	params := testParams(r3.Vec{X: 10, Y: 10, Z: 10}, source.Unknown)
	params.NoiseStd = 0
	params.Source.FilamentsPerSec = 0
	params.Workers = 4
	w := r3.Vec{X: 1, Y: -0.5, Z: 0.25}
	r := newTestRunning(t, params, env, uniformWind(env, w))

	const n = 4 * parallelThreshold
	start := make([]Filament, n)
	for i := range start {
		start[i] = Filament{
			Position: r3.Vec{X: 2 + float64(i%16), Y: 2 + float64(i/16%16), Z: 2 + float64(i/256)},
			Sigma:    10,
			Active:   true,
		}
	}
	r.buffers[r.current] = append(r.buffers[r.current], start...)

	report, err := r.Step()
	require.NoError(t, err)
	require.Equal(t, n, report.Active)

	dt := params.DeltaTime
	for i, f := range r.Filaments() {
		want := r3.Add(start[i].Position, r3.Scale(dt, w))
		assert.InDelta(t, want.X, f.Position.X, 1e-9)
		assert.InDelta(t, want.Y, f.Position.Y, 1e-9)
		assert.InDelta(t, want.Z, f.Position.Z, 1e-9)
		assert.InDelta(t, 10+params.GrowthGamma/20*dt, f.Sigma, 1e-12)
	}
}

func TestBuoyancy(t *testing.T) {
	env := openEnv(4, 1)
	light := newTestRunning(t, testParams(r3.Vec{X: 1, Y: 1, Z: 1}, source.Hydrogen), env, uniformWind(env))
	heavy := newTestRunning(t, testParams(r3.Vec{X: 1, Y: 1, Z: 1}, source.Chlorine), env, uniformWind(env))
	neutral := newTestRunning(t, testParams(r3.Vec{X: 1, Y: 1, Z: 1}, source.Unknown), env, uniformWind(env))

	assert.Greater(t, light.buoyancy(10), 0.0)
	assert.Less(t, heavy.buoyancy(10), 0.0)
	assert.Zero(t, neutral.buoyancy(10))
	assert.Greater(t, light.buoyancy(1), light.buoyancy(10), "denser puffs rise faster")

	slow := testParams(r3.Vec{X: 1, Y: 1, Z: 1}, source.Hydrogen)
	slow.DeltaTime = 2 * light.params.DeltaTime
	doubled := newTestRunning(t, slow, env, uniformWind(env))
	assert.InDelta(t, 2*light.buoyancy(10), doubled.buoyancy(10), 1e-12, "rise is a velocity, linear in dt")
}

func TestPrecomputedConcentrations(t *testing.T) {
	env := openEnv(10, 0.1)
	params := testParams(r3.Vec{X: 0.55, Y: 0.55, Z: 0.55}, source.Unknown)
	params.PrecomputeConcentrations = true
	params.Source.FilamentsPerSec = 0
	r := newTestRunning(t, params, env, uniformWind(env))

	f := Filament{Position: r3.Vec{X: 0.55, Y: 0.55, Z: 0.55}, Sigma: 10, Active: true}
	r.buffers[r.current] = append(r.buffers[r.current], f)
	r.updateConcentrations()

	s := r.sampler()
	for _, p := range []r3.Vec{{X: 0.55, Y: 0.55, Z: 0.55}, {X: 0.65, Y: 0.55, Z: 0.45}, {X: 0.95, Y: 0.95, Z: 0.95}} {
		want := s.Concentration([]Filament{f}, p)
		assert.InDelta(t, want, r.SampleConcentration(p), 1e-4*max(want, 1), "at %v", p)
	}
}

func TestSampleOutsideEnvironment(t *testing.T) {
	env := openEnv(4, 1)
	r := newTestRunning(t, testParams(r3.Vec{X: 1, Y: 1, Z: 1}, source.Methane), env, uniformWind(env, r3.Vec{X: 2}))
	require.NoError(t, r.AdvanceTimestep())

	assert.Zero(t, r.SampleConcentration(r3.Vec{X: 9, Y: 1, Z: 1}))
	assert.Equal(t, r3.Vec{}, r.SampleWind(r3.Vec{X: 9, Y: 1, Z: 1}))
	assert.Equal(t, r3.Vec{X: 2}, r.SampleWind(r3.Vec{X: 1, Y: 1, Z: 1}))
}

func TestSetDisturbance(t *testing.T) {
	env := openEnv(4, 1)
	params := testParams(r3.Vec{X: 1.5, Y: 1.5, Z: 1.5}, source.Unknown)
	params.NoiseStd = 0
	r := newTestRunning(t, params, env, uniformWind(env))

	assert.True(t, errors.Is(r.SetDisturbance(make([]r3.Vec, 3)), errs.ErrConfiguration))

	field := make([]r3.Vec, env.NumCells())
	for i := range field {
		field[i] = r3.Vec{Z: -1}
	}
	require.NoError(t, r.SetDisturbance(field))
	require.NoError(t, r.AdvanceTimestep())
	require.Len(t, r.Filaments(), 1)
	assert.InDelta(t, 1.4, r.Filaments()[0].Position.Z, 1e-9)
}
