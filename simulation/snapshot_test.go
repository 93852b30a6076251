package simulation

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/gaden/codec"
	"github.com/pthm-cable/gaden/environment"
	"github.com/pthm-cable/gaden/errs"
	"github.com/pthm-cable/gaden/source"
	"github.com/pthm-cable/gaden/wind"
)

var snapDesc = environment.Description{
	Dimensions: environment.Index{X: 8, Y: 4, Z: 2},
	MinCoord:   r3.Vec{X: -1, Y: 0.5, Z: 0},
	MaxCoord:   r3.Vec{X: 3, Y: 2.5, Z: 1},
	CellSize:   0.5,
}

var snapFilaments = []Filament{
	{Position: r3.Vec{X: 0.25, Y: 1.5, Z: 0.75}, Sigma: 10, Active: true},
	{Position: r3.Vec{X: 2.5, Y: 0.75, Z: 0.125}, Sigma: 12.5, Active: true},
}

func encodeCurrent(t *testing.T, s *Snapshot) []byte {
	t.Helper()
	w := codec.NewWriter(make([]byte, s.EncodedSize()))
	require.NoError(t, EncodeSnapshot(w, s))
	return w.Bytes()
}

func encodeV1(src r3.Vec, gas source.GasType, c Constants, windIdx int) []byte {
	d := snapDesc
	w := codec.NewWriter(make([]byte, 4096))
	w.WriteInt32(1)
	w.WriteVec3d(d.MinCoord)
	w.WriteVec3d(d.MaxCoord)
	w.WriteInt32(int32(d.Dimensions.X))
	w.WriteInt32(int32(d.Dimensions.Y))
	w.WriteInt32(int32(d.Dimensions.Z))
	w.WriteVec3d(r3.Vec{X: d.CellSize, Y: d.CellSize, Z: d.CellSize})
	w.WriteVec3d(src)
	w.WriteInt32(int32(gas))
	w.WriteFloat64(c.TotalMolesInFilament)
	w.WriteFloat64(c.NumMolesAllGasesIncm3)
	w.WriteInt32(int32(windIdx))
	for i, f := range snapFilaments {
		w.WriteInt32(int32(i))
		w.WriteVec3d(f.Position)
		w.WriteFloat64(f.Sigma)
	}
	return w.Bytes()
}

func encodeV2(minor int32, src r3.Vec, gas source.GasType, c Constants, windIdx int) []byte {
	w := codec.NewWriter(make([]byte, 4096))
	w.WriteInt32(2)
	w.WriteInt32(minor)
	snapDesc.Encode(w)
	if minor < 6 {
		w.WriteVec3f(src)
		w.WriteInt32(int32(gas))
		w.WriteFloat64(c.TotalMolesInFilament)
		w.WriteFloat64(c.NumMolesAllGasesIncm3)
	} else {
		w.WriteFloat32(float32(c.TotalMolesInFilament))
		w.WriteFloat32(float32(c.NumMolesAllGasesIncm3))
	}
	w.WriteInt32(int32(windIdx))
	for i, f := range snapFilaments {
		w.WriteInt32(int32(i))
		if minor < 6 {
			w.WriteVec3d(f.Position)
			w.WriteFloat64(f.Sigma)
		} else {
			w.WriteVec3f(f.Position)
			w.WriteFloat32(float32(f.Sigma))
		}
	}
	return w.Bytes()
}

func TestSnapshot_Layout(t *testing.T) {
	s := &Snapshot{
		Description: snapDesc,
		Source:      source.NewPoint(r3.Vec{X: 1, Y: 1, Z: 0.5}, source.Ethanol),
		Constants:   Constants{TotalMolesInFilament: 0.25, NumMolesAllGasesIncm3: 0.5},
		WindIndex:   3,
		Filaments:   append([]Filament{{Position: r3.Vec{X: 9}, Active: false}}, snapFilaments...),
	}
	data := encodeCurrent(t, s)
	// version + description + point source + constants + wind index + mode + 2 records
	require.Len(t, data, 8+40+(8+5+12+4+12)+8+4+(8+9)+2*20)

	r := codec.NewReader(data)
	assert.Equal(t, int32(3), r.ReadInt32())
	assert.Equal(t, int32(0), r.ReadInt32())
	assert.Equal(t, snapDesc, environment.DecodeDescription(r))
	_, err := source.DecodeBinary(r)
	require.NoError(t, err)
	assert.Equal(t, float32(0.25), r.ReadFloat32())
	assert.Equal(t, float32(0.5), r.ReadFloat32())
	assert.Equal(t, int32(3), r.ReadInt32())
	assert.Equal(t, "filaments", r.ReadString())
	assert.Equal(t, int32(0), r.ReadInt32(), "inactive filaments are skipped")
	assert.Equal(t, r3.Vec{X: 0.25, Y: 1.5, Z: 0.75}, r.ReadVec3f())
	assert.Equal(t, float32(10), r.ReadFloat32())
	assert.Equal(t, int32(1), r.ReadInt32())
}

func TestSnapshot_RoundTrip(t *testing.T) {
	src := source.NewCylinder(r3.Vec{X: 1, Y: 1, Z: 0.5}, 0.25, 0.5, source.Butane)
	in := &Snapshot{
		Description: snapDesc,
		Source:      src,
		Constants:   Constants{TotalMolesInFilament: 0.125, NumMolesAllGasesIncm3: 4},
		WindIndex:   2,
		Filaments:   snapFilaments,
	}

	var out Snapshot
	require.NoError(t, DecodeSnapshot(encodeCurrent(t, in), &out))
	assert.Equal(t, CurrentVersion, out.Version)
	assert.False(t, out.Legacy)
	assert.True(t, out.HasSource)
	assert.Equal(t, src, out.Source)
	assert.Equal(t, in.Constants, out.Constants)
	assert.Equal(t, 2, out.WindIndex)
	assert.Equal(t, ModeFilaments, out.Mode)
	assert.Equal(t, snapFilaments, out.Filaments)

	grid := make([]float32, snapDesc.NumCells())
	for i := range grid {
		grid[i] = float32(i) / 4
	}
	in.Mode = ModeConcentrations
	in.Concentrations = grid
	require.NoError(t, DecodeSnapshot(encodeCurrent(t, in), &out))
	assert.Equal(t, ModeConcentrations, out.Mode)
	assert.Equal(t, grid, out.Concentrations)
	assert.Empty(t, out.Filaments)
}

func TestDecodeSnapshot_LegacyLayouts(t *testing.T) {
	pos := r3.Vec{X: 1, Y: 1.5, Z: 0.5}
	c := NewConstants(298, 1, 20, 10)
	var current Snapshot
	require.NoError(t, DecodeSnapshot(encodeCurrent(t, &Snapshot{
		Description: snapDesc,
		Source:      source.NewPoint(pos, source.Methane),
		Constants:   c,
		WindIndex:   5,
		Filaments:   snapFilaments,
	}), &current))

	tests := []struct {
		name      string
		data      []byte
		version   Version
		hasSource bool
	}{
		{"1", encodeV1(pos, source.Methane, c, 5), Version{Major: 1}, true},
		{"2.0", encodeV2(0, pos, source.Methane, c, 5), Version{Major: 2}, true},
		{"2.5", encodeV2(5, pos, source.Methane, c, 5), Version{Major: 2, Minor: 5}, true},
		{"2.6", encodeV2(6, pos, source.Methane, c, 5), Version{Major: 2, Minor: 6}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Snapshot
			require.NoError(t, DecodeSnapshot(tt.data, &got))
			assert.Equal(t, tt.version, got.Version)
			assert.True(t, got.Legacy)
			assert.Equal(t, snapDesc, got.Description)
			assert.Equal(t, 5, got.WindIndex)
			assert.InEpsilon(t, current.Constants.TotalMolesInFilament, got.Constants.TotalMolesInFilament, 1e-6)
			assert.InEpsilon(t, current.Constants.NumMolesAllGasesIncm3, got.Constants.NumMolesAllGasesIncm3, 1e-6)
			assert.Equal(t, snapFilaments, got.Filaments)
			if tt.hasSource {
				assert.Equal(t, pos, got.Source.Position)
				assert.Equal(t, source.Methane, got.Source.GasType)
			} else {
				assert.Equal(t, source.Unknown, got.Source.GasType)
			}
			assert.False(t, got.HasSource)
		})
	}
}

func TestDecodeSnapshot_Malformed(t *testing.T) {
	good := encodeCurrent(t, &Snapshot{
		Description: snapDesc,
		Source:      source.NewPoint(r3.Vec{}, source.Methane),
		Filaments:   snapFilaments,
	})

	badMode := encodeCurrent(t, &Snapshot{Description: snapDesc, Source: source.NewPoint(r3.Vec{}, source.Methane)})
	copy(badMode[len(badMode)-9:], "particles")

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"version 0", []byte{0, 0, 0, 0, 0, 0, 0, 0}},
		{"truncated header", good[:30]},
		{"partial record", good[:len(good)-3]},
		{"unknown mode", badMode},
		{"v1 partial record", encodeV1(r3.Vec{}, source.Methane, Constants{}, 0)[:200]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s Snapshot
			err := DecodeSnapshot(tt.data, &s)
			assert.True(t, errors.Is(err, errs.ErrMalformedData), "got %v", err)
		})
	}
}

func TestPlayback_ReplaysRunning(t *testing.T) {
	dir := t.TempDir()
	env := openEnv(10, 0.5)
	winds := []r3.Vec{{X: 1}, {Y: 1}, {X: -1, Z: 0.5}}
	params := testParams(r3.Vec{X: 2.5, Y: 2.5, Z: 2.5}, source.Methane)
	params.Source.FilamentsPerSec = 30
	params.WindDeltaTime = 0.2
	params.SaveResults = true
	params.SaveDeltaTime = 0
	params.ResultsDir = dir
	r := newTestRunning(t, params, env, uniformWind(env, winds...))

	type frame struct {
		windIndex int
		filaments []Filament
	}
	var frames []frame
	for range 6 {
		windIndex := r.WindIndex()
		report, err := r.Step()
		require.NoError(t, err)
		require.True(t, report.Saved)
		require.Equal(t, windIndex, report.WindIndex)
		frames = append(frames, frame{windIndex, append([]Filament(nil), r.Filaments()...)})
	}
	assert.FileExists(t, filepath.Join(dir, "iteration_5"))

	p := NewPlayback(PlaybackParams{ResultsDir: dir}, env, uniformWind(env, winds...), source.NewPoint(r3.Vec{}, source.Unknown))
	for i, fr := range frames {
		require.NoError(t, p.AdvanceTimestep(), "iteration %d", i)
		assert.Equal(t, fr.windIndex, p.WindIndex())
		require.Len(t, p.Filaments(), len(fr.filaments))
		for j, f := range fr.filaments {
			got := p.Filaments()[j]
			assert.Equal(t, float64(float32(f.Position.X)), got.Position.X)
			assert.Equal(t, float64(float32(f.Position.Z)), got.Position.Z)
			assert.Equal(t, float64(float32(f.Sigma)), got.Sigma)
		}
		meta := p.Metadata()
		assert.Equal(t, params.Source, meta.Source)
		assert.InEpsilon(t, r.Metadata().Constants.TotalMolesInFilament, meta.Constants.TotalMolesInFilament, 1e-6)
	}

	probe := r3.Vec{X: 2.5, Y: 2.5, Z: 2.5}
	assert.InEpsilon(t, r.SampleConcentration(probe), p.SampleConcentration(probe), 1e-3)
}

func TestPlayback_MissingFile(t *testing.T) {
	env := openEnv(4, 1)
	p := NewPlayback(PlaybackParams{ResultsDir: t.TempDir(), StartIteration: 3}, env, uniformWind(env), source.NewPoint(r3.Vec{}, source.Methane))

	err := p.AdvanceTimestep()
	assert.True(t, errors.Is(err, errs.ErrNotFound))
	assert.Equal(t, 4, p.Iteration())
	assert.Empty(t, p.Filaments())
	assert.Equal(t, source.Methane, p.Metadata().Source.GasType)
}

func writeSnapshots(t *testing.T, dir string, env *environment.Environment, n int) {
	t.Helper()
	c := codec.NewCompressor(0)
	p := Playback{params: PlaybackParams{ResultsDir: dir}}
	for i := range n {
		s := &Snapshot{
			Description: env.Description,
			Source:      source.NewPoint(r3.Vec{X: 1, Y: 1, Z: 1}, source.Ethanol),
			WindIndex:   0,
			Filaments:   make([]Filament, i+1),
		}
		for j := range s.Filaments {
			s.Filaments[j] = Filament{Position: r3.Vec{X: 1, Y: 1, Z: 1}, Sigma: 10, Active: true}
		}
		require.NoError(t, c.WriteFile(p.SnapshotPath(i), encodeCurrent(t, s)))
	}
}

func TestPlayback_CorruptFrameKeepsLastGood(t *testing.T) {
	dir := t.TempDir()
	env := openEnv(4, 1)
	c := codec.NewCompressor(0)
	paths := Playback{params: PlaybackParams{ResultsDir: dir}}

	good := &Snapshot{
		Description: env.Description,
		Source:      source.NewPoint(r3.Vec{X: 1, Y: 1, Z: 1}, source.Ethanol),
		WindIndex:   0,
		Filaments: []Filament{
			{Position: r3.Vec{X: 1, Y: 1, Z: 1}, Sigma: 10, Active: true},
			{Position: r3.Vec{X: 2, Y: 2, Z: 2}, Sigma: 12, Active: true},
		},
	}
	require.NoError(t, c.WriteFile(paths.SnapshotPath(0), encodeCurrent(t, good)))

	next := *good
	next.WindIndex = 1
	next.Filaments = make([]Filament, 5)
	corrupt := append(encodeCurrent(t, &next), 0xde, 0xad, 0xbe)
	require.NoError(t, c.WriteFile(paths.SnapshotPath(1), corrupt))

	p := NewPlayback(PlaybackParams{ResultsDir: dir}, env, uniformWind(env, r3.Vec{X: 1}, r3.Vec{Y: 1}), source.Source{})
	require.NoError(t, p.AdvanceTimestep())
	require.Len(t, p.Filaments(), 2)

	err := p.AdvanceTimestep()
	assert.True(t, errors.Is(err, errs.ErrMalformedData))
	assert.Equal(t, 1, p.Iteration(), "a malformed frame is not skipped")
	assert.Len(t, p.Filaments(), 2)
	assert.Equal(t, 0, p.WindIndex())
	assert.Equal(t, r3.Vec{X: 2, Y: 2, Z: 2}, p.Filaments()[1].Position)
	assert.Equal(t, source.Ethanol, p.Metadata().Source.GasType)
}

func TestPlayback_Loop(t *testing.T) {
	dir := t.TempDir()
	env := openEnv(4, 1)
	writeSnapshots(t, dir, env, 3)

	p := NewPlayback(PlaybackParams{
		ResultsDir: dir,
		Loop:       wind.LoopConfig{Loop: true, From: 1, To: 2},
	}, env, uniformWind(env), source.Source{})

	var counts []int
	for range 5 {
		require.NoError(t, p.AdvanceTimestep())
		counts = append(counts, len(p.Filaments()))
	}
	assert.Equal(t, []int{1, 2, 3, 2, 3}, counts)
	assert.Equal(t, source.Ethanol, p.Metadata().Source.GasType)

	inverted := NewPlayback(PlaybackParams{
		ResultsDir: dir,
		Loop:       wind.LoopConfig{Loop: true, From: 2, To: 1},
	}, env, uniformWind(env), source.Source{})
	for range 3 {
		require.NoError(t, inverted.AdvanceTimestep())
	}
	assert.Equal(t, 3, inverted.Iteration(), "inverted range disables looping")
}

func TestScene_SampleConcentrations(t *testing.T) {
	env := openEnv(10, 0.5)
	pos := r3.Vec{X: 2.5, Y: 2.5, Z: 2.5}
	a := newTestRunning(t, testParams(pos, source.Methane), env, uniformWind(env))
	b := newTestRunning(t, testParams(pos, source.Ethanol), env, uniformWind(env))
	scene := NewScene(a, b)

	for range 5 {
		require.NoError(t, scene.AdvanceTimestep())
	}
	got := scene.SampleConcentrations(pos)
	require.Len(t, got, 2)
	assert.Equal(t, a.SampleConcentration(pos), got[source.Methane])
	assert.Equal(t, b.SampleConcentration(pos), got[source.Ethanol])
	assert.Greater(t, got[source.Methane], 0.0)
	assert.Equal(t, []source.GasType{source.Methane, source.Ethanol}, scene.GasTypes())
	assert.Equal(t, r3.Vec{}, scene.SampleWind(pos))
}
