package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/gaden/environment"
	"github.com/pthm-cable/gaden/errs"
	"github.com/pthm-cable/gaden/source"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 0.1, cfg.Simulation.DeltaTime)
	assert.Equal(t, 298.0, cfg.Simulation.Temperature)
	assert.Equal(t, source.KindPoint, cfg.Source.Kind)
	assert.Equal(t, source.Methane, cfg.Source.GasType)
	assert.Equal(t, 10.0, cfg.Source.InitialSigma)

	assert.Equal(t, filepath.Join("env", environment.DefaultFileName), cfg.Derived.GridPath)
	assert.Equal(t, 600, cfg.Derived.MaxIterations)
	assert.Equal(t, slog.LevelInfo, cfg.Derived.LogLevel)
	assert.Equal(t, cfg.Simulation.ResultsDir, cfg.Playback.ResultsDir)
}

func TestLoad_Overlay(t *testing.T) {
	path := writeConfig(t, `
simulation:
  delta_time: 0.05
  max_time: 1
source:
  sourceType: sphere
  radius: 0.3
  gasType: hydrogen
playback:
  sample_points: [[1, 2, 3]]
logging:
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.05, cfg.Simulation.DeltaTime)
	assert.Equal(t, 1.0, cfg.Simulation.WindDeltaTime, "untouched keys keep defaults")
	assert.Equal(t, 20, cfg.Derived.MaxIterations)

	assert.Equal(t, source.KindSphere, cfg.Source.Kind)
	assert.Equal(t, 0.3, cfg.Source.Radius)
	assert.Equal(t, source.Hydrogen, cfg.Source.GasType)
	assert.Equal(t, 20.0, cfg.Source.PPMCenter, "source keys overlay the defaults")

	require.Len(t, cfg.Derived.SamplePoints, 1)
	assert.Equal(t, 2.0, cfg.Derived.SamplePoints[0].Y)
	assert.Equal(t, slog.LevelDebug, cfg.Derived.LogLevel)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.Is(err, errs.ErrNotFound))

	_, err = Load(writeConfig(t, "simulation: [not, a, map]"))
	assert.True(t, errors.Is(err, errs.ErrMalformedData))

	tests := []struct {
		name string
		body string
	}{
		{"zero delta", "simulation:\n  delta_time: 0\n"},
		{"negative wind delta", "simulation:\n  wind_delta_time: -1\n"},
		{"zero temperature", "simulation:\n  temperature: 0\n"},
		{"zero cell size", "environment:\n  cell_size: 0\n"},
		{"zero sigma", "source:\n  initialSigma: 0\n"},
		{"bad level", "logging:\n  level: loud\n"},
		{"zero motor distance", "simulation:\n  disturbance:\n    position: [1, 1, 1]\n    mass: 1.5\n    rotor_radius: 0.12\n"},
		{"zero rotor radius", "simulation:\n  disturbance:\n    motor_distance: 0.25\n    mass: 1.5\n"},
		{"negative mass", "simulation:\n  disturbance:\n    motor_distance: 0.25\n    mass: -1\n    rotor_radius: 0.12\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.True(t, errors.Is(err, errs.ErrConfiguration), "got %v", err)
		})
	}
}

func TestLoad_Disturbance(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
simulation:
  disturbance:
    position: [2, 2, 3.5]
    motor_distance: 0.25
    mass: 1.5
    rotor_radius: 0.12
`))
	require.NoError(t, err)
	require.NotNil(t, cfg.Simulation.Disturbance)
	assert.Equal(t, 3.5, cfg.Simulation.Disturbance.Position.Z)
	assert.Equal(t, 0.12, cfg.Simulation.Disturbance.RotorRadius)
}

func TestWriteYAML_RoundTrip(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Simulation.NoiseStd = 0.25
	cfg.Source = source.NewBox(cfg.Source.Position, cfg.Source.Position, source.Ethanol)

	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, cfg.WriteYAML(path))

	back, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.25, back.Simulation.NoiseStd)
	assert.Equal(t, source.KindBox, back.Source.Kind)
	assert.Equal(t, source.Ethanol, back.Source.GasType)
	assert.Equal(t, cfg.Source.Size, back.Source.Size)
}

func TestCfg_PanicsBeforeInit(t *testing.T) {
	global = nil
	assert.Panics(t, func() { Cfg() })
	require.NoError(t, Init(""))
	assert.NotNil(t, Cfg())
}
