// Package config provides configuration loading and access for the simulator.
package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"

	"github.com/pthm-cable/gaden/environment"
	"github.com/pthm-cable/gaden/errs"
	"github.com/pthm-cable/gaden/source"
	"github.com/pthm-cable/gaden/wind"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds all simulator configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Simulation  SimulationConfig  `yaml:"simulation"`
	Source      source.Source     `yaml:"source"`
	Playback    PlaybackConfig    `yaml:"playback"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Stream      StreamConfig      `yaml:"stream"`
	Logging     LoggingConfig     `yaml:"logging"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// EnvironmentConfig describes how the occupancy grid and wind are built.
// Dir holds the preprocessed grid and wind files.
type EnvironmentConfig struct {
	Dir             string      `yaml:"dir"`
	CellSize        float64     `yaml:"cell_size"` // [m]
	EmptyPoint      [3]float64  `yaml:"empty_point,flow"`
	Models          []string    `yaml:"models"`        // obstacle STL files
	OutletModels    []string    `yaml:"outlet_models"` // outlet STL files
	WindFiles       []string    `yaml:"wind_files"`    // OpenFOAM CSV exports, one per iteration
	UniformWind     bool        `yaml:"uniform_wind"`  // wind_files[0] holds one vector per line
	Gusts           GustsConfig `yaml:"gusts"`
	OccupancyHeight float64     `yaml:"occupancy_height"` // [m] slab for the PGM export
}

// GustsConfig enables the synthetic wind generator when no wind files are given.
type GustsConfig struct {
	Enabled    bool       `yaml:"enabled"`
	Base       [3]float64 `yaml:"base,flow"` // [m/s]
	Amplitude  float64    `yaml:"amplitude"` // [m/s]
	Scale      float64    `yaml:"scale"`     // [m]
	Iterations int        `yaml:"iterations"`
	TimeStep   float64    `yaml:"time_step"`
	Seed       int64      `yaml:"seed"`
}

// SimulationConfig holds the filament engine parameters.
type SimulationConfig struct {
	DeltaTime                float64          `yaml:"delta_time"`      // [s]
	WindDeltaTime            float64          `yaml:"wind_delta_time"` // [s]
	Temperature              float64          `yaml:"temperature"`     // [K]
	Pressure                 float64          `yaml:"pressure"`        // [atm]
	GrowthGamma              float64          `yaml:"growth_gamma"`    // [cm²/s]
	NoiseStd                 float64          `yaml:"noise_std"`       // [m/s]
	PrecomputeConcentrations bool             `yaml:"precompute_concentrations"`
	SaveResults              bool             `yaml:"save_results"`
	SaveDeltaTime            float64          `yaml:"save_delta_time"` // [s]
	ResultsDir               string           `yaml:"results_dir"`
	MaxTime                  float64          `yaml:"max_time"` // [s]
	Seed                     uint64           `yaml:"seed"`
	ExpectedFilaments        int              `yaml:"expected_filaments"`
	Workers                  int              `yaml:"workers"`
	WindLoop                 wind.LoopConfig  `yaml:"wind_loop"`
	Disturbance              *wind.Quadrotor  `yaml:"disturbance"`
}

// PlaybackConfig holds replay parameters.
type PlaybackConfig struct {
	ResultsDir     string          `yaml:"results_dir"`
	StartIteration int             `yaml:"start_iteration"`
	Loop           wind.LoopConfig `yaml:"loop"`
	SamplePoints   [][3]float64    `yaml:"sample_points,flow"`
}

// TelemetryConfig holds run output parameters.
type TelemetryConfig struct {
	OutputDir   string  `yaml:"output_dir"`
	StatsWindow float64 `yaml:"stats_window"` // [s] of simulated time
	PerfWindow  int     `yaml:"perf_window"`  // steps
	LogEvery    int     `yaml:"log_every"`    // steps between progress logs
}

// StreamConfig holds the websocket server parameters.
type StreamConfig struct {
	Addr         string  `yaml:"addr"`
	StepInterval float64 `yaml:"step_interval"` // [s] wall time between steps
	MaxFilaments int     `yaml:"max_filaments"` // per frame, 0 for all
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	GridPath      string     // Dir/OccupancyGrid3D.csv
	WindDir       string     // Dir/wind
	EmptyPoint    r3.Vec     // Environment.EmptyPoint as a vector
	SamplePoints  []r3.Vec   // Playback.SamplePoints as vectors
	MaxIterations int        // MaxTime / DeltaTime, 0 when unbounded
	LogLevel      slog.Level // parsed Logging.Level
}

// WindDirName is the wind subdirectory inside an environment directory.
const WindDirName = "wind"

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Load reads a YAML file over the embedded defaults. If path is empty, only
// the defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: config file %s", errs.ErrNotFound, path)
			}
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// only overwrites fields present in the file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parsing config file: %v", errs.ErrMalformedData, err)
		}
	}

	if err := cfg.computeDerived(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// computeDerived validates the loaded values and fills Derived.
func (c *Config) computeDerived() error {
	sim := &c.Simulation
	switch {
	case sim.DeltaTime <= 0:
		return fmt.Errorf("%w: simulation.delta_time must be positive", errs.ErrConfiguration)
	case sim.WindDeltaTime <= 0:
		return fmt.Errorf("%w: simulation.wind_delta_time must be positive", errs.ErrConfiguration)
	case sim.Temperature <= 0 || sim.Pressure <= 0:
		return fmt.Errorf("%w: temperature and pressure must be positive", errs.ErrConfiguration)
	case c.Environment.CellSize <= 0:
		return fmt.Errorf("%w: environment.cell_size must be positive", errs.ErrConfiguration)
	case c.Source.InitialSigma <= 0:
		return fmt.Errorf("%w: source.initialSigma must be positive", errs.ErrConfiguration)
	}
	if q := sim.Disturbance; q != nil {
		if err := q.Validate(); err != nil {
			return fmt.Errorf("simulation.disturbance: %w", err)
		}
	}

	level, err := parseLevel(c.Logging.Level)
	if err != nil {
		return err
	}
	c.Derived.LogLevel = level

	c.Derived.GridPath = filepath.Join(c.Environment.Dir, environment.DefaultFileName)
	c.Derived.WindDir = filepath.Join(c.Environment.Dir, WindDirName)
	c.Derived.EmptyPoint = vec(c.Environment.EmptyPoint)

	c.Derived.SamplePoints = c.Derived.SamplePoints[:0]
	for _, p := range c.Playback.SamplePoints {
		c.Derived.SamplePoints = append(c.Derived.SamplePoints, vec(p))
	}

	c.Derived.MaxIterations = 0
	if sim.MaxTime > 0 {
		c.Derived.MaxIterations = int(sim.MaxTime/sim.DeltaTime + 0.5)
	}

	if c.Playback.ResultsDir == "" {
		c.Playback.ResultsDir = sim.ResultsDir
	}
	return nil
}

// GustConfig converts the gusts section for the wind generator.
func (c *Config) GustConfig() wind.GustConfig {
	g := c.Environment.Gusts
	return wind.GustConfig{
		Base:       vec(g.Base),
		Amplitude:  g.Amplitude,
		Scale:      g.Scale,
		Iterations: g.Iterations,
		TimeStep:   g.TimeStep,
		Seed:       g.Seed,
	}
}

func vec(a [3]float64) r3.Vec { return r3.Vec{X: a[0], Y: a[1], Z: a[2]} }

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("%w: logging.level %q", errs.ErrConfiguration, s)
	}
	return level, nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
