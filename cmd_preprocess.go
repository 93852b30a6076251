package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/gaden/config"
	"github.com/pthm-cable/gaden/environment"
	"github.com/pthm-cable/gaden/errs"
	"github.com/pthm-cable/gaden/preprocessing"
	"github.com/pthm-cable/gaden/wind"
)

// occupancyMapName is the PGM/YAML pair written next to the grid.
const occupancyMapName = "occupancy"

func newPreprocessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "preprocess",
		Short: "Voxelize the models and convert wind data into an environment directory",
		Long: `Build the occupancy grid from environment.models and
environment.outlet_models, convert the wind source (OpenFOAM clouds, a
uniform wind CSV, or synthetic gusts) into binary wind files, and write
everything to environment.dir.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPreprocess(config.Cfg())
		},
	}
}

func runPreprocess(cfg *config.Config) error {
	ec := cfg.Environment
	if len(ec.Models) == 0 {
		return fmt.Errorf("%w: environment.models is empty", errs.ErrConfiguration)
	}

	env, err := preprocessing.VoxelizeFiles(ec.Models, ec.OutletModels, ec.CellSize, cfg.Derived.EmptyPoint)
	if err != nil {
		return err
	}
	seq, err := buildWind(cfg, env)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(ec.Dir, 0755); err != nil {
		return fmt.Errorf("creating environment dir: %w", err)
	}
	if err := env.WriteToFile(cfg.Derived.GridPath); err != nil {
		return err
	}
	if err := seq.WriteFiles(cfg.Derived.WindDir, wind.DefaultPrefix); err != nil {
		return err
	}
	half := ec.CellSize / 2
	mapBase := filepath.Join(ec.Dir, occupancyMapName)
	if err := env.WriteOccupancyMap(mapBase, ec.OccupancyHeight-half, ec.OccupancyHeight+half); err != nil {
		return err
	}

	slog.Info("environment written",
		"dir", ec.Dir,
		"dims", env.Dimensions,
		"free", env.Count(environment.Free),
		"obstacles", env.Count(environment.Obstacle),
		"outlets", env.Count(environment.Outlet),
		"wind_iterations", seq.Len(),
		"mean_wind", wind.MeanSpeed(seq.Current()),
	)
	return nil
}

// buildWind picks the wind source: explicit files first, then gusts. With
// neither, the sequence falls back to still air.
func buildWind(cfg *config.Config, env *environment.Environment) (*wind.Sequence, error) {
	ec := cfg.Environment
	n := env.NumCells()
	var fields [][]r3.Vec
	var err error
	switch {
	case len(ec.WindFiles) > 0 && ec.UniformWind:
		fields, err = preprocessing.ParseUniformWind(ec.WindFiles[0], n)
	case len(ec.WindFiles) > 0:
		fields, err = preprocessing.ParseOpenFoamVectorCloud(ec.WindFiles, env)
	case ec.Gusts.Enabled:
		fields = wind.Gusts(env, cfg.GustConfig())
	}
	if err != nil {
		return nil, err
	}
	return wind.NewSequence(fields, n, cfg.Simulation.WindLoop), nil
}

// loadEnvironment reads a preprocessed environment directory.
func loadEnvironment(cfg *config.Config, loop wind.LoopConfig) (*environment.Environment, *wind.Sequence, error) {
	env, err := environment.ReadFromFile(cfg.Derived.GridPath)
	if err != nil {
		return nil, nil, err
	}
	seq, err := wind.LoadFiles(filepath.Join(cfg.Derived.WindDir, wind.DefaultPrefix), "", env.NumCells(), loop)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("environment loaded",
		"grid", cfg.Derived.GridPath,
		"dims", env.Dimensions,
		"cell_size", env.CellSize,
		"wind_iterations", seq.Len(),
	)
	return env, seq, nil
}
