package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/gaden/config"
	"github.com/pthm-cable/gaden/simulation"
	"github.com/pthm-cable/gaden/telemetry"
)

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Release filaments into the preprocessed environment",
		Long: `Load the environment directory, run the filament engine for
simulation.max_time seconds (or until interrupted), and save snapshots to
simulation.results_dir every save_delta_time seconds.

Examples:
  gaden simulate --config scenario.yaml
  gaden simulate --max-time 120 --output-dir runs/a --seed 42`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Cfg()
			if v, _ := cmd.Flags().GetFloat64("max-time"); v > 0 {
				cfg.Derived.MaxIterations = int(v/cfg.Simulation.DeltaTime + 0.5)
			}
			if v, _ := cmd.Flags().GetString("output-dir"); v != "" {
				cfg.Telemetry.OutputDir = v
			}
			if v, _ := cmd.Flags().GetUint64("seed"); v != 0 {
				cfg.Simulation.Seed = v
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSimulate(ctx, cfg)
		},
	}
	cmd.Flags().Float64("max-time", 0, "Stop after this many simulated seconds (0 = use config)")
	cmd.Flags().String("output-dir", "", "Output directory for CSV logs and config snapshot")
	cmd.Flags().Uint64("seed", 0, "RNG seed (0 = use config)")
	return cmd
}

func runSimulate(ctx context.Context, cfg *config.Config) error {
	env, seq, err := loadEnvironment(cfg, cfg.Simulation.WindLoop)
	if err != nil {
		return err
	}

	run, err := simulation.NewRunning(simulation.ParamsFromConfig(cfg), env, seq)
	if err != nil {
		return err
	}
	defer run.Close()

	if err := applyDisturbance(cfg, run); err != nil {
		return err
	}

	om, err := telemetry.NewOutputManager(cfg.Telemetry.OutputDir)
	if err != nil {
		return err
	}
	defer om.Close()
	if err := om.WriteConfig(cfg); err != nil {
		return err
	}

	perf := telemetry.NewPerfCollector(cfg.Telemetry.PerfWindow)
	run.SetPhaseTimer(perf)
	h := newTelemetryHooks(cfg, om, perf)

	maxIter := cfg.Derived.MaxIterations
	slog.Info("starting simulation",
		"max_iterations", maxIter,
		"delta_time", cfg.Simulation.DeltaTime,
		"results_dir", cfg.Simulation.ResultsDir,
		"output_dir", om.Dir(),
	)

	for maxIter == 0 || run.Iteration() < maxIter {
		select {
		case <-ctx.Done():
			slog.Info("interrupted", "iteration", run.Iteration(), "time", run.Time())
			return nil
		default:
		}

		perf.StartTick()
		report, err := run.Step()
		if err != nil {
			return fmt.Errorf("step %d: %w", report.Iteration, err)
		}
		perf.StartPhase(telemetry.PhaseTelemetry)
		if err := h.afterStep(run, report); err != nil {
			return err
		}
		perf.EndTick()
	}

	slog.Info("simulation finished",
		"iterations", run.Iteration(),
		"time", run.Time(),
		"spawned", run.TotalSpawned(),
		"active", len(run.Filaments()),
	)
	return nil
}

// applyDisturbance adds the configured quadrotor downwash, if any.
func applyDisturbance(cfg *config.Config, run *simulation.Running) error {
	q := cfg.Simulation.Disturbance
	if q == nil {
		return nil
	}
	env := run.Environment()
	field := make([]r3.Vec, env.NumCells())
	q.Field(env, field, cfg.Simulation.Pressure, cfg.Simulation.Temperature)
	if err := run.SetDisturbance(field); err != nil {
		return err
	}
	slog.Info("quadrotor disturbance enabled", "position", q.Position, "mass", q.Mass)
	return nil
}

// telemetryHooks feeds step reports into the windowed collector, the CSV
// outputs and the progress log.
type telemetryHooks struct {
	cfg       *config.Config
	om        *telemetry.OutputManager
	perf      *telemetry.PerfCollector
	collector *telemetry.Collector

	sigmas  []float64
	heights []float64
	samples []telemetry.SampleRecord
}

func newTelemetryHooks(cfg *config.Config, om *telemetry.OutputManager, perf *telemetry.PerfCollector) *telemetryHooks {
	return &telemetryHooks{
		cfg:       cfg,
		om:        om,
		perf:      perf,
		collector: telemetry.NewCollector(cfg.Telemetry.StatsWindow, cfg.Simulation.DeltaTime),
	}
}

func (h *telemetryHooks) afterStep(run *simulation.Running, report simulation.StepReport) error {
	h.collector.Record(telemetry.StepCounts{
		Spawned:    report.Spawned,
		Removed:    report.Removed,
		WallSlides: report.WallSlides,
		Stalls:     report.Stalls,
		Saved:      report.Saved,
	})

	iteration := run.Iteration()
	if h.collector.ShouldFlush(iteration) {
		h.sigmas, h.heights = h.sigmas[:0], h.heights[:0]
		for _, f := range run.Filaments() {
			h.sigmas = append(h.sigmas, f.Sigma)
			h.heights = append(h.heights, f.Position.Z)
		}
		stats := h.collector.Flush(iteration, report.WindIndex, h.sigmas, h.heights)
		slog.Info("window", "stats", stats)
		if err := h.om.WriteTelemetry(stats); err != nil {
			return err
		}
		if err := h.om.WritePerf(h.perf.Stats(), iteration); err != nil {
			return err
		}
	}

	if report.Saved {
		if err := h.writeSamples(run, iteration, run.Time()); err != nil {
			return err
		}
	}

	if every := h.cfg.Telemetry.LogEvery; every > 0 && iteration%every == 0 {
		slog.Info("progress",
			"iteration", iteration,
			"time", run.Time(),
			"active", report.Active,
			"wind_index", report.WindIndex,
		)
		slog.Debug("perf", "stats", h.perf.Stats())
	}
	return nil
}

// writeSamples queries every configured sample point.
func (h *telemetryHooks) writeSamples(sim simulation.Simulation, iteration int, t float64) error {
	points := h.cfg.Derived.SamplePoints
	if len(points) == 0 || h.om == nil {
		return nil
	}
	gas := sim.Metadata().Source.GasType.String()
	h.samples = h.samples[:0]
	for _, p := range points {
		w := sim.SampleWind(p)
		h.samples = append(h.samples, telemetry.SampleRecord{
			Iteration: iteration,
			SimTime:   t,
			X:         p.X,
			Y:         p.Y,
			Z:         p.Z,
			Gas:       gas,
			PPM:       sim.SampleConcentration(p),
			WindX:     w.X,
			WindY:     w.Y,
			WindZ:     w.Z,
		})
	}
	return h.om.WriteSamples(h.samples)
}
