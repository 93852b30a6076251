package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pthm-cable/gaden/config"
	"github.com/pthm-cable/gaden/errs"
	"github.com/pthm-cable/gaden/simulation"
	"github.com/pthm-cable/gaden/telemetry"
)

func newPlaybackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "playback",
		Short: "Replay saved snapshots and sample them",
		Long: `Replay iteration_<n> files from playback.results_dir, sampling the
concentration and wind at playback.sample_points on every frame. Samples
are written to telemetry.output_dir/samples.csv.

Examples:
  gaden playback --config scenario.yaml --iterations 200
  gaden playback --start 50 --output-dir runs/a`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Cfg()
			if cmd.Flags().Changed("start") {
				cfg.Playback.StartIteration, _ = cmd.Flags().GetInt("start")
			}
			if v, _ := cmd.Flags().GetString("output-dir"); v != "" {
				cfg.Telemetry.OutputDir = v
			}
			n, _ := cmd.Flags().GetInt("iterations")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runPlayback(ctx, cfg, n)
		},
	}
	cmd.Flags().Int("start", 0, "First iteration to load (default playback.start_iteration)")
	cmd.Flags().Int("iterations", 0, "Number of frames to replay (0 = until the first missing file)")
	cmd.Flags().String("output-dir", "", "Output directory for samples.csv")
	return cmd
}

func runPlayback(ctx context.Context, cfg *config.Config, frames int) error {
	env, seq, err := loadEnvironment(cfg, cfg.Playback.Loop)
	if err != nil {
		return err
	}
	pb := simulation.NewPlayback(simulation.PlaybackParamsFromConfig(cfg), env, seq, cfg.Source)

	om, err := telemetry.NewOutputManager(cfg.Telemetry.OutputDir)
	if err != nil {
		return err
	}
	defer om.Close()
	h := newTelemetryHooks(cfg, om, nil)

	slog.Info("starting playback",
		"results_dir", cfg.Playback.ResultsDir,
		"start", cfg.Playback.StartIteration,
		"frames", frames,
		"sample_points", len(cfg.Derived.SamplePoints),
	)

	played := 0
	for frames == 0 || played < frames {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		iteration := pb.Iteration()
		if err := pb.AdvanceTimestep(); err != nil {
			// without a frame count the first gap ends the replay
			if errors.Is(err, errs.ErrNotFound) && frames == 0 {
				slog.Info("playback finished", "frames", played, "last_iteration", iteration)
				return nil
			}
			if !errors.Is(err, errs.ErrNotFound) {
				return err
			}
		}
		played++

		t := float64(iteration) * cfg.Simulation.SaveDeltaTime
		if err := h.writeSamples(pb, iteration, t); err != nil {
			return err
		}
		if every := cfg.Telemetry.LogEvery; every > 0 && played%every == 0 {
			slog.Info("progress",
				"iteration", iteration,
				"filaments", len(pb.Filaments()),
				"wind_index", pb.WindIndex(),
			)
		}
	}
	slog.Info("playback finished", "frames", played)
	return nil
}
