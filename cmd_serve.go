package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pthm-cable/gaden/config"
	"github.com/pthm-cable/gaden/simulation"
	"github.com/pthm-cable/gaden/stream"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Stream a live or replayed plume over websockets",
		Long: `Run the scene on a wall-clock ticker and broadcast every step to
clients connected on ws://<addr>/ws. Clients may send
{"type":"sample","position":[x,y,z]} to query concentration and wind.

Examples:
  gaden serve --config scenario.yaml
  gaden serve --playback --addr :9000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Cfg()
			if v, _ := cmd.Flags().GetString("addr"); v != "" {
				cfg.Stream.Addr = v
			}
			replay, _ := cmd.Flags().GetBool("playback")

			scene, closeScene, err := buildScene(cfg, replay)
			if err != nil {
				return err
			}
			defer closeScene()

			dt := cfg.Simulation.DeltaTime
			if replay {
				dt = cfg.Simulation.SaveDeltaTime
			}
			srv := stream.NewServer(scene, stream.Options{
				StepInterval: time.Duration(cfg.Stream.StepInterval * float64(time.Second)),
				DeltaTime:    dt,
				MaxFilaments: cfg.Stream.MaxFilaments,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.Run(ctx, cfg.Stream.Addr)
		},
	}
	cmd.Flags().String("addr", "", "Listen address (default stream.addr)")
	cmd.Flags().Bool("playback", false, "Replay saved snapshots instead of simulating")
	return cmd
}

// buildScene wraps either a running engine or a playback in a scene.
func buildScene(cfg *config.Config, replay bool) (*simulation.Scene, func(), error) {
	loop := cfg.Simulation.WindLoop
	if replay {
		loop = cfg.Playback.Loop
	}
	env, seq, err := loadEnvironment(cfg, loop)
	if err != nil {
		return nil, nil, err
	}

	if replay {
		pb := simulation.NewPlayback(simulation.PlaybackParamsFromConfig(cfg), env, seq, cfg.Source)
		return simulation.NewScene(pb), func() {}, nil
	}

	params := simulation.ParamsFromConfig(cfg)
	// serving is interactive; snapshots are the simulate command's job
	params.SaveResults = false
	run, err := simulation.NewRunning(params, env, seq)
	if err != nil {
		return nil, nil, err
	}
	if err := applyDisturbance(cfg, run); err != nil {
		run.Close()
		return nil, nil, err
	}
	return simulation.NewScene(run), run.Close, nil
}
