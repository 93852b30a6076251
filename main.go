package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/pthm-cable/gaden/config"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "gaden",
		Short: "Filament-based gas dispersion simulator",
		Long: `gaden voxelizes CAD models into an occupancy grid, releases gas
filaments into a wind field, and saves or replays the resulting plume.

Typical flow:
  gaden preprocess --config scenario.yaml
  gaden simulate   --config scenario.yaml
  gaden playback   --config scenario.yaml`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			if err := config.Init(path); err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			level := config.Cfg().Derived.LogLevel
			if override, _ := cmd.Flags().GetString("log-level"); override != "" {
				if err := level.UnmarshalText([]byte(override)); err != nil {
					return fmt.Errorf("invalid --log-level %q", override)
				}
			}
			logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
			slog.SetDefault(logger)
			return nil
		},
	}

	rootCmd.PersistentFlags().String("config", "", "Path to config.yaml (empty = use defaults)")
	rootCmd.PersistentFlags().String("log-level", "", "Override logging.level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newPreprocessCmd(),
		newSimulateCmd(),
		newPlaybackCmd(),
		newServeCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
