package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/notargets/HPCGKernel/config"
	"github.com/spf13/cobra"
)

var (
	configPath string
	flags      = config.Default()
)

var rootCmd = &cobra.Command{
	Use:   "hpcgsetup",
	Short: "Build the HPCG matrix hierarchy and halo plans and report them",
	Long: `hpcgsetup partitions an HPCG 27-point problem across in-process shards,
builds the multigrid hierarchy with its halo exchange plans, and prints a
per-level summary. Flags override the configuration file, which overrides
the built-in defaults.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		overrideFromFlags(cmd, cfg)
		if err = cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		summary, err := run(ctx, cfg, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		summary.Print(cmd.OutOrStdout())
		return nil
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	f.Int64Var(&flags.Nx, "nx", flags.Nx, "local grid points in x")
	f.Int64Var(&flags.Ny, "ny", flags.Ny, "local grid points in y")
	f.Int64Var(&flags.Nz, "nz", flags.Nz, "local grid points in z")
	f.IntVarP(&flags.Shards, "shards", "n", flags.Shards, "number of shards")
	f.IntVar(&flags.Threads, "threads", flags.Threads, "thread hint per shard")
	f.IntVarP(&flags.Levels, "levels", "l", flags.Levels,
		fmt.Sprintf("multigrid levels including the fine level (max %d)", config.MaxLevels))
	f.StringVar(&flags.Device, "device", flags.Device, "mirror the hierarchy onto an OCCA device: Serial, OpenMP or CUDA")
	f.StringVar(&flags.LogLevel, "log-level", flags.LogLevel, "debug, info, warn or error")
	f.StringVar(&flags.LogFormat, "log-format", flags.LogFormat, "text or json")
}

// overrideFromFlags copies every flag the user set onto cfg
func overrideFromFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("nx") {
		cfg.Nx = flags.Nx
	}
	if f.Changed("ny") {
		cfg.Ny = flags.Ny
	}
	if f.Changed("nz") {
		cfg.Nz = flags.Nz
	}
	if f.Changed("shards") {
		cfg.Shards = flags.Shards
	}
	if f.Changed("threads") {
		cfg.Threads = flags.Threads
	}
	if f.Changed("levels") {
		cfg.Levels = flags.Levels
	}
	if f.Changed("device") {
		cfg.Device = flags.Device
	}
	if f.Changed("log-level") {
		cfg.LogLevel = flags.LogLevel
	}
	if f.Changed("log-format") {
		cfg.LogFormat = flags.LogFormat
	}
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
