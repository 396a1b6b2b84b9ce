// Command highlight cuts a short square highlight clip out of a video.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-highlight/internal/config"
	"github.com/teslashibe/go-highlight/internal/log"
	"github.com/teslashibe/go-highlight/pkg/tracing"
)

var (
	cfg      *config.Config
	debug    bool
	shutdown func(context.Context) error
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err := rootCmd.ExecuteContext(ctx)
	if shutdown != nil {
		if serr := shutdown(context.Background()); serr != nil {
			log.Warn("tracer shutdown failed", "error", serr)
		}
	}
	log.Close()
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "highlight",
	Short:         "highlight - detection-driven highlight clip extraction",
	Long:          "Finds the first person (or face) in a short video and writes a random 5-8s square clip starting there.",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}

		level := cfg.LogLevel
		if debug {
			level = "debug"
		}
		if err := log.InitWithOptions(log.Options{
			Level: level,
			File:  cfg.LogFile,
			JSON:  cfg.IsDeployed(),
		}); err != nil {
			return err
		}

		shutdown, err = tracing.Init(cmd.Context(), cfg.OTLPEndpoint)
		if err != nil {
			return err
		}

		log.Debug("config loaded", "env", cfg.AppEnv, "model_dir", cfg.ModelDir)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable verbose debug logging")

	extractCmd.Flags().Uint64Var(&seedFlag, "seed", 0, "segment length seed (overrides RANDOM_SEED, 0 = random)")

	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(warmCmd)
	rootCmd.AddCommand(serveCmd)
}
