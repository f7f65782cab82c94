package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/selivandex/lp-advisor/internal/adapters/config"
	"github.com/selivandex/lp-advisor/pkg/logger"
)

const appName = "lp-advisor"

// cfg is loaded once by the root command before any subcommand runs
var cfg *config.Config

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nReceived interrupt signal, shutting down...")
		cancel()
	}()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           appName,
		Short:         "LP pool regime and heat advisor",
		Long:          "Streams pool prices, classifies market regime per pool and publishes reinvest/reallocate scores.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := logger.Init(loaded.Logging.Level, loaded.Logging.Format, loaded.Logging.File); err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			cfg = loaded
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			logger.Sync()
		},
	}

	root.AddCommand(
		newRunCmd(),
		newFrameCmd(),
		newRecsCmd(),
		newMigrateCmd(),
	)
	return root
}
