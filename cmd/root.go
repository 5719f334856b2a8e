// Package cmd defines and implements the CLI commands for the harvester
// executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Resilient harvester for Supreme Court oral argument data",
		Long: `harvester pulls case, oral argument, and audio data from the Oyez API,
normalizes its inconsistent document shapes into a canonical model, and
persists everything through a resumable content-addressed cache so that
long-running harvests survive interruption without re-fetching completed
work.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: built-in defaults plus HARVESTER_* env)")

	cmd.AddCommand(newHarvestCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

// Execute is the main entry point. A SIGINT or SIGTERM cancels the command
// context; in-flight work finishes before the process exits.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
