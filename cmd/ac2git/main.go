// Package main provides the entry point for the ac2git CLI tool.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ac2git/ac2git/cmd/ac2git/commands"
	"github.com/ac2git/ac2git/pkg/version"
)

var (
	verbose bool
	quiet   bool
)

func main() {
	version.InitBinaryVersion()

	rootCmd := &cobra.Command{
		Use:   "ac2git",
		Short: "ac2git - AccuRev to Git history conversion",
		Long: `ac2git replays an AccuRev depot's transaction history onto a Git
repository, one commit per transaction per affected stream.

Commands:
  convert   Retrieve and process a depot's tracked streams
  config    Configuration helpers`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress output")

	rootCmd.AddCommand(commands.NewConvertCommand())
	rootCmd.AddCommand(commands.NewConfigCommand())
	rootCmd.AddCommand(versionCmd())

	// Cancellation is cooperative (spec §5): a SIGINT/SIGTERM cancels ctx,
	// exec.CommandContext lets any in-flight AccuRev command finish or be
	// killed, and convert maps the resulting error to exit code 2 rather
	// than treating it as a configuration failure, so a partial run's
	// info-ahead-of-data state is repaired on next startup.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(commands.ExitCode(err))
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "ac2git %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
