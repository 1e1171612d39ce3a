package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "chanpost",
	Short: "Publishes trending repositories and articles to a Telegram channel",
	Long: `chanpost collects GitHub and Habr items, rewrites them into channel posts
and publishes each item once. Without a subcommand it behaves like "run".`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBot(cmd.Context(), runOnce)
	},
}

// Execute runs the root command with a context cancelled on SIGINT/SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "chanpost: %v\n", err)
		os.Exit(1)
	}
}
