// Package main provides the entry point for the imgcatcher CLI.
package main

import (
	"fmt"
	"os"

	"github.com/nekozuka/imgcatcher/internal/config"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for imgcatcher.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "imgcatcher",
		Short: "Image collection crawler for online art sources",
		Long: `imgcatcher collects images from online sources (Danbooru, Gelbooru, Pixiv)
by tag search. Collected images are filtered by content criteria, deduplicated,
and stored locally so they can be promoted to reusable templates.

Crawl tasks run in the foreground and can be paused, resumed and cancelled.
Already-collected images survive cancellation.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().String("db-dir", config.XDGDataDir(),
		"Directory for the task database")

	// Add subcommands
	cmd.AddCommand(NewCrawlCmd())
	cmd.AddCommand(NewTasksCmd())
	cmd.AddCommand(NewSourcesCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
