// Package commands implements the companion CLI's cobra subcommands.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd builds the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "companion",
		Short: "Companion - always-on voice assistant",
		Long: `Companion is an always-on, voice-driven personal assistant.
It listens for a wake word, dispatches what it hears to an LLM, and keeps
a persistent store of scheduled actions it checks off on its own.

Examples:
  companion serve
  companion schedule list
  companion oauth login
  companion chat`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newScheduleCmd(),
		newOAuthCmd(),
		newHealthCmd(),
		newChatCmd(),
		newSetupCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the config file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
