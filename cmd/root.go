// Package cmd wires the CLI commands: serve (HTTP API), ingest (batch
// document loading), and version.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "portfolio-chat",
	Short: "Portfolio chat assistant backend",
	Long: `portfolio-chat answers questions about the portfolio through a
retrieval-augmented pipeline: embed the question, find the nearest
portfolio documents in Postgres, and stream an OpenAI chat completion
grounded on them.

Run 'portfolio-chat serve' to start the HTTP API, or
'portfolio-chat ingest <file>' to load portfolio documents.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
