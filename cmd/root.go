// Package cmd implements the semindex command line interface.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/biolink/semindex/internal/log"
)

var (
	flagVerbose bool
	flagJSONLog bool
)

var rootCmd = &cobra.Command{
	Use:   "semindex",
	Short: "Semantic index and grounded query engine for the clinical registry",
	Long: `semindex keeps a semantic vector index synchronized with the clinical
registry through its change stream, and answers natural-language questions
grounded strictly in the indexed documents.

Commands:
  consume   run the indexing pipeline (change stream -> vector store)
  serve     run the HTTP query API
  version   show version and configuration`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&flagJSONLog, "log-json", false, "log in JSON format")
}

// newLogger builds the process logger from the persistent flags.
func newLogger() log.Logger {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	return log.NewWithWriter(os.Stderr, log.Config{Level: level, JSON: flagJSONLog})
}
