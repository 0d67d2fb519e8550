// Package main implements the fixd CLI.
//
// fixd serve runs the orchestration daemon with the HTTP API; fixd fix runs
// a single fix session in the foreground and prints the outcome.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// configPath is the optional YAML config file; environment variables
	// override it either way.
	configPath string
	// version information, set at build time
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fixd",
	Short: "Autonomous fix orchestration engine",
	Long: `fixd drives code fixes end to end: it analyzes a reported issue,
generates candidate patches, validates them, self-heals on failure and
publishes the result as a pull request.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (YAML)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(fixCmd)
}
