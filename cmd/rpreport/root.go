// Command rpreport reports test launches, items and logs to Report Portal.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"rpreport/internal/config"
	"rpreport/internal/store"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	config  string
	session string
	format  string
}

var rootCmd = &cobra.Command{
	Use:   "rpreport",
	Short: "Report test launches, items and logs to Report Portal",
	Long: "rpreport drives a Report Portal reporting session from the command line.\n" +
		"Session state is kept in a local SQLite file so consecutive invocations\n" +
		"continue the same launch.",
	SilenceUsage:  true,
	SilenceErrors: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&rootFlags.config, "config", config.DefaultPath, "Config file (YAML or JSON)")
	f.StringVar(&rootFlags.session, "session", store.DefaultSession, "Name of the stored session to continue")
	f.StringVar(&rootFlags.format, "format", "ascii", "Table output: ascii or markdown")

	rootCmd.AddCommand(launchCmd)
	rootCmd.AddCommand(itemCmd)
	rootCmd.AddCommand(suiteCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(projectsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
