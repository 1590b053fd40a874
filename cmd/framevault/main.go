package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"framevault/internal/config"
)

var version = "dev"

var (
	configPath string
	noColor    bool
)

var rootCmd = &cobra.Command{
	Use:     "framevault",
	Short:   "Render cache and reconciliation engine for ledger-tracked collectibles",
	Version: version,
	Long: `framevault keeps a rendered artifact cached for every item on the ledger
and regenerates artifacts when the ledger's mutation counters move past them.

The serve command runs the HTTP job server; sync runs one reconciliation
pass from the command line.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "path to config file")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(serveCmd, syncCmd, statusCmd, configCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
