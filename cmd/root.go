// Package cmd defines the CLI commands for the scraperd executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scraperd",
		Short: "On-demand e-commerce scrape job service.",
		Long: `scraperd runs the MarketLens scrape job service. It accepts scrape
requests over a REST API, drives per-site Python workers to collect product
data, and stores results for retrieval, pausing jobs that hit a CAPTCHA
until a user supplies the solution.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: built-in defaults plus SCRAPERD_* environment variables)")

	cmd.AddCommand(newServeCmd())
	return cmd
}

// Execute is the entry point for the CLI.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
