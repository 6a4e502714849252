// Command equitydash serves the portfolio dashboard API, the terminal
// webhook and the live account stream.
//
// Usage:
//
//	equitydash serve --config config.yaml
//	equitydash setup
//	equitydash accounts list
//
// Environment overrides: DATABASE_URL, LISTEN_ADDR, API_KEY, TZ_NAME.
package main

import (
	"os"
	_ "time/tzdata"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "equitydash",
	Short:        "Portfolio equity dashboard for trading terminals",
	SilenceUsage: true,
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML config")
	rootCmd.AddCommand(serveCmd, setupCmd, accountsCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
