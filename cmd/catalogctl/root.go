package main

import (
	"github.com/spf13/cobra"
)

var (
	serverURL string
	outputFmt string
)

var rootCmd = &cobra.Command{
	Use:   "catalogctl",
	Short: "CLI for the plugin catalog daemon",
	Long: `catalogctl talks to a running catalogd.

It lists the local plugin catalog, shows which installed plugins have
updates, triggers a registry sync and records install outcomes.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Catalog daemon URL")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json, yaml")

	rootCmd.AddCommand(pluginsCmd)
	rootCmd.AddCommand(updatesCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(installationCmd)
	rootCmd.AddCommand(healthCmd)
}
