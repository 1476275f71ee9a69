package main

import (
	"github.com/spf13/cobra"
)

var (
	configFile string
	devMode    bool
)

var rootCmd = &cobra.Command{
	Use:           "defect-inspection",
	Short:         "Batch visual defect inspection service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "config.yaml", "path to YAML config file")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "development mode (console logs, optional config file)")
}
