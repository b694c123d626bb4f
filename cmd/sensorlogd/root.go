package main

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "sensorlogd",
	Short: "Sensor-logging node: RAM ring, flash ring, and collector poster",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/etc/sensorlogd/config.yaml", "path to the node's YAML configuration file")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(inspectCmd)
}
