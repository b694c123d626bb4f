// Command sensorlogd runs the sensor-logging node: it loads a YAML
// configuration file, starts the RAM ring, flash ring, poster, and any
// configured producers, serves the status API, and shuts down gracefully on
// SIGTERM or SIGINT. It also provides an inspect subcommand for offline flash
// inspection.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "sensorlogd: %v\n", err)
		os.Exit(1)
	}
}
