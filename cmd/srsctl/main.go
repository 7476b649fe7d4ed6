// Command srsctl administers the SRS store from the command line. It reads
// the same configuration as the server and prints JSON.
package main

import (
	"fmt"
	"os"

	"github.com/ekaya-inc/ekaya-srs/pkg/config"
)

// Version is set via -ldflags at build time.
var Version = "dev"

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load(Version)
	}
	return config.LoadFromFile(path, Version)
}

func main() {
	app := newCLIApp(loadConfig, os.Stdout)
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
