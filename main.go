package main

import (
	"os"

	"github.com/granmeloco/ha-sound-analyzer-add-on/cmd"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/buildinfo"
)

// Set at build time with -ldflags "-X main.version=... -X main.buildDate=...".
var (
	version   string
	buildDate string
)

func main() {
	rootCmd := cmd.RootCommand(buildinfo.NewContext(version, buildDate))
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
