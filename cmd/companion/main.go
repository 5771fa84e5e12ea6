// Package main is the entry point of the companion CLI. It uses cobra for
// command dispatch, mirroring the teacher's copilot/devclaw binaries.
package main

import (
	"fmt"
	"os"

	"github.com/jholhewres/companion/cmd/companion/commands"
)

// version is injected at build time via ldflags.
var version = "dev"

func main() {
	rootCmd := commands.NewRootCmd(version)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
