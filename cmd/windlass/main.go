package main

import (
	"os"

	"github.com/windlass-cd/windlass/cmd/windlass/commands"
)

func main() {
	if err := commands.NewCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
