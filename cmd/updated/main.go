package main

import (
	"os"

	"github.com/frostline/updated/cmd/updated/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
