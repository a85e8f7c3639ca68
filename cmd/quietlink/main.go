package main

import (
	"os"

	"github.com/quietlink/quietlink/cmd/quietlink/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
