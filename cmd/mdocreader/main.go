package main

import (
	"os"

	"mdoclink/cmd/mdocreader/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
