package main

import (
	"os"

	"mdoclink/cmd/mdoclink/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
