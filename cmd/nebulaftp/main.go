package main

import (
	"os"

	"github.com/marmos91/nebulaftp/cmd/nebulaftp/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
