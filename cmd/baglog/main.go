package main

import (
	"os"

	"github.com/openrover/baglog/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
