package main

import (
	"os"

	"github.com/theapemachine/gridswarm/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
