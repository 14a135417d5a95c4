package main

import (
	"os"

	"github.com/upb/medbot/cmd/medbot/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
