package main

import (
	"os"

	"github.com/QalaTech/speki-sub001/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
