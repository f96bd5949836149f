// Package main provides the entry point for the paragraf CLI.
package main

import (
	"os"

	"github.com/paragraf/paragraf/cmd/paragraf/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
