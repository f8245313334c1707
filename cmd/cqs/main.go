// Package main provides the entry point for the cqs CLI.
package main

import (
	"os"

	"github.com/jamie8johnson/cqs/cmd/cqs/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
