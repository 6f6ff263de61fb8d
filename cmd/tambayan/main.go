// Package main is the entry point for the tambayan application.
package main

import (
	"os"

	"github.com/jmylchreest/tambayan/cmd/tambayan/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
