// Package main is the entry point for the cmutcp conformance harness.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/cmutcp/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
