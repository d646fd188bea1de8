// Package main is the babylog command line client.
package main

import (
	"fmt"
	"os"

	"github.com/kimhsiao/babylog/cmd/babylog/cmd"
)

func main() {
	rootCmd := cmd.NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
