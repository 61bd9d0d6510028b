// Package main is the entry point for the aqm command.
package main

import (
	"os"

	"github.com/j-veylop/antigravity-quota-monitor/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
