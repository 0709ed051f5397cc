// Package main implements the chatrelay command: an HTTP relay and CLI that
// sends chat messages to the Gemini API through a rate-limited, retrying,
// caching request pipeline.
package main

import (
	"fmt"
	"os"
)

// Version information set via ldflags during build
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
