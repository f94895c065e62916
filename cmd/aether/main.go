// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

// Aether is the operator CLI for the substrate: job submission and
// control, artifact storage, memory, and the audit trail.
package main

import (
	"fmt"
	"os"

	"github.com/aether-foundation/aether/cmd/aether/commands"
)

func main() {
	if err := run(); err != nil {
		// Commands that print their own output return an ExitError
		// with the desired code; no redundant "error:" line for those.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return commands.Root().Execute(os.Args[1:])
}
