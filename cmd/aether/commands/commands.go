// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands assembles the aether CLI command tree.
package commands

import (
	"fmt"

	"github.com/aether-foundation/aether/cmd/aether/cli"
	"github.com/aether-foundation/aether/lib/version"
)

// Root returns the top-level aether command.
func Root() *cli.Command {
	return &cli.Command{
		Name:    "aether",
		Summary: "local job execution substrate",
		Description: "Aether runs jobs in sandboxes under a deny-by-default policy.\n" +
			"Jobs, artifacts, memory, and the audit trail are all reachable\n" +
			"from here; aetherd and aurorad must be running.",
		Subcommands: []*cli.Command{
			jobCommand(),
			artifactCommand(),
			memoryCommand(),
			auditCommand(),
			healthCommand(),
			versionCommand(),
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:    "version",
		Summary: "print version information",
		Run: func(args []string) error {
			fmt.Printf("aether %s\n", version.Info())
			return nil
		},
	}
}
