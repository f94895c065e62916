// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/aether-foundation/aether/lib/orchestrator"
	"github.com/aether-foundation/aether/lib/ref"
	"github.com/aether-foundation/aether/lib/substrate"
)

// Connection carries the socket and identity flags shared by every
// command that talks to a daemon.
type Connection struct {
	OrchestratorSocket string
	SubstrateSocket    string
	ActorName          string
}

// AddFlags registers the shared connection flags.
func (c *Connection) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&c.OrchestratorSocket, "socket",
		envOr("AURORAD_SOCKET", "/tmp/aurorad.sock"), "aurorad unix socket")
	flagSet.StringVar(&c.SubstrateSocket, "substrate-socket",
		envOr("AETHERD_SOCKET", "/tmp/aetherd.sock"), "aetherd unix socket")
	flagSet.StringVar(&c.ActorName, "actor",
		envOr("AETHER_ACTOR", "operator"), "principal to act as")
}

// Actor parses the configured actor name.
func (c *Connection) Actor() (ref.Actor, error) {
	actor, err := ref.NewActor(c.ActorName)
	if err != nil {
		return ref.Actor{}, fmt.Errorf("invalid --actor: %w", err)
	}
	return actor, nil
}

// Orchestrator returns a client for aurorad.
func (c *Connection) Orchestrator() (*orchestrator.Client, error) {
	actor, err := c.Actor()
	if err != nil {
		return nil, err
	}
	return orchestrator.New(c.OrchestratorSocket, actor), nil
}

// Substrate returns a client for aetherd.
func (c *Connection) Substrate() (*substrate.Client, error) {
	actor, err := c.Actor()
	if err != nil {
		return nil, err
	}
	return substrate.New(c.SubstrateSocket, actor), nil
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
