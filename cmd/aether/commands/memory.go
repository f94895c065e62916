// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/aether-foundation/aether/cmd/aether/cli"
	"github.com/aether-foundation/aether/lib/ref"
)

func memoryCommand() *cli.Command {
	return &cli.Command{
		Name:    "memory",
		Summary: "durable notes with provenance and search",
		Subcommands: []*cli.Command{
			memoryAddCommand(),
			memoryGetCommand(),
			memorySearchCommand(),
		},
	}
}

func memoryAddCommand() *cli.Command {
	var (
		connection cli.Connection
		tags       []string
		sourceRef  string
		jsonOut    bool
	)
	return &cli.Command{
		Name:    "add",
		Summary: "add a memory entry",
		Usage:   "aether memory add <text> --source <ref> [flags]",
		Examples: []cli.Example{
			{Description: "note a finding with its provenance", Command: `aether memory add "encode jobs need v3 weights" --source job-0f3a1c9e82d54b61 --tag runtime`},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("add", pflag.ContinueOnError)
			connection.AddFlags(flagSet)
			flagSet.StringSliceVar(&tags, "tag", nil, "label for search (repeatable)")
			flagSet.StringVar(&sourceRef, "source", "", "provenance pointer (required)")
			flagSet.BoolVar(&jsonOut, "json", false, "output as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("expected the entry text")
			}
			if sourceRef == "" {
				return fmt.Errorf("--source is required: every entry carries provenance")
			}
			client, err := connection.Substrate()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()
			entry, err := client.AddMemory(ctx, strings.Join(args, " "), tags, sourceRef)
			if err != nil {
				return err
			}
			if cli.UseJSON(jsonOut) {
				return cli.WriteJSON(entry)
			}
			fmt.Println(entry.ID)
			return nil
		},
	}
}

func memoryGetCommand() *cli.Command {
	var (
		connection cli.Connection
		jsonOut    bool
	)
	return &cli.Command{
		Name:    "get",
		Summary: "fetch one memory entry",
		Usage:   "aether memory get <entry-id>",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("get", pflag.ContinueOnError)
			connection.AddFlags(flagSet)
			flagSet.BoolVar(&jsonOut, "json", false, "output as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one entry id")
			}
			id, err := ref.ParseEntryID(args[0])
			if err != nil {
				return err
			}
			client, err := connection.Substrate()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()
			entry, err := client.GetMemory(ctx, id)
			if err != nil {
				return err
			}
			if cli.UseJSON(jsonOut) {
				return cli.WriteJSON(entry)
			}
			fmt.Printf("%s\nsource: %s\n", entry.Text, entry.SourceRef)
			if len(entry.Tags) > 0 {
				fmt.Printf("tags: %s\n", strings.Join(entry.Tags, ", "))
			}
			return nil
		},
	}
}

func memorySearchCommand() *cli.Command {
	var (
		connection cli.Connection
		limit      int
		jsonOut    bool
	)
	return &cli.Command{
		Name:    "search",
		Summary: "relevance-ranked search over the memory store",
		Usage:   "aether memory search <query> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("search", pflag.ContinueOnError)
			connection.AddFlags(flagSet)
			flagSet.IntVar(&limit, "limit", 10, "maximum results")
			flagSet.BoolVar(&jsonOut, "json", false, "output as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("expected a search query")
			}
			client, err := connection.Substrate()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()
			results, err := client.SearchMemory(ctx, strings.Join(args, " "), limit)
			if err != nil {
				return err
			}
			if cli.UseJSON(jsonOut) {
				return cli.WriteJSON(results)
			}
			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "SCORE\tENTRY\tTEXT")
			for _, result := range results {
				text := result.Entry.Text
				if len(text) > 80 {
					text = text[:77] + "..."
				}
				fmt.Fprintf(tw, "%.3f\t%s\t%s\n", result.Score, result.Entry.ID, text)
			}
			return tw.Flush()
		},
	}
}
