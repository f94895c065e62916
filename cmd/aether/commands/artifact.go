// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/aether-foundation/aether/cmd/aether/cli"
	"github.com/aether-foundation/aether/lib/ref"
	"github.com/aether-foundation/aether/lib/schema"
)

func artifactCommand() *cli.Command {
	return &cli.Command{
		Name:    "artifact",
		Summary: "store and retrieve content-addressed artifacts",
		Subcommands: []*cli.Command{
			artifactPutCommand(),
			artifactGetCommand(),
			artifactListCommand(),
		},
	}
}

func artifactPutCommand() *cli.Command {
	var (
		connection cli.Connection
		mimeType   string
		jsonOut    bool
	)
	return &cli.Command{
		Name:    "put",
		Summary: "register a file (or stdin) as an artifact",
		Usage:   "aether artifact put <file|-> [flags]",
		Examples: []cli.Example{
			{Description: "store a file", Command: "aether artifact put results.json --mime application/json"},
			{Description: "store from a pipe", Command: "tar cz data/ | aether artifact put -"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("put", pflag.ContinueOnError)
			connection.AddFlags(flagSet)
			flagSet.StringVar(&mimeType, "mime", "", "MIME type recorded in metadata")
			flagSet.BoolVar(&jsonOut, "json", false, "output as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one file argument (- for stdin)")
			}
			content, err := readInput(args[0])
			if err != nil {
				return err
			}
			client, err := connection.Substrate()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()
			meta, err := client.PutArtifact(ctx, content, mimeType, ref.JobID{})
			if err != nil {
				return err
			}
			if cli.UseJSON(jsonOut) {
				return cli.WriteJSON(meta)
			}
			fmt.Printf("%s  (%d bytes)\n", meta.ID, meta.Size)
			return nil
		},
	}
}

func artifactGetCommand() *cli.Command {
	var (
		connection cli.Connection
		outputPath string
	)
	return &cli.Command{
		Name:    "get",
		Summary: "fetch an artifact's content",
		Usage:   "aether artifact get <artifact-id> [--output file]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("get", pflag.ContinueOnError)
			connection.AddFlags(flagSet)
			flagSet.StringVarP(&outputPath, "output", "o", "", "write content to a file instead of stdout")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one artifact id")
			}
			id, err := ref.ParseArtifactID(args[0])
			if err != nil {
				return err
			}
			client, err := connection.Substrate()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()
			_, content, err := client.GetArtifact(ctx, id)
			if err != nil {
				return err
			}
			if outputPath != "" {
				return os.WriteFile(outputPath, content, 0o600)
			}
			_, err = os.Stdout.Write(content)
			return err
		},
	}
}

func artifactListCommand() *cli.Command {
	var (
		connection cli.Connection
		mimeType   string
		jobID      string
		limit      int
		jsonOut    bool
	)
	return &cli.Command{
		Name:    "list",
		Summary: "list artifact metadata, newest first",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
			connection.AddFlags(flagSet)
			flagSet.StringVar(&mimeType, "mime", "", "restrict to a MIME type")
			flagSet.StringVar(&jobID, "job", "", "restrict to artifacts produced by a job")
			flagSet.IntVar(&limit, "limit", 0, "maximum records (0 = all)")
			flagSet.BoolVar(&jsonOut, "json", false, "output as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			filter := schema.ArtifactFilter{MIMEType: mimeType, Limit: limit}
			if jobID != "" {
				id, err := ref.ParseJobID(jobID)
				if err != nil {
					return fmt.Errorf("invalid --job: %w", err)
				}
				filter.ProducingJob = id
			}
			client, err := connection.Substrate()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()
			metas, err := client.ListArtifacts(ctx, filter)
			if err != nil {
				return err
			}
			if cli.UseJSON(jsonOut) {
				return cli.WriteJSON(metas)
			}
			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "ARTIFACT\tSIZE\tMIME\tJOB\tCREATED")
			for _, meta := range metas {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n",
					meta.ID, meta.Size, meta.MIMEType, meta.ProducingJob,
					meta.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}
