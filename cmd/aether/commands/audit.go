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
)

func auditCommand() *cli.Command {
	return &cli.Command{
		Name:        "audit",
		Summary:     "inspect the audit trail",
		Subcommands: []*cli.Command{auditTailCommand()},
	}
}

func auditTailCommand() *cli.Command {
	var (
		connection cli.Connection
		count      int
		jsonOut    bool
	)
	return &cli.Command{
		Name:    "tail",
		Summary: "print the last audit records in append order",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("tail", pflag.ContinueOnError)
			connection.AddFlags(flagSet)
			flagSet.IntVarP(&count, "count", "n", 20, "number of records")
			flagSet.BoolVar(&jsonOut, "json", false, "output as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			client, err := connection.Substrate()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()
			records, err := client.AuditTail(ctx, count)
			if err != nil {
				return err
			}
			if cli.UseJSON(jsonOut) {
				return cli.WriteJSON(records)
			}
			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "SEQ\tTIME\tACTOR\tACTION\tDECISION\tREASON")
			for _, record := range records {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
					record.Sequence, record.TSWall.Format(time.RFC3339),
					record.Actor, record.Action, record.Decision, record.Reason)
			}
			return tw.Flush()
		},
	}
}
