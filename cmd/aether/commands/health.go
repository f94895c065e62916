// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/aether-foundation/aether/cmd/aether/cli"
	"github.com/aether-foundation/aether/lib/schema"
)

func healthCommand() *cli.Command {
	var (
		connection cli.Connection
		jsonOut    bool
	)
	return &cli.Command{
		Name:    "health",
		Summary: "check both daemons",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("health", pflag.ContinueOnError)
			connection.AddFlags(flagSet)
			flagSet.BoolVar(&jsonOut, "json", false, "output as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()

			var reports []schema.HealthResponse
			allHealthy := true

			substrateClient, err := connection.Substrate()
			if err != nil {
				return err
			}
			if report, err := substrateClient.Health(ctx); err != nil {
				reports = append(reports, schema.HealthResponse{Service: "aetherd", Detail: err.Error()})
				allHealthy = false
			} else {
				reports = append(reports, report)
				if report.Degraded {
					allHealthy = false
				}
			}

			orchestratorClient, err := connection.Orchestrator()
			if err != nil {
				return err
			}
			if report, err := orchestratorClient.Health(ctx); err != nil {
				reports = append(reports, schema.HealthResponse{Service: "aurorad", Detail: err.Error()})
				allHealthy = false
			} else {
				reports = append(reports, report)
			}

			if cli.UseJSON(jsonOut) {
				if err := cli.WriteJSON(reports); err != nil {
					return err
				}
			} else {
				tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
				fmt.Fprintln(tw, "SERVICE\tSTATUS\tVERSION\tDETAIL")
				for _, report := range reports {
					status := "ok"
					switch {
					case !report.OK:
						status = "unreachable"
					case report.Degraded:
						status = "degraded"
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
						report.Service, status, report.Version, report.Detail)
				}
				tw.Flush()
			}

			if !allHealthy {
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
	}
}
