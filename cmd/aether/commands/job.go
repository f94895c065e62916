// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/aether-foundation/aether/cmd/aether/cli"
	"github.com/aether-foundation/aether/lib/ref"
	"github.com/aether-foundation/aether/lib/schema"
)

// commandTimeout bounds one request-response call. Log following and
// submission waits run without it.
const commandTimeout = 30 * time.Second

func jobCommand() *cli.Command {
	return &cli.Command{
		Name:    "job",
		Summary: "submit, inspect, and control jobs",
		Subcommands: []*cli.Command{
			jobSubmitCommand(),
			jobStatusCommand(),
			jobListCommand(),
			jobLogsCommand(),
			jobStopCommand(),
			jobKillCommand(),
		},
	}
}

func jobSubmitCommand() *cli.Command {
	var (
		connection   cli.Connection
		jobType      string
		externalType string
		input        string
		inputFile    string
		inputRef     string
		modelVersion string
		budget       time.Duration
		cpuQuota     int
		memoryMax    int64
		tasksMax     int
		network      string
		networkAllow []string
		wait         bool
		jsonOut      bool
	)
	return &cli.Command{
		Name:    "submit",
		Summary: "submit a job",
		Usage:   "aether job submit --type <type> [flags] [-- command args...]",
		Examples: []cli.Example{
			{Description: "echo a payload through the substrate", Command: `aether job submit --type echo --input "hello"`},
			{Description: "run a sandboxed command and wait for it", Command: `aether job submit --type shell-exec --wait -- /bin/sh -c "date"`},
			{Description: "request a prediction from the runtime service", Command: `aether job submit --type predict --model-version v3 --input-file state.bin`},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("submit", pflag.ContinueOnError)
			connection.AddFlags(flagSet)
			flagSet.StringVar(&jobType, "type", "", "job type (echo, shell-exec, predict, encode, score, external)")
			flagSet.StringVar(&externalType, "external-type", "", "runtime job type for --type external")
			flagSet.StringVar(&input, "input", "", "inline input payload")
			flagSet.StringVar(&inputFile, "input-file", "", "read input payload from a file (- for stdin)")
			flagSet.StringVar(&inputRef, "input-ref", "", "artifact id holding the input payload")
			flagSet.StringVar(&modelVersion, "model-version", "", "model version for runtime-backed jobs")
			flagSet.DurationVar(&budget, "budget", 0, "wall-clock budget (0 = unbounded)")
			flagSet.IntVar(&cpuQuota, "cpu-quota", 0, "CPU quota in percent of one core (0 = unlimited)")
			flagSet.Int64Var(&memoryMax, "memory-max", 0, "memory ceiling in bytes (0 = unlimited)")
			flagSet.IntVar(&tasksMax, "tasks-max", 0, "process/thread ceiling (0 = unlimited)")
			flagSet.StringVar(&network, "network", "", "network policy: none (default) or allowlist")
			flagSet.StringSliceVar(&networkAllow, "allow", nil, "allowed destination for --network allowlist (repeatable)")
			flagSet.BoolVar(&wait, "wait", false, "wait for the job to reach a terminal state")
			flagSet.BoolVar(&jsonOut, "json", false, "output as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			if jobType == "" {
				return fmt.Errorf("--type is required")
			}
			spec := schema.JobSpec{
				Type:         schema.JobType(jobType),
				ExternalType: externalType,
				Command:      args,
				ModelVersion: modelVersion,
				Profile: schema.ResourceProfile{
					CPUQuotaPercent: cpuQuota,
					MemoryMaxBytes:  memoryMax,
					TasksMax:        tasksMax,
					WallClockBudget: budget,
					Network:         schema.NetworkPolicy(network),
					NetworkAllow:    networkAllow,
				},
			}
			switch {
			case inputRef != "":
				id, err := ref.ParseArtifactID(inputRef)
				if err != nil {
					return fmt.Errorf("invalid --input-ref: %w", err)
				}
				spec.InputRef = id
			case inputFile != "":
				payload, err := readInput(inputFile)
				if err != nil {
					return err
				}
				spec.Input = payload
			case input != "":
				spec.Input = []byte(input)
			}

			client, err := connection.Orchestrator()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			record, err := client.Submit(ctx, spec)
			cancel()
			if err != nil {
				return err
			}

			if wait {
				record, err = awaitTerminal(client, record.ID)
				if err != nil {
					return err
				}
			}

			if cli.UseJSON(jsonOut) {
				if err := cli.WriteJSON(record); err != nil {
					return err
				}
			} else {
				printRecord(os.Stdout, record)
			}

			if wait && record.State != schema.JobSucceeded {
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
	}
}

func jobStatusCommand() *cli.Command {
	var (
		connection cli.Connection
		jsonOut    bool
	)
	return &cli.Command{
		Name:    "status",
		Summary: "show one job's record",
		Usage:   "aether job status <job-id>",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("status", pflag.ContinueOnError)
			connection.AddFlags(flagSet)
			flagSet.BoolVar(&jsonOut, "json", false, "output as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one job id")
			}
			jobID, err := ref.ParseJobID(args[0])
			if err != nil {
				return err
			}
			client, err := connection.Orchestrator()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()
			record, err := client.Status(ctx, jobID)
			if err != nil {
				return err
			}
			if cli.UseJSON(jsonOut) {
				return cli.WriteJSON(record)
			}
			printRecord(os.Stdout, record)
			return nil
		},
	}
}

func jobListCommand() *cli.Command {
	var (
		connection cli.Connection
		states     []string
		limit      int
		jsonOut    bool
	)
	return &cli.Command{
		Name:    "list",
		Summary: "list jobs, newest first",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
			connection.AddFlags(flagSet)
			flagSet.StringSliceVar(&states, "state", nil, "restrict to a state (repeatable)")
			flagSet.IntVar(&limit, "limit", 0, "maximum records (0 = all)")
			flagSet.BoolVar(&jsonOut, "json", false, "output as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			client, err := connection.Orchestrator()
			if err != nil {
				return err
			}
			var stateFilter []schema.JobState
			for _, s := range states {
				stateFilter = append(stateFilter, schema.JobState(s))
			}
			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()
			records, err := client.List(ctx, stateFilter, limit)
			if err != nil {
				return err
			}
			if cli.UseJSON(jsonOut) {
				return cli.WriteJSON(records)
			}
			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "JOB\tTYPE\tSTATE\tCREATED\tDIAGNOSTIC")
			for _, record := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					record.ID, record.Spec.Type, record.State,
					record.CreatedAt.Format(time.RFC3339), record.Diagnostic)
			}
			return tw.Flush()
		},
	}
}

func jobLogsCommand() *cli.Command {
	var (
		connection cli.Connection
		follow     bool
	)
	return &cli.Command{
		Name:    "logs",
		Summary: "print a job's captured output",
		Usage:   "aether job logs <job-id> [--follow]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("logs", pflag.ContinueOnError)
			connection.AddFlags(flagSet)
			flagSet.BoolVarP(&follow, "follow", "f", false, "stream until the job finishes")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one job id")
			}
			jobID, err := ref.ParseJobID(args[0])
			if err != nil {
				return err
			}
			client, err := connection.Orchestrator()
			if err != nil {
				return err
			}

			// Stderr lines go to stderr so piped stdout stays clean.
			return client.Logs(context.Background(), jobID, follow, func(record schema.LogRecord) error {
				if record.End {
					if record.State != schema.JobSucceeded && cli.StdoutIsTerminal() {
						fmt.Fprintf(os.Stderr, "job finished: %s\n", record.State)
					}
					return nil
				}
				out := os.Stdout
				if record.Stream == "stderr" {
					out = os.Stderr
				}
				_, err := fmt.Fprintln(out, record.Line)
				return err
			})
		},
	}
}

func jobStopCommand() *cli.Command {
	return jobSignalCommand("stop", "request cooperative termination",
		func(ctx context.Context, connection *cli.Connection, jobID ref.JobID) (schema.JobRecord, error) {
			client, err := connection.Orchestrator()
			if err != nil {
				return schema.JobRecord{}, err
			}
			return client.Stop(ctx, jobID)
		})
}

func jobKillCommand() *cli.Command {
	return jobSignalCommand("kill", "terminate the job immediately",
		func(ctx context.Context, connection *cli.Connection, jobID ref.JobID) (schema.JobRecord, error) {
			client, err := connection.Orchestrator()
			if err != nil {
				return schema.JobRecord{}, err
			}
			return client.Kill(ctx, jobID)
		})
}

func jobSignalCommand(name, summary string, send func(context.Context, *cli.Connection, ref.JobID) (schema.JobRecord, error)) *cli.Command {
	var (
		connection cli.Connection
		jsonOut    bool
	)
	return &cli.Command{
		Name:    name,
		Summary: summary,
		Usage:   fmt.Sprintf("aether job %s <job-id>", name),
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
			connection.AddFlags(flagSet)
			flagSet.BoolVar(&jsonOut, "json", false, "output as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one job id")
			}
			jobID, err := ref.ParseJobID(args[0])
			if err != nil {
				return err
			}
			// Stop waits out the grace period server-side; give it room.
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			record, err := send(ctx, &connection, jobID)
			if err != nil {
				return err
			}
			if cli.UseJSON(jsonOut) {
				return cli.WriteJSON(record)
			}
			printRecord(os.Stdout, record)
			return nil
		},
	}
}

// awaitTerminal polls status until the job finishes. Submission is
// asynchronous; polling is the only wait the protocol offers.
func awaitTerminal(client interface {
	Status(context.Context, ref.JobID) (schema.JobRecord, error)
}, jobID ref.JobID) (schema.JobRecord, error) {
	for {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		record, err := client.Status(ctx, jobID)
		cancel()
		if err != nil {
			return schema.JobRecord{}, err
		}
		if record.State.Terminal() {
			return record, nil
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func printRecord(w io.Writer, record schema.JobRecord) {
	tw := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "id:\t%s\n", record.ID)
	fmt.Fprintf(tw, "type:\t%s\n", record.Spec.Type)
	fmt.Fprintf(tw, "state:\t%s\n", record.State)
	fmt.Fprintf(tw, "created:\t%s\n", record.CreatedAt.Format(time.RFC3339))
	if !record.StartedAt.IsZero() {
		fmt.Fprintf(tw, "started:\t%s\n", record.StartedAt.Format(time.RFC3339))
	}
	if !record.FinishedAt.IsZero() {
		fmt.Fprintf(tw, "finished:\t%s\n", record.FinishedAt.Format(time.RFC3339))
	}
	if record.State.Terminal() && record.State != schema.JobRejected {
		fmt.Fprintf(tw, "exit status:\t%d\n", record.ExitStatus)
	}
	if !record.ResultRef.IsZero() {
		fmt.Fprintf(tw, "result:\t%s\n", record.ResultRef)
	}
	if record.ErrorKind != "" {
		fmt.Fprintf(tw, "error kind:\t%s\n", record.ErrorKind)
	}
	if record.Diagnostic != "" {
		fmt.Fprintf(tw, "diagnostic:\t%s\n", record.Diagnostic)
	}
	tw.Flush()
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
