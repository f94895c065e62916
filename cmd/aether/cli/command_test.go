// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestExecuteDispatch(t *testing.T) {
	var ran []string
	root := &Command{
		Name: "aether",
		Subcommands: []*Command{
			{
				Name: "job",
				Subcommands: []*Command{
					{Name: "list", Run: func(args []string) error {
						ran = append(ran, "job list")
						return nil
					}},
				},
			},
		},
	}
	if err := root.Execute([]string{"job", "list"}); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(ran) != 1 || ran[0] != "job list" {
		t.Errorf("ran = %v", ran)
	}
}

func TestExecuteUnknownSuggests(t *testing.T) {
	root := &Command{
		Name: "aether",
		Subcommands: []*Command{
			{Name: "artifact", Run: func([]string) error { return nil }},
		},
	}
	err := root.Execute([]string{"artifcat"})
	if err == nil || !strings.Contains(err.Error(), `did you mean "artifact"`) {
		t.Errorf("error = %v", err)
	}
}

func TestExecuteFlagParsing(t *testing.T) {
	var limit int
	cmd := &Command{
		Name: "list",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
			flagSet.IntVar(&limit, "limit", 0, "")
			return flagSet
		},
		Run: func(args []string) error { return nil },
	}
	if err := cmd.Execute([]string{"--limit", "7"}); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if limit != 7 {
		t.Errorf("limit = %d", limit)
	}
}

func TestExecuteUnknownFlagSuggests(t *testing.T) {
	cmd := &Command{
		Name: "list",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
			flagSet.Int("limit", 0, "")
			return flagSet
		},
		Run: func(args []string) error { return nil },
	}
	err := cmd.Execute([]string{"--limti", "7"})
	if err == nil || !strings.Contains(err.Error(), "--limit") {
		t.Errorf("error = %v", err)
	}
}

func TestLevenshtein(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "abc", 3},
		{"abc", "abc", 0},
		{"sumbit", "submit", 2},
		{"kil", "kill", 1},
		{"status", "logs", 6},
	}
	for _, c := range cases {
		if got := levenshtein(c.a, c.b); got != c.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}
