// Copyright 2026 The Remotectl Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestExecuteDispatchesSubcommand(t *testing.T) {
	var ran []string
	root := &Command{
		Name: "root",
		Subcommands: []*Command{
			{
				Name: "outer",
				Subcommands: []*Command{
					{
						Name: "inner",
						Run: func(args []string) error {
							ran = args
							return nil
						},
					},
				},
			},
		},
	}

	if err := root.Execute([]string{"outer", "inner", "alpha", "beta"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(ran) != 2 || ran[0] != "alpha" || ran[1] != "beta" {
		t.Errorf("inner ran with %v", ran)
	}
}

func TestExecuteUnknownCommand(t *testing.T) {
	root := &Command{
		Name:        "root",
		Subcommands: []*Command{{Name: "known", Run: func([]string) error { return nil }}},
	}

	err := root.Execute([]string{"unknown"})
	if err == nil || !strings.Contains(err.Error(), `unknown command "unknown"`) {
		t.Errorf("Execute = %v, want unknown command error", err)
	}
}

func TestExecuteRequiresSubcommand(t *testing.T) {
	root := &Command{
		Name:        "root",
		Subcommands: []*Command{{Name: "known"}},
	}

	if err := root.Execute(nil); err == nil {
		t.Error("Execute with no args succeeded, want subcommand required")
	}
}

func TestExecuteParsesFlags(t *testing.T) {
	var verbose bool
	var got []string
	command := &Command{
		Name: "cmd",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("cmd", pflag.ContinueOnError)
			flagSet.BoolVar(&verbose, "verbose", false, "")
			return flagSet
		},
		Run: func(args []string) error {
			got = args
			return nil
		},
	}

	if err := command.Execute([]string{"--verbose", "positional"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !verbose {
		t.Error("--verbose not parsed")
	}
	if len(got) != 1 || got[0] != "positional" {
		t.Errorf("positional args = %v", got)
	}

	if err := command.Execute([]string{"--bogus"}); err == nil {
		t.Error("unknown flag accepted")
	}
}

func TestPrintHelpListsSubcommands(t *testing.T) {
	root := &Command{
		Name:    "root",
		Summary: "does things",
		Subcommands: []*Command{
			{Name: "alpha", Summary: "first thing"},
			{Name: "beta", Summary: "second thing"},
		},
	}

	var out strings.Builder
	root.PrintHelp(&out)
	help := out.String()
	for _, want := range []string{"alpha", "first thing", "beta", "second thing", "root <command>"} {
		if !strings.Contains(help, want) {
			t.Errorf("help output missing %q:\n%s", want, help)
		}
	}
}
