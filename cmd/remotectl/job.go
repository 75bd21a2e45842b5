// Copyright 2026 The Remotectl Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/VNOI-Admin/remotectl/cmd/remotectl/cli"
	"github.com/VNOI-Admin/remotectl/lib/schema/remote"
)

func jobCommand() *cli.Command {
	return &cli.Command{
		Name:    "job",
		Summary: "Create and inspect jobs",
		Subcommands: []*cli.Command{
			jobCreateCommand(),
			jobListCommand(),
			jobGetCommand(),
			jobRunsCommand(),
			jobCancelCommand(),
			jobRefreshCommand(),
			jobWatchCommand(),
		},
	}
}

func jobCreateCommand() *cli.Command {
	var (
		targets   []string
		args      []string
		env       []string
		createdBy string
	)
	flags := func() *pflag.FlagSet {
		flagSet := pflag.NewFlagSet("job create", pflag.ContinueOnError)
		flagSet.StringArrayVar(&targets, "target", nil, "target to run on (repeatable)")
		flagSet.StringArrayVar(&args, "arg", nil, "script argument (repeatable)")
		flagSet.StringArrayVar(&env, "env", nil, "environment variable KEY=VALUE (repeatable)")
		flagSet.StringVar(&createdBy, "created-by", "", "creator recorded on the job")
		addServerFlag(flagSet)
		return flagSet
	}
	return &cli.Command{
		Name:    "create",
		Summary: "Run a script on a set of targets",
		Usage:   "remotectl job create <script> --target <name> [--target <name>...]",
		Flags:   flags,
		Run: func(positional []string) error {
			if len(positional) != 1 {
				return fmt.Errorf("expected exactly one script name")
			}
			envMap := make(map[string]string, len(env))
			for _, entry := range env {
				key, value, ok := strings.Cut(entry, "=")
				if !ok {
					return fmt.Errorf("invalid --env %q, want KEY=VALUE", entry)
				}
				envMap[key] = value
			}
			if len(envMap) == 0 {
				envMap = nil
			}
			job, err := newServerClient().CreateJob(context.Background(), remote.CreateJobRequest{
				ScriptName: positional[0],
				Args:       args,
				Env:        envMap,
				Targets:    targets,
				CreatedBy:  createdBy,
			})
			if err != nil {
				return err
			}
			return cli.WriteJSON(job)
		},
	}
}

func jobListCommand() *cli.Command {
	var options JobListOptions
	flags := func() *pflag.FlagSet {
		flagSet := pflag.NewFlagSet("job list", pflag.ContinueOnError)
		flagSet.StringVar(&options.ScriptName, "script", "", "filter by script name")
		flagSet.StringVar(&options.CreatedBy, "created-by", "", "filter by creator")
		flagSet.StringVar(&options.From, "from", "", "earliest creation time (RFC 3339)")
		flagSet.StringVar(&options.To, "to", "", "latest creation time (RFC 3339)")
		flagSet.StringVar(&options.RunStatus, "run-status", "", "jobs with at least one run in this status")
		flagSet.IntVar(&options.Limit, "limit", 0, "maximum jobs to return")
		flagSet.IntVar(&options.Offset, "offset", 0, "jobs to skip, for paging")
		addServerFlag(flagSet)
		return flagSet
	}
	return &cli.Command{
		Name:    "list",
		Summary: "List jobs, newest first",
		Flags:   flags,
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("unexpected arguments: %v", args)
			}
			list, err := newServerClient().ListJobs(context.Background(), options)
			if err != nil {
				return err
			}
			return cli.WriteJSON(list)
		},
	}
}

func jobGetCommand() *cli.Command {
	flags := func() *pflag.FlagSet {
		flagSet := pflag.NewFlagSet("job get", pflag.ContinueOnError)
		addServerFlag(flagSet)
		return flagSet
	}
	return &cli.Command{
		Name:    "get",
		Summary: "Show a job with its per-status run counts",
		Usage:   "remotectl job get <jobID>",
		Flags:   flags,
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one job ID")
			}
			job, err := newServerClient().GetJob(context.Background(), args[0])
			if err != nil {
				return err
			}
			return cli.WriteJSON(job)
		},
	}
}

func jobRunsCommand() *cli.Command {
	var status string
	flags := func() *pflag.FlagSet {
		flagSet := pflag.NewFlagSet("job runs", pflag.ContinueOnError)
		flagSet.StringVar(&status, "status", "", "filter by run status")
		addServerFlag(flagSet)
		return flagSet
	}
	return &cli.Command{
		Name:    "runs",
		Summary: "List a job's runs",
		Usage:   "remotectl job runs <jobID> [--status <status>]",
		Flags:   flags,
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one job ID")
			}
			list, err := newServerClient().ListRuns(context.Background(), args[0], status)
			if err != nil {
				return err
			}
			return cli.WriteJSON(list)
		},
	}
}

func jobCancelCommand() *cli.Command {
	var targets []string
	flags := func() *pflag.FlagSet {
		flagSet := pflag.NewFlagSet("job cancel", pflag.ContinueOnError)
		flagSet.StringArrayVar(&targets, "target", nil, "target to cancel (repeatable; default all)")
		addServerFlag(flagSet)
		return flagSet
	}
	return &cli.Command{
		Name:    "cancel",
		Summary: "Ask agents to kill a job",
		Usage:   "remotectl job cancel <jobID> [--target <name>...]",
		Flags:   flags,
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one job ID")
			}
			response, err := newServerClient().CancelJob(context.Background(), args[0], targets)
			if err != nil {
				return err
			}
			return cli.WriteJSON(response)
		},
	}
}

func jobRefreshCommand() *cli.Command {
	var (
		targets    []string
		sync       bool
		includeLog bool
	)
	flags := func() *pflag.FlagSet {
		flagSet := pflag.NewFlagSet("job refresh", pflag.ContinueOnError)
		flagSet.StringArrayVar(&targets, "target", nil, "target to refresh (repeatable; default all)")
		flagSet.BoolVar(&sync, "sync", false, "pull agent status inline and print merged runs")
		flagSet.BoolVar(&includeLog, "include-log", false, "include run logs in the refresh")
		addServerFlag(flagSet)
		return flagSet
	}
	return &cli.Command{
		Name:    "refresh",
		Summary: "Re-sync run state from the agents",
		Usage:   "remotectl job refresh <jobID> [--sync] [--include-log]",
		Flags:   flags,
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one job ID")
			}
			response, err := newServerClient().RefreshJob(context.Background(), args[0], remote.RefreshRequest{
				Targets:    targets,
				IncludeLog: includeLog,
				Sync:       sync,
			})
			if err != nil {
				return err
			}
			return cli.WriteJSON(response)
		},
	}
}

func jobWatchCommand() *cli.Command {
	flags := func() *pflag.FlagSet {
		flagSet := pflag.NewFlagSet("job watch", pflag.ContinueOnError)
		addServerFlag(flagSet)
		return flagSet
	}
	return &cli.Command{
		Name:    "watch",
		Summary: "Stream live run updates for a job (Ctrl-C to stop)",
		Usage:   "remotectl job watch <jobID>",
		Flags:   flags,
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one job ID")
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return newServerClient().WatchJob(ctx, args[0], func(event remote.RunEvent) error {
				return cli.WriteJSON(event)
			})
		},
	}
}
