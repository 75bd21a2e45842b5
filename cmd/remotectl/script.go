// Copyright 2026 The Remotectl Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/VNOI-Admin/remotectl/cmd/remotectl/cli"
	"github.com/VNOI-Admin/remotectl/lib/schema/remote"
)

// readScriptContent loads script content from --file, or stdin when
// the flag is empty or "-".
func readScriptContent(path string) (string, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func scriptCommand() *cli.Command {
	return &cli.Command{
		Name:    "script",
		Summary: "Manage named scripts on the server",
		Subcommands: []*cli.Command{
			scriptCreateCommand(),
			scriptGetCommand(),
			scriptUpdateCommand(),
			scriptDeleteCommand(),
			scriptListCommand(),
		},
	}
}

func scriptCreateCommand() *cli.Command {
	var file string
	flags := func() *pflag.FlagSet {
		flagSet := pflag.NewFlagSet("script create", pflag.ContinueOnError)
		flagSet.StringVar(&file, "file", "", "script file to upload (default: stdin)")
		addServerFlag(flagSet)
		return flagSet
	}
	return &cli.Command{
		Name:    "create",
		Summary: "Upload a new script",
		Usage:   "remotectl script create <name> [--file <path>]",
		Flags:   flags,
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one script name")
			}
			content, err := readScriptContent(file)
			if err != nil {
				return err
			}
			script, err := newServerClient().CreateScript(context.Background(), remote.CreateScriptRequest{
				Name:    args[0],
				Content: content,
			})
			if err != nil {
				return err
			}
			return cli.WriteJSON(script)
		},
	}
}

func scriptGetCommand() *cli.Command {
	flags := func() *pflag.FlagSet {
		flagSet := pflag.NewFlagSet("script get", pflag.ContinueOnError)
		addServerFlag(flagSet)
		return flagSet
	}
	return &cli.Command{
		Name:    "get",
		Summary: "Show a script, including its content",
		Usage:   "remotectl script get <name>",
		Flags:   flags,
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one script name")
			}
			script, err := newServerClient().GetScript(context.Background(), args[0])
			if err != nil {
				return err
			}
			return cli.WriteJSON(script)
		},
	}
}

func scriptUpdateCommand() *cli.Command {
	var file string
	flags := func() *pflag.FlagSet {
		flagSet := pflag.NewFlagSet("script update", pflag.ContinueOnError)
		flagSet.StringVar(&file, "file", "", "script file to upload (default: stdin)")
		addServerFlag(flagSet)
		return flagSet
	}
	return &cli.Command{
		Name:    "update",
		Summary: "Replace a script's content",
		Usage:   "remotectl script update <name> [--file <path>]",
		Flags:   flags,
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one script name")
			}
			content, err := readScriptContent(file)
			if err != nil {
				return err
			}
			script, err := newServerClient().UpdateScript(context.Background(), args[0], content)
			if err != nil {
				return err
			}
			return cli.WriteJSON(script)
		},
	}
}

func scriptDeleteCommand() *cli.Command {
	flags := func() *pflag.FlagSet {
		flagSet := pflag.NewFlagSet("script delete", pflag.ContinueOnError)
		addServerFlag(flagSet)
		return flagSet
	}
	return &cli.Command{
		Name:    "delete",
		Summary: "Delete a script (existing jobs keep their snapshot)",
		Usage:   "remotectl script delete <name>",
		Flags:   flags,
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one script name")
			}
			if err := newServerClient().DeleteScript(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Printf("deleted %s\n", args[0])
			return nil
		},
	}
}

func scriptListCommand() *cli.Command {
	flags := func() *pflag.FlagSet {
		flagSet := pflag.NewFlagSet("script list", pflag.ContinueOnError)
		addServerFlag(flagSet)
		return flagSet
	}
	return &cli.Command{
		Name:    "list",
		Summary: "List scripts",
		Flags:   flags,
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("unexpected arguments: %v", args)
			}
			list, err := newServerClient().ListScripts(context.Background())
			if err != nil {
				return err
			}
			return cli.WriteJSON(list)
		},
	}
}
