// Copyright 2026 The Remotectl Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/VNOI-Admin/remotectl/cmd/remotectl/cli"
	"github.com/VNOI-Admin/remotectl/lib/version"
)

// defaultServerURL is used when neither --server nor REMOTECTL_SERVER
// is set.
const defaultServerURL = "http://127.0.0.1:8080"

// serverURL is bound by addServerFlag on every leaf command.
var serverURL string

// addServerFlag registers the shared --server flag on a command's flag
// set.
func addServerFlag(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&serverURL, "server", "", "server base URL (default $REMOTECTL_SERVER or "+defaultServerURL+")")
}

// newServerClient resolves the server URL (flag, then environment,
// then default) and returns a client for it.
func newServerClient() *Client {
	url := serverURL
	if url == "" {
		url = os.Getenv("REMOTECTL_SERVER")
	}
	if url == "" {
		url = defaultServerURL
	}
	return NewClient(url)
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	root := &cli.Command{
		Name:    "remotectl",
		Summary: "Run scripts across a fleet of target machines and follow their progress.",
		Subcommands: []*cli.Command{
			scriptCommand(),
			jobCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					fmt.Printf("remotectl %s\n", version.Full())
					return nil
				},
			},
		},
	}
	return root.Execute(os.Args[1:])
}
