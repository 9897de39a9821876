// Package main is the orgflow command line: it serves the automation API and
// checks or simulates rule and workflow documents offline.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"
)

func NewApp() *cli.Command {
	return &cli.Command{
		Name:                  "orgflow",
		Usage:                 "Run organization automations: rules and workflows",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			NewServeCommand(),
			NewValidateCommand(),
			NewDryRunCommand(),
		},
	}
}

func main() {
	err := NewApp().Run(context.Background(), os.Args)
	if err != nil {
		slog.Error("orgflow failed", "error", err)
		os.Exit(1)
	}
}
