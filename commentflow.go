package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/commentflow/cmd"
)

const (
	version = "0.1.0"
)

func main() {
	app := &cli.App{
		Name:    "commentflow",
		Usage:   "AI-powered Instagram comment triage and auto-reply pipeline",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
				Value:   "commentflow.toml",
			},
		},
		Commands: []*cli.Command{
			cmd.WorkerCommand(),
			cmd.APICommand(),
			cmd.ConfigCommand(),
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
