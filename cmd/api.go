package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
)

// APICommand returns the CLI command for starting the webhook API server.
// The server only inserts jobs; the worker command processes them.
func APICommand() *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Start the webhook ingestion and read API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server (overrides config)",
			},
		},
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := bootstrap(ctx, c)
			if err != nil {
				return err
			}
			defer a.close()

			a.logger.Info().Int("port", a.cfg.API.Port).Msg("starting API server")

			return a.server.Start(ctx)
		},
	}
}
