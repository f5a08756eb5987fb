package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
)

// WorkerCommand returns the CLI command for running the pipeline workers.
func WorkerCommand() *cli.Command {
	return &cli.Command{
		Name:  "worker",
		Usage: "Run the comment pipeline workers and sweeps",
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := bootstrap(ctx, c)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.queue.Start(ctx); err != nil {
				return fmt.Errorf("start job queue: %w", err)
			}
			a.logger.Info().Msg("workers started")

			<-ctx.Done()
			a.logger.Info().Msg("shutting down")

			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return a.queue.Stop(stopCtx)
		},
	}
}
