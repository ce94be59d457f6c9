package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/mindline/internal/app"
)

func devserverCommand() *cli.Command {
	return &cli.Command{
		Name:  "devserver",
		Usage: "run an in-memory backend for local development",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "devserver--host",
				Usage: "listen host",
				Value: app.DefaultConfigDevServerHost,
			},
			&cli.IntFlag{
				Name:  "devserver--port",
				Usage: "listen port",
				Value: app.DefaultConfigDevServerPort,
			},
			&cli.DurationFlag{
				Name:  "devserver--access-ttl",
				Usage: "access token lifetime",
			},
			&cli.DurationFlag{
				Name:  "devserver--refresh-ttl",
				Usage: "refresh token lifetime",
			},
			&cli.StringFlag{
				Name:  "devserver--signing-key",
				Usage: "HMAC key for access tokens (random when empty)",
			},
		},
		Action: devserverAction,
	}
}

func devserverAction(ctx context.Context, cmd *cli.Command) error {
	cfg, done, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer done()

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}

	slog.InfoContext(ctx, "starting")

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("app failed to start: %w", err)
	}

	slog.InfoContext(ctx, "stopped gracefully")
	return nil
}
