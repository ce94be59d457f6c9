package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/mindline/internal/app"
	"github.com/florianilch/mindline/internal/observability"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	return newRootCommand().Run(ctx, args)
}

func newRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "mindline",
		Usage: "Command-line client for the Mindline care platform",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "dotenv file loaded before reading the environment",
				Value: ".env",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelInfo.String(),
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json)",
				Value: string(app.DefaultConfigLogFormat),
			},
			&cli.StringFlag{
				Name:  "log-exporter",
				Usage: "OpenTelemetry log exporter (none|stdout|otlp-http|otlp-grpc)",
				Value: string(app.DefaultConfigLogExporter),
			},
			&cli.StringFlag{
				Name:  "api--base-url",
				Usage: "backend API base URL",
				Value: app.DefaultConfigAPIBaseURL,
			},
			&cli.DurationFlag{
				Name:  "api--timeout",
				Usage: "per-request timeout",
				Value: app.DefaultConfigAPITimeout,
			},
			&cli.StringFlag{
				Name:  "api--metrics-file",
				Usage: "write client metrics to this file on exit (Prometheus text format)",
			},
			&cli.StringFlag{
				Name:  "auth--storage",
				Usage: "credential storage (file|keyring|env|sqlite|memory)",
				Value: string(app.DefaultConfigAuthStorage),
			},
			&cli.StringFlag{
				Name:  "auth--file",
				Usage: "credential file for file storage",
			},
		},
		Commands: []*cli.Command{
			loginCommand(),
			registerCommand(),
			logoutCommand(),
			statusCommand(),
			meCommand(),
			psychologistsCommand(),
			conversationsCommand(),
			chatCommand(),
			invitesCommand(),
			recordsCommand(),
			ticketsCommand(),
			devserverCommand(),
		},
	}
}

// setup loads configuration and installs logging. The returned func flushes log
// exporters and must be called before exit.
func setup(ctx context.Context, cmd *cli.Command) (*app.Config, func(), error) {
	if err := loadDotEnv(cmd.String("env-file")); err != nil {
		return nil, nil, err
	}

	cfg, err := loadConfig(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Set up observability before creating app
	shutdown, err := observability.Instrument(ctx, observability.Options{
		Level:    cfg.LogLevel,
		Format:   string(cfg.LogFormat),
		Exporter: cfg.LogExporter,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up observability layer: %w", err)
	}

	return cfg, func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			fmt.Fprintf(os.Stderr, "flushing logs: %v\n", err)
		}
	}, nil
}

// withClient runs fn with the configured client stack.
func withClient(ctx context.Context, cmd *cli.Command, fn func(context.Context, *app.Client) error) error {
	cfg, done, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer done()

	client, err := app.NewClient(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			slog.WarnContext(ctx, "failed to close client", "error", err)
		}
	}()

	return fn(ctx, client)
}
