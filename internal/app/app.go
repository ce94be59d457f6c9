package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/florianilch/mindline/internal/devserver"
)

// App orchestrates the lifecycle of the development backend.
type App struct {
	cfg       *Config
	devserver *devserver.Server
}

// New creates a new App instance.
func New(cfg *Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	opts := []devserver.Option{
		devserver.WithTokenTTL(cfg.DevServer.AccessTTL, cfg.DevServer.RefreshTTL),
	}
	if cfg.DevServer.SigningKey != "" {
		opts = append(opts, devserver.WithSigningKey([]byte(cfg.DevServer.SigningKey)))
	}

	server, err := devserver.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create devserver: %w", err)
	}

	return &App{
		cfg:       cfg,
		devserver: server,
	}, nil
}

// Start starts all services and blocks until shutdown is triggered.
// Uses errgroup for runtime error monitoring and shutdown function collection for coordinated cleanup.
func (a *App) Start(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	address := a.cfg.DevServer.Host + ":" + strconv.FormatUint(uint64(a.cfg.DevServer.Port), 10)
	var shutdownFuncs []func(context.Context) error

	// Startup phase: Start services
	slog.InfoContext(gCtx, "starting devserver", "address", address)
	serverErrCh, err := a.devserver.Start(gCtx, address)
	if err != nil {
		return fmt.Errorf("devserver startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, a.devserver.Shutdown)

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-serverErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "devserver runtime error", "error", err)
				return fmt.Errorf("devserver: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	slog.InfoContext(gCtx, "application ready",
		"address", a.devserver.Addr(),
		"seed_password", devserver.SeedPassword,
		"seed_accounts", []string{devserver.SeedPatientEmail, devserver.SeedPsychologistEmail, devserver.SeedClinicEmail},
	)

	runtimeErr := g.Wait()

	slog.InfoContext(gCtx, "shutting down services")

	// Shutdown phase: Stop all services
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Timeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}
