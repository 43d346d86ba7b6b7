package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"useradmin/internal/api"
	"useradmin/internal/config"
)

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default command)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serveRun(cmd.Context(), configFrom(cmd.Context()))
		},
	}
}

func serveRun(ctx context.Context, cfg *config.Config) error {
	// Keys must be ready before the listener opens.
	a, err := newApp(cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	info, _ := a.keys.Info()
	log.Info("signing key ready",
		"scheme", info.Scheme,
		"fingerprint", info.Fingerprint,
		"created_at", info.CreatedAt,
	)

	srv := api.New(api.Config{
		Listen:          cfg.Server.Listen,
		CORSOrigins:     cfg.Server.CORSOrigins,
		RequestTimeout:  cfg.Server.RequestTimeout.Duration,
		ShutdownTimeout: cfg.Server.ShutdownTimeout.Duration,
		WriteRateLimit:  cfg.Server.WriteRateLimit,
	}, api.Deps{
		Users:    a.users,
		Keys:     a.keys,
		Metrics:  a.metrics,
		Gatherer: a.registry,
	})

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := srv.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
	defer cancel()
	return srv.Stop(shutdownCtx)
}
