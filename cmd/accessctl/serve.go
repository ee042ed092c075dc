package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/Portunus/linkserver/internal/httpapi"
	"github.com/BrandonDHaskell/Portunus/linkserver/internal/portunus/service"
)

func newServe(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the operator HTTP API with scheduled log drains",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, f)
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(ctx, stop, a)
		},
	}
}

func serve(ctx context.Context, stop context.CancelFunc, a *app) error {
	pruner := service.NewStatusPruner(a.statuses, service.PrunerConfig{
		RetentionDays: a.cfg.StatusRetentionDays,
		IntervalHours: a.cfg.PruneIntervalHours,
	}, a.log)
	pruner.Start(ctx)
	defer pruner.Stop()

	drains := service.NewLogScheduler(a.svc, a.cfg.LogDrainInterval, a.log)
	drains.Start(ctx)
	defer drains.Stop()

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:          a.log,
		Addr:            a.cfg.HTTPAddr,
		Service:         a.svc,
		AccessTablePath: a.cfg.AccessTablePath,
		Gatherer:        a.registry,
	})

	errCh := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", a.cfg.HTTPAddr).Msg("listening")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error().Err(err).Msg("http shutdown")
	}

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}
