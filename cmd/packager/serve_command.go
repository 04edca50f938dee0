package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Lllllllleong/dossierpackager/internal/gcp"
	"github.com/Lllllllleong/dossierpackager/internal/handlers"
	"github.com/Lllllllleong/dossierpackager/internal/schedule"
)

// TriggerPath is the route of the HTTP trigger.
const TriggerPath = "/package-toezicht-dossiers/"

const shutdownTimeout = 30 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	var (
		addr       string
		noSchedule bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP trigger and run the packaging schedule",
		RunE: func(cmd *cobra.Command, _ []string) error {
			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			p, config, err := ctx.openPackager(cmd)
			if err != nil {
				return err
			}
			defer func() {
				if err := p.Close(); err != nil {
					slog.Error("Failed to close packager.", "error", err)
				}
			}()

			// --- 1. Clear dossiers a previous process left behind ---
			if err := p.StartupSweep(runCtx); err != nil {
				return err
			}

			// --- 2. Start the schedule ---
			if !noSchedule {
				sched, err := schedule.Start(runCtx, config.CronPattern, p)
				if err != nil {
					return err
				}
				defer sched.Stop()
			}

			// --- 3. Serve the trigger ---
			if addr == "" {
				addr = ":" + gcp.GetEnv("PORT", "8080")
			}
			mux := http.NewServeMux()
			mux.Handle(TriggerPath, handlers.TriggerHandler(p))
			srv := &http.Server{
				Addr:              addr,
				Handler:           mux,
				ReadHeaderTimeout: 10 * time.Second,
				BaseContext:       func(net.Listener) context.Context { return runCtx },
			}

			errCh := make(chan error, 1)
			go func() {
				slog.Info("Serving packaging trigger.", "addr", addr, "path", TriggerPath)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("serve: %w", err)
				}
				return nil
			case <-runCtx.Done():
			}

			slog.Info("Shutting down. Waiting for running batches.")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(runCtx), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address, defaults to :$PORT")
	cmd.Flags().BoolVar(&noSchedule, "no-schedule", false, "Serve the trigger without the cron schedule")
	return cmd
}
