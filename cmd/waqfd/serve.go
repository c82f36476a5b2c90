package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/warp/waqf-engine/api"
)

const shutdownTimeout = 30 * time.Second

func serveCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "start the HTTP API and the maturity sweeper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	handler := api.NewHandler(a.service, a.store, a.store)
	router := api.NewRouter(handler, a.cnf.Server.AllowedOrigins)

	var sweeper *api.Sweeper
	if a.cnf.Sweeper.Enabled {
		sweeper = api.NewSweeper(a.service, a.store, a.cnf.SweepInterval())
		sweeper.Start()
		defer sweeper.Stop()
	}

	server := &http.Server{
		Addr:         ":" + a.cnf.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logrus.Infof("waqfd listening on :%s", a.cnf.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errc:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logrus.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logrus.Info("server stopped")
	return nil
}
