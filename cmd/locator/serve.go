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

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/stuartshay/hospital-locator/internal/config"
	"github.com/stuartshay/hospital-locator/internal/server"
	"github.com/stuartshay/hospital-locator/internal/ui"
)

func newServeCmd(cfg *config.Config, root *rootOptions) *cobra.Command {
	var locateOnStart bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the map page and session API over HTTP, with gRPC health checks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), cfg, root, locateOnStart)
		},
	}

	cmd.Flags().BoolVar(&locateOnStart, "locate", false, "acquire the location as soon as the server starts")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, root *rootOptions, locateOnStart bool) error {
	log.Info().Msg("Starting hospital-locator service")

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	view := ui.NewSnapshotView()
	a, err := newApp(ctx, cfg, appOptions{view: view})
	if err != nil {
		return err
	}
	defer a.Close()

	if root.radiusKM != 0 {
		if _, err := a.ctl.SetRadius(root.radiusKM); err != nil {
			return err
		}
	}

	opts := server.Options{
		ServiceName: cfg.ServiceName,
		Controller:  a.ctl,
		Loop:        a.loop,
		View:        view,
		Surface:     a.surface,
	}
	if a.history != nil {
		opts.History = a.history
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:           server.NewHTTPServer(opts).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	grpcServer := server.NewGRPCServer(cfg.ServiceName)

	listener, err := server.Listen(cfg.GRPCPort)
	if err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		if err := grpcServer.Serve(listener); err != nil {
			errCh <- fmt.Errorf("gRPC server failed: %w", err)
		}
	}()
	go func() {
		log.Info().Str("port", cfg.HTTPPort).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server failed: %w", err)
		}
	}()

	if locateOnStart {
		if _, err := a.ctl.GetLocation(); err != nil {
			log.Error().Err(err).Msg("Failed to start location request")
		}
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case <-sigChan:
		log.Info().Msg("Shutdown signal received, gracefully stopping...")
	case <-ctx.Done():
	case runErr = <-errCh:
		log.Error().Err(runErr).Msg("Server failed, stopping")
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown HTTP server")
	}
	grpcServer.Stop(shutdownCtx)

	// Let in-flight polling observe the cancellation before the loop stops.
	a.ctl.Close()
	if err := a.settle(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Background work still running at shutdown")
	}

	log.Info().Msg("Service shutdown complete")
	return runErr
}
