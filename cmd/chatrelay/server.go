package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/phrazzld/chatrelay/internal/api"
	"github.com/phrazzld/chatrelay/internal/pipeline"
)

const readHeaderTimeout = 10 * time.Second

// router builds the HTTP handler over the application's pipeline.
func (app *application) router() http.Handler {
	return api.NewRouter(api.RouterDeps{
		Pipeline: app.pipeline,
		Logger:   app.logger,
		Metrics:  app.collector,
		Ready: func() error {
			if app.pipeline.Status().Closed {
				return pipeline.ErrPipelineClosed
			}
			return nil
		},
	})
}

// serveHTTP serves on ln until ctx ends, then shuts down gracefully within
// the configured timeout and closes the application.
func (app *application) serveHTTP(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           app.router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		app.logger.Info("starting server", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		app.logger.Info("shutting down server")
	case err := <-serverErr:
		if err != nil {
			app.logger.Error("server failed", "error", err)
			runErr = fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		app.logger.Error("server shutdown failed", "error", err)
		if runErr == nil {
			runErr = fmt.Errorf("server shutdown failed: %w", err)
		}
	}

	// Shutdown may have used up shutdownCtx waiting on handlers.
	cleanupCtx, cancelCleanup := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
	defer cancelCleanup()
	app.cleanup(cleanupCtx)

	app.logger.Info("server shutdown completed")
	return runErr
}
