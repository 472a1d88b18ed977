package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"padbridge/internal/status"
)

// ============================================================================
// Status HTTP Server
// ============================================================================
// Serves /status.json, /healthz and the /ws actuation stream.
// ============================================================================

const httpShutdownTimeout = 3 * time.Second

// newStatusMux registers the status endpoints.
func newStatusMux(tracker *status.Tracker, state *StateServer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/status.json", tracker.Handler())
	mux.Handle("/healthz", tracker.HealthHandler())
	if state != nil {
		state.Register(mux, "/ws")
	}
	return mux
}

// runHTTPServer serves handler on listenAddr and shuts it down gracefully
// when ctx is canceled.
func runHTTPServer(ctx context.Context, listenAddr string, handler http.Handler, logger *slog.Logger) error {
	logger.Info("status server listening", "addr", listenAddr)

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		// ListenAndServe returns http.ErrServerClosed on Shutdown; treat that as clean exit.
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown: %w", err)
		}
		// Wait for the ListenAndServe goroutine to return.
		<-errCh
		return nil

	case err := <-errCh:
		return err
	}
}
