// Package serverutil owns the process lifecycle around a long-running
// server: signal handling, bounded graceful shutdown, and teardown of
// dependent resources.
package serverutil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// DefaultShutdownTimeout bounds graceful shutdown when the caller does not
// choose one.
const DefaultShutdownTimeout = 10 * time.Second

// Server is the minimal surface Run needs: a blocking Start and a
// context-bounded Shutdown.
type Server interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// Config controls how Run supervises the server.
type Config struct {
	// Logger receives lifecycle events. Run is silent when nil.
	Logger *slog.Logger

	// ShutdownTimeout bounds graceful shutdown and resource teardown.
	// Zero selects DefaultShutdownTimeout.
	ShutdownTimeout time.Duration

	// Signals overrides the signals that trigger shutdown. Defaults to
	// SIGINT and SIGTERM.
	Signals []os.Signal

	// Closers run after the server has shut down, in order, sharing the
	// shutdown deadline. Used to release datastores and caches.
	Closers []func(context.Context) error
}

// Run starts srv, blocks until a shutdown signal arrives or the server
// fails, then drains in-flight requests and runs the configured closers.
// It returns the server failure, if any; a clean signal-driven exit
// returns nil.
func Run(srv Server, cfg Config) error {
	if srv == nil {
		return fmt.Errorf("serverutil: nil server")
	}

	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	signals := cfg.Signals
	if len(signals) == 0 {
		signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}

	errs := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, signals...)
	defer signal.Stop(quit)

	var runErr error
	select {
	case sig := <-quit:
		if cfg.Logger != nil {
			cfg.Logger.Info("received shutdown signal", "signal", sig.String())
		}
	case err := <-errs:
		if cfg.Logger != nil {
			cfg.Logger.Error("server error", "error", err)
		}
		runErr = err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil && cfg.Logger != nil {
		cfg.Logger.Warn("graceful shutdown failed", "error", err)
	}

	for _, closer := range cfg.Closers {
		if closer == nil {
			continue
		}
		if err := closer(ctx); err != nil && cfg.Logger != nil {
			cfg.Logger.Warn("resource teardown failed", "error", err)
		}
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("shutdown complete")
	}
	return runErr
}
