// Package lifecycle tracks process state for health reporting and drives graceful shutdown.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// State records when the process started and whether it is draining.
type State struct {
	started      time.Time
	shuttingDown atomic.Bool
}

// NewState returns a State that started at started.
func NewState(started time.Time) *State {
	return &State{started: started}
}

// BeginShutdown marks the process as draining. Health reports shutting-down from then on.
func (s *State) BeginShutdown() {
	s.shuttingDown.Store(true)
}

// ShuttingDown reports whether BeginShutdown has been called.
func (s *State) ShuttingDown() bool {
	return s.shuttingDown.Load()
}

// Uptime returns the time elapsed since start as of now.
func (s *State) Uptime(now time.Time) time.Duration {
	return now.Sub(s.started)
}

// Server is the part of *http.Server used during drain.
type Server interface {
	Shutdown(ctx context.Context) error
}

// InFlight reports and waits on requests still being served.
type InFlight interface {
	Count() int64
	WaitForZero(ctx context.Context, checkInterval time.Duration) error
}

// DrainConfig bounds each drain phase.
type DrainConfig struct {
	ShutdownTimeout       time.Duration
	InFlightTimeout       time.Duration
	InFlightCheckInterval time.Duration
}

// Drain flips the state to shutting-down, stops the server, waits for in-flight
// requests, then closes resources in order. Every phase runs even if an earlier
// one failed; the returned error joins all failures.
func (s *State) Drain(ctx context.Context, logger *zap.Logger, srv Server, inflight InFlight, cfg DrainConfig, closers ...io.Closer) error {
	s.BeginShutdown()
	var errs []error

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}
	cancel()

	if inflight != nil {
		logger.Info("waiting for in-flight requests", zap.Int64("count", inflight.Count()))
		waitCtx, waitCancel := context.WithTimeout(ctx, cfg.InFlightTimeout)
		if err := inflight.WaitForZero(waitCtx, cfg.InFlightCheckInterval); err != nil {
			logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", inflight.Count()))
			errs = append(errs, fmt.Errorf("in-flight drain: %w", err))
		}
		waitCancel()
	}

	for _, c := range closers {
		if err := c.Close(); err != nil {
			logger.Error("close resource", zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
