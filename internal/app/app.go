// Package app contains the shared, reusable logic for starting and stopping the service.
package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// ShutdownTimeout bounds the whole graceful shutdown.
const ShutdownTimeout = 15 * time.Second

// Service is one long-running component. Start may block until the
// service stops; Shutdown must make a blocked Start return.
type Service interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Named pairs a service with the name used in logs.
type Named struct {
	Name    string
	Service Service
}

// Run executes the main application lifecycle. It starts every service,
// waits for SIGINT/SIGTERM, ctx cancellation or the failure of any
// service, and then shuts the services down in reverse order.
func Run(ctx context.Context, logger zerolog.Logger, services ...Named) {
	RunUntil(ctx, logger, signalChan(), services...)
}

// RunUntil is Run with an explicit stop channel.
func RunUntil(ctx context.Context, logger zerolog.Logger, stop <-chan os.Signal, services ...Named) {
	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, s := range services {
		wg.Add(1)
		go func(s Named) {
			defer wg.Done()
			logger.Info().Str("service", s.Name).Msg("Starting service...")
			err := s.Service.Start(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Str("service", s.Name).Msg("Service failed")
				cancel() // Trigger shutdown of other services.
			}
		}(s)
	}

	select {
	case sig := <-stop:
		logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal.")
	case <-ctx.Done():
		logger.Info().Msg("Context cancelled, initiating shutdown.")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer shutdownCancel()

	for i := len(services) - 1; i >= 0; i-- {
		s := services[i]
		logger.Info().Str("service", s.Name).Msg("Shutting down service...")
		if err := s.Service.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Str("service", s.Name).Msg("Service shutdown failed.")
		}
	}

	wg.Wait()
	logger.Info().Msg("All services shut down gracefully.")
}

func signalChan() <-chan os.Signal {
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	return shutdown
}
