/*
File: alertingservice/alertingservice.go
Description: HTTP API service and alert ingress consumer, run as one
lifecycle unit.
*/
package alertingservice

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-alerting-service/alertingservice/config"
	"github.com/tinywideclouds/go-alerting-service/internal/api"
)

// Consumer is a background ingress source started and stopped with the
// service, such as the NATS consumer.
type Consumer interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Wrapper owns the gin engine, its http.Server and any ingress consumer.
type Wrapper struct {
	server        *http.Server
	engine        *gin.Engine
	consumer      Consumer
	ready         atomic.Bool
	httpReadyChan chan struct{}
	addr          atomic.Value // string, set once listening
	logger        zerolog.Logger
}

// New creates and wires up the HTTP side of the alerting service. consumer
// may be nil when no message bus ingress is configured.
func New(cfg *config.AppConfig, apiHandler *api.API, consumer Consumer, logger zerolog.Logger) (*Wrapper, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if apiHandler == nil {
		return nil, fmt.Errorf("api handler cannot be nil")
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), api.RequestLogger(logger), api.CORS(cfg.CorsAllowedOrigins))

	w := &Wrapper{
		engine:        engine,
		consumer:      consumer,
		httpReadyChan: make(chan struct{}),
		logger:        logger.With().Str("component", "ApiService").Logger(),
	}

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/readyz", func(c *gin.Context) {
		if !w.ready.Load() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	apiHandler.RegisterRoutes(engine)

	w.server = &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return w, nil
}

// Handler exposes the engine for tests.
func (w *Wrapper) Handler() http.Handler {
	return w.engine
}

// Addr returns the bound listen address once the server is up.
func (w *Wrapper) Addr() string {
	if v, ok := w.addr.Load().(string); ok {
		return v
	}
	return ""
}

// Ready is closed once the HTTP listener is bound.
func (w *Wrapper) Ready() <-chan struct{} {
	return w.httpReadyChan
}

// Start starts the consumer, binds the listener and serves until Shutdown.
// The service reports ready only after the listener is bound.
func (w *Wrapper) Start(ctx context.Context) error {
	if w.consumer != nil {
		w.logger.Info().Msg("Alert ingress consumer starting...")
		if err := w.consumer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start alert ingress: %w", err)
		}
	}

	ln, err := net.Listen("tcp", w.server.Addr)
	if err != nil {
		return fmt.Errorf("HTTP server failed to start: %w", err)
	}
	w.addr.Store(ln.Addr().String())
	w.server.BaseContext = func(net.Listener) context.Context { return ctx }

	close(w.httpReadyChan)
	w.ready.Store(true)
	w.logger.Info().Str("address", ln.Addr().String()).Msg("HTTP listener is active. Service is now ready.")

	if err := w.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		w.logger.Error().Err(err).Msg("HTTP server failed")
		return err
	}
	return nil
}

// Shutdown stops intake first, then the HTTP server.
func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info().Msg("Shutting down service components...")
	w.ready.Store(false)

	var errs []error
	if w.consumer != nil {
		if err := w.consumer.Shutdown(ctx); err != nil {
			w.logger.Error().Err(err).Msg("Alert ingress shutdown failed.")
			errs = append(errs, err)
		}
	}
	if err := w.server.Shutdown(ctx); err != nil {
		w.logger.Error().Err(err).Msg("HTTP server shutdown failed.")
		errs = append(errs, err)
	}

	w.logger.Info().Msg("All components shut down.")
	return errors.Join(errs...)
}
