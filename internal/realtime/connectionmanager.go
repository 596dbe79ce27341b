/*
File: internal/realtime/connectionmanager.go
Description: WebSocket front door for the Registry. Runs its own HTTP
server, upgrades /alerts/{userID} requests and hands each socket to the
Registry for its lifetime.
*/
// Package realtime provides components for managing real-time client connections.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ConnectionManager accepts WebSocket connections and registers them.
// It runs its own dedicated HTTP server.
type ConnectionManager struct {
	server     *http.Server
	upgrader   websocket.Upgrader
	registry   *Registry
	logger     zerolog.Logger
	instanceID string
}

// NewConnectionManager creates and wires up a new WebSocket connection manager.
// An empty allowedOrigins list accepts any origin.
func NewConnectionManager(
	port string,
	registry *Registry,
	allowedOrigins []string,
	logger zerolog.Logger,
) (*ConnectionManager, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}

	instanceID := uuid.NewString()
	cmLogger := logger.With().Str("component", "ConnectionManager").Str("instance", instanceID).Logger()

	cm := &ConnectionManager{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		registry:   registry,
		logger:     cmLogger,
		instanceID: instanceID,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /alerts/{userID}", cm.connectHandler)
	cm.server = &http.Server{
		Addr:    ":" + port,
		Handler: mux,
	}

	return cm, nil
}

// Handler exposes the upgrade routes.
func (cm *ConnectionManager) Handler() http.Handler {
	return cm.server.Handler
}

// Start runs the HTTP server for WebSocket connections. It blocks until the
// server stops.
func (cm *ConnectionManager) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", cm.server.Addr)
	if err != nil {
		return fmt.Errorf("websocket server failed to listen: %w", err)
	}
	cm.server.BaseContext = func(net.Listener) context.Context { return context.WithoutCancel(ctx) }

	cm.logger.Info().Str("addr", listener.Addr().String()).Msg("WebSocket server starting...")
	if err := cm.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("websocket server failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections, then closes every live one.
func (cm *ConnectionManager) Shutdown(ctx context.Context) error {
	cm.logger.Info().Msg("Shutting down WebSocket service...")
	var finalErr error

	if err := cm.server.Shutdown(ctx); err != nil {
		cm.logger.Error().Err(err).Msg("WebSocket server shutdown failed.")
		finalErr = err
	}
	// Hijacked connections are not tracked by http.Server.
	if err := cm.registry.CloseAll(ctx); err != nil {
		cm.logger.Error().Err(err).Msg("Failed to close all connections.")
		finalErr = errors.Join(finalErr, err)
	}

	cm.logger.Info().Msg("WebSocket service shut down.")
	return finalErr
}

// connectHandler upgrades a new HTTP request to a WebSocket and manages its lifecycle.
func (cm *ConnectionManager) connectHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	if userID == "" {
		http.Error(w, "user id is required", http.StatusBadRequest)
		return
	}

	ws, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		cm.logger.Error().Err(err).Msg("Failed to upgrade connection.")
		return
	}

	conn := newWSConn(ws, cm.logger.With().Str("user", userID).Logger())
	defer func() {
		cm.registry.Deregister(userID, conn)
		if err := conn.Close(); err != nil {
			cm.logger.Debug().Err(err).Str("user", userID).Msg("error closing connection")
		}
		cm.logger.Info().Str("user", userID).Str("conn", conn.ID()).Msg("User disconnected.")
	}()

	go conn.keepalive()

	remaining, err := cm.registry.Register(r.Context(), userID, conn)
	if err != nil {
		cm.logger.Error().Err(err).Str("user", userID).Msg("Failed to register connection.")
		return
	}
	cm.logger.Info().Str("user", userID).Str("conn", conn.ID()).Int("pending", remaining).Msg("User connected via WebSocket.")

	conn.readLoop()
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Non-browser clients send no Origin.
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
