/*
File: internal/api/alert_handlers.go
Description: HTTP handlers for alert ingestion and delivery diagnostics.
*/
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-alerting-service/internal/pipeline"
	"github.com/tinywideclouds/go-alerting-service/pkg/alerting"
)

const (
	defaultDeliveriesLimit = 50
	maxDeliveriesLimit     = 500
	maxBodyBytes           = 64 << 10
)

// PendingReader gives read access to the pending queue.
type PendingReader interface {
	PeekAll(ctx context.Context, userID string) ([]alerting.AlertMessage, error)
}

// ConnectionLister reports who is connected.
type ConnectionLister interface {
	ConnectedUserIDs() []string
	Stats() (users, connections int)
}

// AuditReader exposes recent delivery decisions.
type AuditReader interface {
	Recent(ctx context.Context, userID string, limit int) ([]alerting.DeliveryRecord, error)
}

// API holds the dependencies for the HTTP handlers.
type API struct {
	process     pipeline.AlertProcessor
	pending     PendingReader
	connections ConnectionLister
	audit       AuditReader
	logger      zerolog.Logger
}

// ConnectionsResponse is the body of GET /api/connections.
type ConnectionsResponse struct {
	Users           []string `json:"users"`
	UserCount       int      `json:"user_count"`
	ConnectionCount int      `json:"connection_count"`
}

// PendingResponse is the body of GET /api/pending/:userID.
type PendingResponse struct {
	UserID string                  `json:"user_id"`
	Count  int                     `json:"count"`
	Alerts []alerting.AlertMessage `json:"alerts"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewAPI creates the handler set. audit may be nil, in which case the
// deliveries endpoint reports 404.
func NewAPI(process pipeline.AlertProcessor, pending PendingReader, connections ConnectionLister, audit AuditReader, logger zerolog.Logger) (*API, error) {
	if process == nil {
		return nil, errors.New("alert processor cannot be nil")
	}
	if pending == nil {
		return nil, errors.New("pending reader cannot be nil")
	}
	if connections == nil {
		return nil, errors.New("connection lister cannot be nil")
	}
	return &API{
		process:     process,
		pending:     pending,
		connections: connections,
		audit:       audit,
		logger:      logger.With().Str("component", "API").Logger(),
	}, nil
}

// RegisterRoutes attaches the API under /api.
func (a *API) RegisterRoutes(r gin.IRouter) {
	g := r.Group("/api")
	g.POST("/alerts", a.SendAlertHandler)
	g.GET("/connections", a.ConnectionsHandler)
	g.GET("/pending/:userID", a.PendingHandler)
	g.GET("/deliveries", a.DeliveriesHandler)
}

// SendAlertHandler accepts the same AlertRequest body as the bus and
// dispatches it synchronously.
func (a *API) SendAlertHandler(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		a.logger.Warn().Err(err).Msg("Failed to read request body")
		c.JSON(http.StatusBadRequest, errorResponse{Error: "failed to read request body"})
		return
	}

	req, err := pipeline.DecodeAlertRequest(body)
	if err != nil {
		a.logger.Warn().Err(err).Msg("Rejected alert request")
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	resp, err := a.process(c.Request.Context(), "http-"+uuid.NewString(), &req)
	if err != nil {
		if isClientError(err) {
			c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		a.logger.Error().Err(err).Str("alert", req.Alert.ID).Msg("Failed to dispatch alert")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to dispatch alert"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ConnectionsHandler lists the users with at least one live connection.
func (a *API) ConnectionsHandler(c *gin.Context) {
	users, conns := a.connections.Stats()
	ids := a.connections.ConnectedUserIDs()
	c.JSON(http.StatusOK, ConnectionsResponse{
		Users:           ids,
		UserCount:       users,
		ConnectionCount: conns,
	})
}

// PendingHandler shows a user's queued alerts without draining them.
func (a *API) PendingHandler(c *gin.Context) {
	userID := c.Param("userID")
	alerts, err := a.pending.PeekAll(c.Request.Context(), userID)
	if err != nil {
		a.logger.Error().Err(err).Str("user", userID).Msg("Failed to read pending queue")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to read pending queue"})
		return
	}
	if alerts == nil {
		alerts = []alerting.AlertMessage{}
	}
	c.JSON(http.StatusOK, PendingResponse{UserID: userID, Count: len(alerts), Alerts: alerts})
}

// DeliveriesHandler returns recent audit rows, optionally for one user.
func (a *API) DeliveriesHandler(c *gin.Context) {
	if a.audit == nil {
		c.JSON(http.StatusNotFound, errorResponse{Error: "delivery audit is disabled"})
		return
	}

	limit := defaultDeliveriesLimit
	if limitStr := c.Query("limit"); limitStr != "" {
		if val, err := strconv.Atoi(limitStr); err == nil {
			if val > maxDeliveriesLimit {
				limit = maxDeliveriesLimit
			} else if val > 0 {
				limit = val
			}
		} else {
			a.logger.Warn().Str("limit", limitStr).Msg("Invalid 'limit' parameter")
		}
	}

	recs, err := a.audit.Recent(c.Request.Context(), c.Query("user_id"), limit)
	if err != nil {
		a.logger.Error().Err(err).Msg("Failed to read delivery audit")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to read delivery audit"})
		return
	}
	if recs == nil {
		recs = []alerting.DeliveryRecord{}
	}
	c.JSON(http.StatusOK, recs)
}

func isClientError(err error) bool {
	return errors.Is(err, alerting.ErrInvalidAlert) ||
		errors.Is(err, alerting.ErrEmptyUserID) ||
		errors.Is(err, pipeline.ErrInvalidRequest)
}
