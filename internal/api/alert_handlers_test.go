// --- File: internal/api/alert_handlers_test.go ---
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-alerting-service/internal/api"
	"github.com/tinywideclouds/go-alerting-service/internal/pipeline"
	"github.com/tinywideclouds/go-alerting-service/pkg/alerting"
)

type mockPendingReader struct{ mock.Mock }

func (m *mockPendingReader) PeekAll(ctx context.Context, userID string) ([]alerting.AlertMessage, error) {
	args := m.Called(ctx, userID)
	var result []alerting.AlertMessage
	if val, ok := args.Get(0).([]alerting.AlertMessage); ok {
		result = val
	}
	return result, args.Error(1)
}

type fakeConnections struct {
	users []string
	conns int
}

func (f fakeConnections) ConnectedUserIDs() []string { return f.users }
func (f fakeConnections) Stats() (users, connections int) { return len(f.users), f.conns }

type mockAuditReader struct{ mock.Mock }

func (m *mockAuditReader) Recent(ctx context.Context, userID string, limit int) ([]alerting.DeliveryRecord, error) {
	args := m.Called(ctx, userID, limit)
	var result []alerting.DeliveryRecord
	if val, ok := args.Get(0).([]alerting.DeliveryRecord); ok {
		result = val
	}
	return result, args.Error(1)
}

// --- Test Setup ---

type testFixture struct {
	router   *gin.Engine
	pending  *mockPendingReader
	audit    *mockAuditReader
	lastReq  *alerting.AlertRequest
	procResp pipeline.Response
	procErr  error
}

func setup(t *testing.T) *testFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &testFixture{pending: new(mockPendingReader), audit: new(mockAuditReader)}
	process := func(_ context.Context, _ string, req *alerting.AlertRequest) (pipeline.Response, error) {
		f.lastReq = req
		return f.procResp, f.procErr
	}
	a, err := api.NewAPI(process, f.pending, fakeConnections{users: []string{"u1", "u2"}, conns: 3}, f.audit, zerolog.Nop())
	require.NoError(t, err)

	f.router = gin.New()
	f.router.Use(api.RequestLogger(zerolog.Nop()))
	a.RegisterRoutes(f.router)
	return f
}

func (f *testFixture) do(method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

// --- Test Cases ---

func TestSendAlertHandler(t *testing.T) {
	t.Run("Success - dispatched", func(t *testing.T) {
		// Arrange
		f := setup(t)
		f.procResp = pipeline.Response{AlertID: "a-1", Outcome: alerting.OutcomeQueued}
		body := []byte(`{"user_id":"u1","alert":{"id":"a-1","kind":"intrusion","source":"cam1"}}`)

		// Act
		rr := f.do(http.MethodPost, "/api/alerts", body)

		// Assert
		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"alert_id":"a-1","outcome":"queued","delivered":0}`, rr.Body.String())
		require.NotNil(t, f.lastReq)
		assert.Equal(t, "u1", f.lastReq.UserID)
		assert.False(t, f.lastReq.Alert.Timestamp.IsZero())
	})

	t.Run("Failure - invalid body", func(t *testing.T) {
		f := setup(t)
		rr := f.do(http.MethodPost, "/api/alerts", []byte(`{"alert":{"kind":"fire","source":"cam"}}`))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Nil(t, f.lastReq)
	})

	t.Run("Failure - rejected by dispatcher", func(t *testing.T) {
		f := setup(t)
		f.procErr = alerting.ErrEmptyUserID
		rr := f.do(http.MethodPost, "/api/alerts", []byte(`{"user_id":"u1","alert":{"kind":"fire","source":"cam"}}`))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("Failure - internal error", func(t *testing.T) {
		f := setup(t)
		f.procErr = errors.New("boom")
		rr := f.do(http.MethodPost, "/api/alerts", []byte(`{"user_id":"u1","alert":{"kind":"fire","source":"cam"}}`))
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.JSONEq(t, `{"error":"failed to dispatch alert"}`, rr.Body.String())
	})
}

func TestConnectionsHandler(t *testing.T) {
	f := setup(t)

	rr := f.do(http.MethodGet, "/api/connections", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp api.ConnectionsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, api.ConnectionsResponse{Users: []string{"u1", "u2"}, UserCount: 2, ConnectionCount: 3}, resp)
}

func TestPendingHandler(t *testing.T) {
	t.Run("Success - returns queued alerts", func(t *testing.T) {
		f := setup(t)
		queued := []alerting.AlertMessage{
			{ID: "a", Kind: "fire", Source: "cam1", Timestamp: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		}
		f.pending.On("PeekAll", mock.Anything, "u1").Return(queued, nil)

		rr := f.do(http.MethodGet, "/api/pending/u1", nil)

		require.Equal(t, http.StatusOK, rr.Code)
		var resp api.PendingResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, "u1", resp.UserID)
		assert.Equal(t, 1, resp.Count)
		assert.Equal(t, queued, resp.Alerts)
	})

	t.Run("Success - empty queue is an empty list", func(t *testing.T) {
		f := setup(t)
		f.pending.On("PeekAll", mock.Anything, "nobody").Return(nil, nil)

		rr := f.do(http.MethodGet, "/api/pending/nobody", nil)

		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"user_id":"nobody","count":0,"alerts":[]}`, rr.Body.String())
	})

	t.Run("Failure - backend error", func(t *testing.T) {
		f := setup(t)
		f.pending.On("PeekAll", mock.Anything, "u1").Return(nil, errors.New("redis down"))

		rr := f.do(http.MethodGet, "/api/pending/u1", nil)

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})
}

func TestDeliveriesHandler(t *testing.T) {
	t.Run("Success - limit clamped", func(t *testing.T) {
		f := setup(t)
		f.audit.On("Recent", mock.Anything, "u1", 500).Return([]alerting.DeliveryRecord{{AlertID: "a"}}, nil)

		rr := f.do(http.MethodGet, "/api/deliveries?user_id=u1&limit=9999", nil)

		require.Equal(t, http.StatusOK, rr.Code)
		f.audit.AssertExpectations(t)
	})

	t.Run("Default limit", func(t *testing.T) {
		f := setup(t)
		f.audit.On("Recent", mock.Anything, "", 50).Return(nil, nil)

		rr := f.do(http.MethodGet, "/api/deliveries?limit=abc", nil)

		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `[]`, rr.Body.String())
	})

	t.Run("Disabled audit", func(t *testing.T) {
		gin.SetMode(gin.TestMode)
		a, err := api.NewAPI(
			func(context.Context, string, *alerting.AlertRequest) (pipeline.Response, error) { return pipeline.Response{}, nil },
			new(mockPendingReader), fakeConnections{}, nil, zerolog.Nop())
		require.NoError(t, err)
		r := gin.New()
		a.RegisterRoutes(r)

		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/deliveries", nil))
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(api.CORS([]string{"https://app.example.com"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	t.Run("Allowed origin echoed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set("Origin", "https://app.example.com")
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		assert.Equal(t, "https://app.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("Other origin not echoed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("Preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/x", nil)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusNoContent, rr.Code)
	})
}
