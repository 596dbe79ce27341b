/*
File: internal/pipeline/transformer_alert_test.go
Description: Table tests for decoding alert requests off the bus.
*/
package pipeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-alerting-service/internal/pipeline"
	"github.com/tinywideclouds/go-alerting-service/pkg/alerting"
)

func TestAlertRequestTransformer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	testCases := []struct {
		name                  string
		payload               string
		expectedSkip          bool
		expectedErrorContains string
		check                 func(t *testing.T, req *alerting.AlertRequest)
	}{
		{
			name:    "Success - targeted with all fields",
			payload: `{"user_id":"u1","alert":{"id":"a-1","kind":"intrusion","source":"cam1","timestamp":"2025-01-02T03:04:05Z","details":{"zone":"door"}}}`,
			check: func(t *testing.T, req *alerting.AlertRequest) {
				assert.Equal(t, "u1", req.UserID)
				assert.False(t, req.Broadcast)
				assert.Equal(t, "a-1", req.Alert.ID)
				assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), req.Alert.Timestamp)
				assert.JSONEq(t, `{"zone":"door"}`, string(req.Alert.Details))
			},
		},
		{
			name:    "Success - broadcast, id and timestamp filled",
			payload: `{"broadcast":true,"alert":{"kind":"fire","source":"cam2"}}`,
			check: func(t *testing.T, req *alerting.AlertRequest) {
				assert.True(t, req.Broadcast)
				assert.NotEmpty(t, req.Alert.ID)
				assert.WithinDuration(t, time.Now(), req.Alert.Timestamp, 5*time.Second)
			},
		},
		{
			name:                  "Failure - malformed JSON",
			payload:               `{ not-valid-json }`,
			expectedSkip:          true,
			expectedErrorContains: "invalid alert request",
		},
		{
			name:                  "Failure - no target",
			payload:               `{"alert":{"kind":"fire","source":"cam2"}}`,
			expectedSkip:          true,
			expectedErrorContains: "one of user_id or broadcast",
		},
		{
			name:                  "Failure - both targets",
			payload:               `{"user_id":"u1","broadcast":true,"alert":{"kind":"fire","source":"cam2"}}`,
			expectedSkip:          true,
			expectedErrorContains: "mutually exclusive",
		},
		{
			name:                  "Failure - alert without kind",
			payload:               `{"user_id":"u1","alert":{"source":"cam2"}}`,
			expectedSkip:          true,
			expectedErrorContains: "kind is required",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// Act
			req, skip, err := pipeline.AlertRequestTransformer(ctx, &pipeline.Message{ID: "msg-1", Payload: []byte(tc.payload)})

			// Assert
			assert.Equal(t, tc.expectedSkip, skip)
			if tc.expectedErrorContains != "" {
				require.Error(t, err)
				assert.Nil(t, req)
				assert.Contains(t, err.Error(), tc.expectedErrorContains)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, req)
			tc.check(t, req)
		})
	}
}

func TestDecodeAlertRequest_Errors(t *testing.T) {
	_, err := pipeline.DecodeAlertRequest([]byte(`[]`))
	assert.ErrorIs(t, err, pipeline.ErrInvalidRequest)

	_, err = pipeline.DecodeAlertRequest([]byte(`{"user_id":"u1","alert":{"kind":"fire"}}`))
	assert.ErrorIs(t, err, alerting.ErrInvalidAlert)
}
