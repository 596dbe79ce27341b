// --- File: internal/pipeline/transformer_alert.go ---
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tinywideclouds/go-alerting-service/pkg/alerting"
)

// ErrInvalidRequest is returned for payloads that are not a usable
// AlertRequest.
var ErrInvalidRequest = errors.New("invalid alert request")

// Message is one raw payload taken off the alert bus.
type Message struct {
	ID      string
	Payload []byte
}

// DecodeAlertRequest unmarshals and validates an AlertRequest.
//
// Producers may leave the alert ID and timestamp empty; they are filled
// here so every alert that enters the service carries both. Exactly one of
// user_id or broadcast must be set.
func DecodeAlertRequest(payload []byte) (alerting.AlertRequest, error) {
	var req alerting.AlertRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return alerting.AlertRequest{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	switch {
	case req.UserID == "" && !req.Broadcast:
		return alerting.AlertRequest{}, fmt.Errorf("%w: one of user_id or broadcast is required", ErrInvalidRequest)
	case req.UserID != "" && req.Broadcast:
		return alerting.AlertRequest{}, fmt.Errorf("%w: user_id and broadcast are mutually exclusive", ErrInvalidRequest)
	}

	if req.Alert.ID == "" {
		req.Alert.ID = uuid.NewString()
	}
	if req.Alert.Timestamp.IsZero() {
		req.Alert.Timestamp = time.Now().UTC()
	}
	if err := req.Alert.Validate(); err != nil {
		return alerting.AlertRequest{}, err
	}
	return req, nil
}

// AlertRequestTransformer is the bus stage in front of the processor. A
// message that cannot be decoded is marked for skipping and its error
// returned so the consumer can report it.
func AlertRequestTransformer(_ context.Context, msg *Message) (*alerting.AlertRequest, bool, error) {
	req, err := DecodeAlertRequest(msg.Payload)
	if err != nil {
		return nil, true, fmt.Errorf("failed to decode alert request from message %s: %w", msg.ID, err)
	}
	return &req, false, nil
}
