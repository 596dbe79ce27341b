// Package alerting contains the public domain types for the alert delivery
// service. It defines the contract between alert producers (detection
// workers, the HTTP API) and the delivery core.
package alerting

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidAlert is returned when an AlertMessage violates its contract.
var ErrInvalidAlert = errors.New("invalid alert message")

// AlertMessage is a single, already-formed security alert.
//
// An AlertMessage is a value: once created it must not be mutated, which
// makes it safe to queue, serialize and hand to any delivery channel.
type AlertMessage struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
	Details   json.RawMessage `json:"details,omitempty"`
}

// NewAlert builds a validated AlertMessage with a fresh ID. Details may be
// nil, a json.RawMessage, or any value that marshals to JSON.
func NewAlert(kind, source string, ts time.Time, details any) (AlertMessage, error) {
	var raw json.RawMessage
	switch d := details.(type) {
	case nil:
	case json.RawMessage:
		raw = append(json.RawMessage(nil), d...)
	default:
		b, err := json.Marshal(d)
		if err != nil {
			return AlertMessage{}, fmt.Errorf("%w: details: %v", ErrInvalidAlert, err)
		}
		raw = b
	}

	alert := AlertMessage{
		ID:        uuid.NewString(),
		Kind:      kind,
		Source:    source,
		Timestamp: ts.UTC(),
		Details:   raw,
	}
	if err := alert.Validate(); err != nil {
		return AlertMessage{}, err
	}
	return alert, nil
}

// Validate checks the fields every delivery path relies on.
func (a AlertMessage) Validate() error {
	if a.Kind == "" {
		return fmt.Errorf("%w: kind is required", ErrInvalidAlert)
	}
	if a.Source == "" {
		return fmt.Errorf("%w: source is required", ErrInvalidAlert)
	}
	if a.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is required", ErrInvalidAlert)
	}
	if len(a.Details) > 0 && !json.Valid(a.Details) {
		return fmt.Errorf("%w: details are not valid JSON", ErrInvalidAlert)
	}
	return nil
}

// liveEvent is the frame pushed to live connections.
type liveEvent struct {
	Event     string          `json:"event"`
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	CameraID  string          `json:"camera_id"`
	Timestamp time.Time       `json:"timestamp"`
	Details   json.RawMessage `json:"details,omitempty"`
}

// Payload renders the alert as the frame sent over live connections.
func (a AlertMessage) Payload() ([]byte, error) {
	b, err := json.Marshal(liveEvent{
		Event:     "alert",
		ID:        a.ID,
		Type:      a.Kind,
		CameraID:  a.Source,
		Timestamp: a.Timestamp,
		Details:   a.Details,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal alert %s: %w", a.ID, err)
	}
	return b, nil
}
