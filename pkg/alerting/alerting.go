// --- File: pkg/alerting/alerting.go ---
package alerting

import (
	"errors"
	"time"
)

// ErrEmptyUserID is returned when a targeted delivery names no recipient.
var ErrEmptyUserID = errors.New("user id cannot be empty")

// AlertRequest is the ingress contract shared by the message bus consumer
// and the HTTP API. Exactly one of UserID or Broadcast must be set.
type AlertRequest struct {
	UserID    string       `json:"user_id,omitempty"`
	Broadcast bool         `json:"broadcast,omitempty"`
	Alert     AlertMessage `json:"alert"`
}

// Delivery outcomes recorded for every dispatch decision.
const (
	OutcomeDelivered = "delivered"
	OutcomeQueued    = "queued"
	OutcomeBroadcast = "broadcast"
)

// DeliveryRecord is one row of the delivery audit trail.
type DeliveryRecord struct {
	AlertID   string    `json:"alert_id"`
	UserID    string    `json:"user_id,omitempty"` // empty for broadcasts
	Kind      string    `json:"kind"`
	Source    string    `json:"source"`
	Outcome   string    `json:"outcome"`
	Delivered int       `json:"delivered"` // connections reached by a broadcast, 1 for a live targeted delivery
	Sent      int       `json:"fallback_sent"`
	Skipped   int       `json:"fallback_skipped"`
	Failed    int       `json:"fallback_failed"`
	At        time.Time `json:"at"`
}
