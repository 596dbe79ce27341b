// --- File: internal/platform/push/notifier.go ---
package push

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-alerting-service/internal/fallback"
)

// EventProducer defines the interface for publishing a message.
type EventProducer interface {
	Publish(ctx context.Context, data []byte, attributes map[string]string) (string, error)
}

// PubSubNotifier implements fallback.Channel by handing a notification
// request to the push service over the message bus. "Sent" means the bus
// accepted the request, not that a device displayed it.
type PubSubNotifier struct {
	producer EventProducer
	logger   zerolog.Logger
}

// NotificationRequest is the contract consumed by the push service.
type NotificationRequest struct {
	RequestID   string              `json:"requestId"`
	RecipientID string              `json:"recipientId"`
	Content     NotificationContent `json:"content"`
	DataPayload map[string]string   `json:"dataPayload,omitempty"`
}

type NotificationContent struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Sound string `json:"sound,omitempty"`
}

func NewPubSubNotifier(producer EventProducer, logger zerolog.Logger) (*PubSubNotifier, error) {
	if producer == nil {
		return nil, fmt.Errorf("producer cannot be nil")
	}
	return &PubSubNotifier{
		producer: producer,
		logger:   logger.With().Str("component", "PubSubNotifier").Logger(),
	}, nil
}

func (n *PubSubNotifier) Name() string { return "push" }

func (n *PubSubNotifier) Address(contact fallback.Contact) string { return contact.PushRecipient }

// Send publishes one notification request for the recipient.
func (n *PubSubNotifier) Send(ctx context.Context, address, text string) error {
	request := NotificationRequest{
		RequestID:   uuid.NewString(),
		RecipientID: address,
		Content: NotificationContent{
			Title: "Security alert",
			Body:  text,
			Sound: "default",
		},
		DataPayload: map[string]string{
			"url":      "/alerts",
			"msg_type": "security_alert",
		},
	}

	payloadBytes, err := json.Marshal(request)
	if err != nil {
		n.logger.Error().Err(err).Msg("Failed to marshal notification request")
		return fmt.Errorf("failed to marshal notification request: %w", err)
	}

	n.logger.Debug().Str("recipient", address).Str("request_id", request.RequestID).Msg("Publishing notification request")

	_, err = n.producer.Publish(ctx, payloadBytes, map[string]string{"msg_type": "security_alert"})
	if err != nil {
		return fmt.Errorf("failed to publish notification request: %w", err)
	}
	return nil
}
