/*
File: internal/platform/pubsub/producer_pubsub.go
Description: Thin publisher over a Google Cloud Pub/Sub topic.
*/
// Package pubsub contains concrete adapters for interacting with Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub/v2"
)

// pubsubTopicClient defines the interface for the underlying publisher.
// This allows us to use a mock for testing.
type pubsubTopicClient interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
}

// Producer publishes raw payloads to a Pub/Sub topic and waits for the
// server to acknowledge each one.
type Producer struct {
	topic pubsubTopicClient
}

// NewProducer is the constructor for the Pub/Sub producer.
// It takes a topic client that it will publish messages to.
func NewProducer(topic pubsubTopicClient) (*Producer, error) {
	if topic == nil {
		return nil, fmt.Errorf("topic cannot be nil")
	}
	return &Producer{
		topic: topic,
	}, nil
}

// Publish sends data with optional attributes and returns the server
// assigned message ID.
func (p *Producer) Publish(ctx context.Context, data []byte, attributes map[string]string) (string, error) {
	message := &pubsub.Message{
		Data:       data,
		Attributes: attributes,
	}

	// Publish the message and wait for the result.
	result := p.topic.Publish(ctx, message)
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to publish message: %w", err)
	}
	return id, nil
}
