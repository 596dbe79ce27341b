// --- File: internal/queue/interfaces.go ---
// Package queue defines the per-user pending alert queue used to backfill
// users who had no live connection when an alert was dispatched.
package queue

import (
	"context"

	"github.com/tinywideclouds/go-alerting-service/pkg/alerting"
)

// DefaultCapacity is the per-user bound applied when none is configured.
const DefaultCapacity = 50

// SendFunc attempts live delivery of one queued alert.
type SendFunc func(alert alerting.AlertMessage) error

// Store is a bounded, per-user FIFO of undelivered alerts.
//
// Implementations serialise operations on one user's queue and never let
// one user's operations block another's. Overflow is resolved by dropping
// the oldest entries, never by returning an error.
type Store interface {
	// Enqueue appends an alert to the tail of the user's queue, evicting
	// from the head until the queue is back within its bound.
	Enqueue(ctx context.Context, userID string, alert alerting.AlertMessage) error

	// DrainFront calls send for each queued alert, oldest first, and stops
	// at the first failure. Only the successfully sent prefix is removed.
	// It returns the number of alerts still queued.
	DrainFront(ctx context.Context, userID string, send SendFunc) (int, error)

	// PeekAll returns an ordered snapshot of the user's queue without
	// removing anything.
	PeekAll(ctx context.Context, userID string) ([]alerting.AlertMessage, error)
}
