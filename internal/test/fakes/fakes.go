// Package fakes holds in-memory stand-ins for external systems, used for
// local runs and tests.
package fakes

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-alerting-service/internal/fallback"
)

// --- Directory ---

// Directory is an in-memory fallback.Directory.
type Directory struct {
	mu       sync.RWMutex
	contacts map[string]fallback.Contact
}

func NewDirectory(contacts ...fallback.Contact) *Directory {
	d := &Directory{contacts: make(map[string]fallback.Contact, len(contacts))}
	for _, c := range contacts {
		d.contacts[c.UserID] = c
	}
	return d
}

func (d *Directory) Lookup(_ context.Context, userID string) (fallback.Contact, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.contacts[userID]
	if !ok {
		return fallback.Contact{}, fallback.ErrContactNotFound
	}
	return c, nil
}

func (d *Directory) PutContact(_ context.Context, c fallback.Contact) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.contacts[c.UserID] = c
	return nil
}

// --- Channel ---

// Sent is one message captured by a LogChannel.
type Sent struct {
	Address string
	Text    string
}

// LogChannel is a fallback.Channel that logs and records instead of
// sending. Address picks the contact field the named real channel would.
type LogChannel struct {
	name   string
	pick   func(fallback.Contact) string
	logger zerolog.Logger

	mu   sync.Mutex
	sent []Sent
}

func NewLogChannel(name string, pick func(fallback.Contact) string, logger zerolog.Logger) *LogChannel {
	return &LogChannel{
		name:   name,
		pick:   pick,
		logger: logger.With().Str("component", "FakeChannel").Str("channel", name).Logger(),
	}
}

func (c *LogChannel) Name() string { return c.name }
func (c *LogChannel) Address(ct fallback.Contact) string { return c.pick(ct) }

func (c *LogChannel) Send(_ context.Context, address, text string) error {
	c.mu.Lock()
	c.sent = append(c.sent, Sent{Address: address, Text: text})
	c.mu.Unlock()
	c.logger.Info().Str("to", address).Str("text", text).Msg("Fake fallback send")
	return nil
}

// Sent returns a copy of everything sent so far.
func (c *LogChannel) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}
