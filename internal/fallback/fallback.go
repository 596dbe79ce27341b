// Package fallback notifies users through out-of-band channels (SMS, chat,
// push) when an alert could not be delivered live.
package fallback

import (
	"context"
	"errors"
)

var (
	// ErrContactNotFound is returned by a Directory that has no record of the user.
	ErrContactNotFound = errors.New("contact not found")
	// ErrChannelUnavailable means a channel is not configured. It is
	// reported as skipped, never as failed.
	ErrChannelUnavailable = errors.New("notification channel unavailable")
)

// Contact holds the out-of-band addresses of one user. Empty fields mean
// the user has no address on that channel.
type Contact struct {
	UserID         string `json:"user_id"`
	Phone          string `json:"phone,omitempty"`
	TelegramChatID string `json:"telegram_chat_id,omitempty"`
	PushRecipient  string `json:"push_recipient,omitempty"`
}

// Directory resolves a user's contact details.
type Directory interface {
	Lookup(ctx context.Context, userID string) (Contact, error)
}

// Channel is one out-of-band notification transport.
type Channel interface {
	Name() string
	// Address picks this channel's destination out of a contact; empty
	// means the user cannot be reached on this channel.
	Address(c Contact) string
	Send(ctx context.Context, address, text string) error
}

// Outcome of one channel for one alert.
type Outcome string

const (
	OutcomeSent    Outcome = "sent"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// ChannelResult is the outcome of a single channel.
type ChannelResult struct {
	Channel string
	Outcome Outcome
	Err     error
}

// Report collects the per-channel outcomes of one Notify call, in channel
// registration order.
type Report struct {
	Results []ChannelResult
}

// Count returns how many channels ended with outcome o.
func (r Report) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}
