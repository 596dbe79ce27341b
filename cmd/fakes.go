package cmd

import (
	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-alerting-service/internal/fallback"
	"github.com/tinywideclouds/go-alerting-service/internal/test/fakes"
)

// LocalUserID is the one user the local directory knows about.
const LocalUserID = "local-user"

// NewFakeFallback creates an in-memory directory and log-only channels for
// local development. Nothing leaves the process.
func NewFakeFallback(logger zerolog.Logger) (fallback.Directory, []fallback.Channel) {
	dir := fakes.NewDirectory(fallback.Contact{
		UserID:         LocalUserID,
		Phone:          "+2348000000000",
		TelegramChatID: "1000",
		PushRecipient:  LocalUserID,
	})
	channels := []fallback.Channel{
		fakes.NewLogChannel("sms", func(c fallback.Contact) string { return c.Phone }, logger),
		fakes.NewLogChannel("telegram", func(c fallback.Contact) string { return c.TelegramChatID }, logger),
		fakes.NewLogChannel("push", func(c fallback.Contact) string { return c.PushRecipient }, logger),
	}
	return dir, channels
}
