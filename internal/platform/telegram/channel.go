// Package telegram delivers fallback alerts as Telegram chat messages.
package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	tele "gopkg.in/telebot.v4"

	"github.com/tinywideclouds/go-alerting-service/internal/fallback"
)

// Telegram rejects messages above this many characters.
const textLimit = 4096

// sender is the subset of *tele.Bot used here.
type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Channel implements fallback.Channel over the Bot API.
type Channel struct {
	bot    sender
	logger zerolog.Logger
}

// NewChannel builds an offline bot client: no updates are polled, the bot
// only sends. An empty token yields fallback.ErrChannelUnavailable.
func NewChannel(token string, logger zerolog.Logger) (*Channel, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token missing: %w", fallback.ErrChannelUnavailable)
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   token,
		Offline: true,
		Client:  &http.Client{Timeout: 8 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return newChannel(b, logger), nil
}

func newChannel(bot sender, logger zerolog.Logger) *Channel {
	return &Channel{
		bot:    bot,
		logger: logger.With().Str("component", "TelegramChannel").Logger(),
	}
}

func (c *Channel) Name() string { return "telegram" }

func (c *Channel) Address(contact fallback.Contact) string { return contact.TelegramChatID }

// Send posts text to the chat. The bot client has no context support, so a
// cancelled ctx abandons the call rather than aborting it.
func (c *Channel) Send(ctx context.Context, address, text string) error {
	chatID, err := strconv.ParseInt(address, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", address, err)
	}
	if r := []rune(text); len(r) > textLimit {
		text = string(r[:textLimit-1]) + "…"
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := c.bot.Send(&tele.Chat{ID: chatID}, text, &tele.SendOptions{DisableWebPagePreview: true})
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("telegram send failed: %w", err)
		}
		c.logger.Debug().Int64("chat", chatID).Msg("Telegram alert sent")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
