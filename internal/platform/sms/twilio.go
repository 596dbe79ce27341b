// Package sms delivers fallback alerts as SMS and WhatsApp messages through
// Twilio's messaging API.
package sms

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/tinywideclouds/go-alerting-service/internal/fallback"
)

const (
	DefaultCountryCode = "+234"
	whatsappPrefix     = "whatsapp:"
)

// Config carries the Twilio credentials and sender numbers.
type Config struct {
	AccountSID         string
	AuthToken          string
	SMSFrom            string
	WhatsAppFrom       string
	DefaultCountryCode string
}

// messageCreator is the subset of the Twilio v2010 API used here.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// Channel implements fallback.Channel for one Twilio sender.
type Channel struct {
	name        string
	from        string
	whatsapp    bool
	countryCode string
	api         messageCreator
	logger      zerolog.Logger
}

// NewSMSChannel returns the plain SMS channel, or
// fallback.ErrChannelUnavailable when credentials or the sender are missing.
func NewSMSChannel(cfg Config, logger zerolog.Logger) (*Channel, error) {
	if err := cfg.validate(cfg.SMSFrom); err != nil {
		return nil, err
	}
	return newChannel("sms", cfg.SMSFrom, false, cfg.DefaultCountryCode, newRestAPI(cfg), logger), nil
}

// NewWhatsAppChannel returns the WhatsApp channel. Both ends are given the
// "whatsapp:" prefix Twilio expects.
func NewWhatsAppChannel(cfg Config, logger zerolog.Logger) (*Channel, error) {
	if err := cfg.validate(cfg.WhatsAppFrom); err != nil {
		return nil, err
	}
	from := cfg.WhatsAppFrom
	if !strings.HasPrefix(from, whatsappPrefix) {
		from = whatsappPrefix + from
	}
	return newChannel("whatsapp", from, true, cfg.DefaultCountryCode, newRestAPI(cfg), logger), nil
}

func (cfg Config) validate(from string) error {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return fmt.Errorf("twilio credentials missing: %w", fallback.ErrChannelUnavailable)
	}
	if from == "" {
		return fmt.Errorf("twilio sender number missing: %w", fallback.ErrChannelUnavailable)
	}
	return nil
}

func newRestAPI(cfg Config) messageCreator {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return client.Api
}

func newChannel(name, from string, whatsapp bool, countryCode string, api messageCreator, logger zerolog.Logger) *Channel {
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}
	return &Channel{
		name:        name,
		from:        from,
		whatsapp:    whatsapp,
		countryCode: countryCode,
		api:         api,
		logger:      logger.With().Str("component", "TwilioChannel").Str("channel", name).Logger(),
	}
}

func (c *Channel) Name() string { return c.name }

// Address normalises the contact's phone number for this channel.
func (c *Channel) Address(contact fallback.Contact) string {
	phone := NormalizePhone(contact.Phone, c.countryCode)
	if phone == "" {
		return ""
	}
	if c.whatsapp {
		return whatsappPrefix + phone
	}
	return phone
}

// Send creates one outbound message. The Twilio client is not
// context-aware, so the call is abandoned, not aborted, when ctx ends.
func (c *Channel) Send(ctx context.Context, address, text string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(address)
	params.SetFrom(c.from)
	params.SetBody(text)

	type result struct {
		sid string
		err error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := c.api.CreateMessage(params)
		r := result{err: err}
		if err == nil && resp != nil && resp.Sid != nil {
			r.sid = *resp.Sid
		}
		done <- r
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return fmt.Errorf("twilio %s send failed: %w", c.name, r.err)
		}
		c.logger.Debug().Str("sid", r.sid).Msg("Twilio message queued")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NormalizePhone strips formatting and converts a national number to E.164
// using countryCode. A single leading trunk zero is dropped, so
// "0803 123 4567" with "+234" becomes "+2348031234567".
func NormalizePhone(raw, countryCode string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && b.Len() == 0:
			b.WriteRune(r)
		}
	}
	phone := b.String()

	switch {
	case phone == "" || phone == "+":
		return ""
	case strings.HasPrefix(phone, "+"):
		return phone
	case strings.HasPrefix(phone, "00"):
		return "+" + phone[2:]
	}

	if !strings.HasPrefix(countryCode, "+") {
		countryCode = "+" + countryCode
	}
	return countryCode + strings.TrimPrefix(phone, "0")
}
