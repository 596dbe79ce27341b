package fallback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tinywideclouds/go-alerting-service/pkg/alerting"
)

const (
	DefaultTimeout    = 10 * time.Second
	DefaultRatePerSec = 3
)

// Config tunes every registered channel alike.
type Config struct {
	// Timeout bounds the directory lookup and each channel's rate-limit
	// wait plus send.
	Timeout time.Duration
	// RatePerSec is the token-bucket rate per channel; burst is the same.
	RatePerSec int
}

type limitedChannel struct {
	Channel
	limiter *rate.Limiter
}

// Notifier fans an alert out to every registered channel.
type Notifier struct {
	directory Directory
	channels  []limitedChannel
	timeout   time.Duration
	logger    zerolog.Logger
}

// NewNotifier creates a Notifier. A notifier with no channels is valid and
// reports nothing.
func NewNotifier(directory Directory, channels []Channel, cfg Config, logger zerolog.Logger) (*Notifier, error) {
	if directory == nil {
		return nil, fmt.Errorf("directory cannot be nil")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = DefaultRatePerSec
	}

	n := &Notifier{
		directory: directory,
		timeout:   cfg.Timeout,
		logger:    logger.With().Str("component", "FallbackNotifier").Logger(),
	}
	for _, ch := range channels {
		if ch == nil {
			return nil, fmt.Errorf("channel cannot be nil")
		}
		n.channels = append(n.channels, limitedChannel{
			Channel: ch,
			limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		})
	}
	return n, nil
}

// Channels lists the registered channel names.
func (n *Notifier) Channels() []string {
	names := make([]string, len(n.channels))
	for i, ch := range n.channels {
		names[i] = ch.Name()
	}
	return names
}

// Notify looks up the user's contact and attempts every channel
// concurrently. It never returns an error: each channel's outcome is in
// the Report and failures are logged.
func (n *Notifier) Notify(ctx context.Context, userID string, alert alerting.AlertMessage) Report {
	report := Report{Results: make([]ChannelResult, len(n.channels))}
	if len(n.channels) == 0 {
		return report
	}
	log := n.logger.With().Str("user", userID).Str("alert", alert.ID).Logger()

	lookupCtx, cancel := context.WithTimeout(ctx, n.timeout)
	contact, err := n.directory.Lookup(lookupCtx, userID)
	cancel()
	if err != nil {
		outcome := OutcomeFailed
		if errors.Is(err, ErrContactNotFound) {
			outcome = OutcomeSkipped
			log.Info().Msg("No contact on file, skipping fallback channels")
		} else {
			log.Error().Err(err).Msg("Contact lookup failed")
		}
		for i, ch := range n.channels {
			report.Results[i] = ChannelResult{Channel: ch.Name(), Outcome: outcome, Err: err}
		}
		return report
	}

	text := Render(alert)

	var wg sync.WaitGroup
	for i, ch := range n.channels {
		wg.Add(1)
		go func(i int, ch limitedChannel) {
			defer wg.Done()
			report.Results[i] = n.attempt(ctx, ch, contact, text)
		}(i, ch)
	}
	wg.Wait()

	for _, res := range report.Results {
		ev := log.Debug()
		if res.Outcome == OutcomeFailed {
			ev = log.Error().Err(res.Err)
		}
		ev.Str("channel", res.Channel).Str("outcome", string(res.Outcome)).Msg("Fallback channel attempted")
	}
	return report
}

func (n *Notifier) attempt(ctx context.Context, ch limitedChannel, contact Contact, text string) ChannelResult {
	res := ChannelResult{Channel: ch.Name()}

	address := ch.Address(contact)
	if address == "" {
		res.Outcome = OutcomeSkipped
		return res
	}

	sendCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	if err := ch.limiter.Wait(sendCtx); err != nil {
		res.Outcome = OutcomeFailed
		res.Err = fmt.Errorf("rate limit wait: %w", err)
		return res
	}

	err := ch.Send(sendCtx, address, text)
	switch {
	case err == nil:
		res.Outcome = OutcomeSent
	case errors.Is(err, ErrChannelUnavailable):
		res.Outcome = OutcomeSkipped
		res.Err = err
	default:
		res.Outcome = OutcomeFailed
		res.Err = err
	}
	return res
}
