// Package dispatch decides, for every alert, between live delivery and the
// queue-plus-fallback path.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-alerting-service/internal/fallback"
	"github.com/tinywideclouds/go-alerting-service/internal/realtime"
	"github.com/tinywideclouds/go-alerting-service/pkg/alerting"
)

// DefaultDeliveryTimeout bounds one Dispatch or Broadcast once it has
// started, independent of the caller's context.
const DefaultDeliveryTimeout = 30 * time.Second

// LiveDelivery is the part of the connection registry the dispatcher uses.
type LiveDelivery interface {
	// Deliver sends to every live connection of the user; onMiss runs while
	// the user's delivery order is still held if nobody received it.
	Deliver(ctx context.Context, userID string, payload []byte, onMiss func()) bool
	Broadcast(ctx context.Context, payload []byte) realtime.BroadcastReport
}

// PendingQueue receives alerts that found no live recipient.
type PendingQueue interface {
	Enqueue(ctx context.Context, userID string, alert alerting.AlertMessage) error
}

// FallbackNotifier pushes an alert through out-of-band channels.
type FallbackNotifier interface {
	Notify(ctx context.Context, userID string, alert alerting.AlertMessage) fallback.Report
}

// Recorder receives every dispatch outcome. Errors are logged and ignored.
type Recorder interface {
	RecordDelivery(ctx context.Context, rec alerting.DeliveryRecord) error
}

// Result describes what happened to one targeted alert.
type Result struct {
	Outcome  string
	Fallback fallback.Report
	// QueueErr is set when the pending queue backend rejected the alert.
	// The fallback was still attempted.
	QueueErr error
}

// BroadcastResult describes one broadcast.
type BroadcastResult struct {
	realtime.BroadcastReport
}

// Dispatcher routes alerts to users.
type Dispatcher struct {
	live     LiveDelivery
	pending  PendingQueue
	notifier FallbackNotifier
	recorder Recorder
	timeout  time.Duration
	logger   zerolog.Logger
}

// Option configures optional Dispatcher collaborators.
type Option func(*Dispatcher)

// WithRecorder attaches an audit recorder.
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

// WithDeliveryTimeout overrides DefaultDeliveryTimeout.
func WithDeliveryTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.timeout = t
		}
	}
}

func NewDispatcher(live LiveDelivery, pending PendingQueue, notifier FallbackNotifier, logger zerolog.Logger, opts ...Option) (*Dispatcher, error) {
	if live == nil {
		return nil, fmt.Errorf("live delivery cannot be nil")
	}
	if pending == nil {
		return nil, fmt.Errorf("pending queue cannot be nil")
	}
	if notifier == nil {
		return nil, fmt.Errorf("fallback notifier cannot be nil")
	}
	d := &Dispatcher{
		live:     live,
		pending:  pending,
		notifier: notifier,
		timeout:  DefaultDeliveryTimeout,
		logger:   logger.With().Str("component", "Dispatcher").Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Dispatch delivers alert to userID.
//
// If any live connection accepts it the alert is delivered and nothing else
// happens. Otherwise it is queued for the next connect and the fallback
// channels are notified, once. Only invalid input is returned as an error;
// delivery problems are reported in the Result.
//
// Once the input is accepted the decision runs to completion even if ctx is
// cancelled: a caller that stops waiting must neither evict the user's
// connections nor leave the alert unqueued.
func (d *Dispatcher) Dispatch(ctx context.Context, userID string, alert alerting.AlertMessage) (Result, error) {
	if userID == "" {
		return Result{}, alerting.ErrEmptyUserID
	}
	if err := alert.Validate(); err != nil {
		return Result{}, err
	}
	payload, err := alert.Payload()
	if err != nil {
		return Result{}, err
	}
	log := d.logger.With().Str("user", userID).Str("alert", alert.ID).Str("kind", alert.Kind).Logger()

	ctx, cancel := d.detach(ctx)
	defer cancel()

	var queueErr error
	delivered := d.live.Deliver(ctx, userID, payload, func() {
		queueErr = d.pending.Enqueue(ctx, userID, alert)
	})

	if delivered {
		log.Info().Msg("Alert delivered live")
		res := Result{Outcome: alerting.OutcomeDelivered}
		d.record(ctx, alert, userID, res, 1)
		return res, nil
	}

	if queueErr != nil {
		log.Error().Err(queueErr).Msg("Failed to queue alert, relying on fallback")
	}

	report := d.notifier.Notify(ctx, userID, alert)
	res := Result{Outcome: alerting.OutcomeQueued, Fallback: report, QueueErr: queueErr}

	log.Info().
		Int("sent", report.Count(fallback.OutcomeSent)).
		Int("skipped", report.Count(fallback.OutcomeSkipped)).
		Int("failed", report.Count(fallback.OutcomeFailed)).
		Msg("No live connection, alert queued and fallback attempted")
	d.record(ctx, alert, userID, res, 0)
	return res, nil
}

// Broadcast sends alert to every live connection. Offline users are not
// queued for and no fallback is attempted.
func (d *Dispatcher) Broadcast(ctx context.Context, alert alerting.AlertMessage) (BroadcastResult, error) {
	if err := alert.Validate(); err != nil {
		return BroadcastResult{}, err
	}
	payload, err := alert.Payload()
	if err != nil {
		return BroadcastResult{}, err
	}

	ctx, cancel := d.detach(ctx)
	defer cancel()

	report := d.live.Broadcast(ctx, payload)
	d.logger.Info().
		Str("alert", alert.ID).
		Int("users", report.Users).
		Int("delivered", report.Delivered).
		Msg("Alert broadcast")

	res := BroadcastResult{BroadcastReport: report}
	d.record(ctx, alert, "", Result{Outcome: alerting.OutcomeBroadcast}, report.Delivered)
	return res, nil
}

// detach keeps ctx's values but not its cancellation, bounded by the
// delivery timeout.
func (d *Dispatcher) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
}

func (d *Dispatcher) record(ctx context.Context, alert alerting.AlertMessage, userID string, res Result, delivered int) {
	if d.recorder == nil {
		return
	}
	rec := alerting.DeliveryRecord{
		AlertID:   alert.ID,
		UserID:    userID,
		Kind:      alert.Kind,
		Source:    alert.Source,
		Outcome:   res.Outcome,
		Delivered: delivered,
		Sent:      res.Fallback.Count(fallback.OutcomeSent),
		Skipped:   res.Fallback.Count(fallback.OutcomeSkipped),
		Failed:    res.Fallback.Count(fallback.OutcomeFailed),
		At:        time.Now().UTC(),
	}
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.recorder.RecordDelivery(recCtx, rec); err != nil {
		d.logger.Warn().Err(err).Str("alert", alert.ID).Msg("Failed to record delivery")
	}
}
