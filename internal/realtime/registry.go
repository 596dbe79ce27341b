/*
File: internal/realtime/registry.go
Description: The connection registry. Maps users to their live connections,
drains pending alerts on connect and self-heals on send failure.
*/
package realtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/moby/locker"
	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-alerting-service/internal/queue"
	"github.com/tinywideclouds/go-alerting-service/pkg/alerting"
)

// DefaultSendTimeout bounds a single send to a single connection.
const DefaultSendTimeout = 5 * time.Second

// DefaultDrainTimeout bounds one drain-on-connect as a whole. The drain
// holds the user's ordering lock, so this is also the longest a slow new
// device can hold up live sends to the user's other devices.
const DefaultDrainTimeout = 10 * time.Second

// Connection is a live, already-authenticated duplex channel to one device.
type Connection interface {
	ID() string
	Send(ctx context.Context, payload []byte) error
	Close() error
}

// Drainer is the part of the pending queue the registry needs on connect.
type Drainer interface {
	DrainFront(ctx context.Context, userID string, send queue.SendFunc) (int, error)
}

// BroadcastReport summarises one broadcast.
type BroadcastReport struct {
	Users       int
	Connections int
	Delivered   int
	Evicted     int
}

// userConns is one user's connection set. mu is never held across I/O.
type userConns struct {
	mu      sync.Mutex
	conns   map[string]Connection
	removed bool
}

// Registry tracks live connections per user.
//
// Locking is two-level: mu guards the user map for short lookups only, and
// each userConns guards its own set. A separate per-user ordering lock
// serialises that user's drains and live sends, so alerts queued before a
// connect always reach the new connection ahead of later alerts. Nothing
// here ever blocks one user on another.
type Registry struct {
	mu           sync.RWMutex
	users        map[string]*userConns
	order        *locker.Locker
	pending      Drainer
	sendTimeout  time.Duration
	drainTimeout time.Duration
	logger       zerolog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithDrainTimeout overrides DefaultDrainTimeout. It is never lower than
// the send timeout.
func WithDrainTimeout(d time.Duration) Option {
	return func(r *Registry) { r.drainTimeout = d }
}

// NewRegistry creates an empty Registry that drains from pending on connect.
func NewRegistry(pending Drainer, sendTimeout time.Duration, logger zerolog.Logger, opts ...Option) (*Registry, error) {
	if pending == nil {
		return nil, fmt.Errorf("pending queue cannot be nil")
	}
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	r := &Registry{
		users:        make(map[string]*userConns),
		order:        locker.New(),
		pending:      pending,
		sendTimeout:  sendTimeout,
		drainTimeout: DefaultDrainTimeout,
		logger:       logger.With().Str("component", "Registry").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.drainTimeout < sendTimeout {
		r.drainTimeout = sendTimeout
	}
	return r, nil
}

// Register adds conn to the user's set and then drains the user's pending
// alerts over conn only, oldest first. Draining stops at the first failed
// send or when the drain timeout runs out; either evicts conn so that later
// live alerts cannot overtake the ones still queued. It returns the number
// of alerts left queued. A queue backend error is logged, not returned.
func (r *Registry) Register(ctx context.Context, userID string, conn Connection) (int, error) {
	if userID == "" {
		return 0, alerting.ErrEmptyUserID
	}
	if conn == nil {
		return 0, fmt.Errorf("connection cannot be nil")
	}
	log := r.logger.With().Str("user", userID).Str("conn", conn.ID()).Logger()

	unlock := r.lockOrder(userID)
	defer unlock()

	count := r.add(userID, conn)
	log.Info().Int("connections", count).Msg("Connection registered")

	drainCtx, cancel := context.WithTimeout(ctx, r.drainTimeout)
	defer cancel()

	var sendErr error
	remaining, err := r.pending.DrainFront(drainCtx, userID, func(alert alerting.AlertMessage) error {
		payload, err := alert.Payload()
		if err != nil {
			return err
		}
		if err := r.sendOne(drainCtx, conn, payload); err != nil {
			sendErr = err
			return err
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		log.Error().Err(err).Msg("Failed to drain pending alerts")
	}

	switch {
	case ctx.Err() != nil:
		// The caller is tearing conn down and deregisters it itself.
		log.Debug().Err(ctx.Err()).Int("remaining", remaining).Msg("Drain abandoned by caller")
	case drainCtx.Err() != nil && remaining > 0:
		log.Warn().Dur("drain_timeout", r.drainTimeout).Int("remaining", remaining).Msg("Drain timed out, evicting connection")
		r.evict(userID, conn)
	case sendErr != nil:
		log.Warn().Err(sendErr).Int("remaining", remaining).Msg("Drain send failed, evicting connection")
		r.evict(userID, conn)
	}
	return remaining, nil
}

// Deregister removes conn from the user's set, dropping the user once the
// set is empty. Unknown users or connections are ignored.
func (r *Registry) Deregister(userID string, conn Connection) {
	if conn == nil {
		return
	}
	if r.remove(userID, conn) {
		r.logger.Info().Str("user", userID).Str("conn", conn.ID()).Msg("Connection deregistered")
	}
}

// SendToUser sends payload to every live connection of the user and reports
// whether at least one accepted it. Failing connections are evicted.
func (r *Registry) SendToUser(ctx context.Context, userID string, payload []byte) bool {
	return r.Deliver(ctx, userID, payload, nil)
}

// Deliver is SendToUser with a miss hook: when no connection accepted the
// payload, onMiss runs before the user's ordering lock is released, so a
// connect for this user cannot interleave between the miss and onMiss.
func (r *Registry) Deliver(ctx context.Context, userID string, payload []byte, onMiss func()) bool {
	unlock := r.lockOrder(userID)
	defer unlock()

	delivered, _ := r.sendAll(ctx, userID, r.snapshot(userID), payload)
	if delivered == 0 && onMiss != nil {
		onMiss()
	}
	return delivered > 0
}

// Broadcast sends payload to every connection of every connected user.
// Users are served concurrently; nothing is queued for absent users.
func (r *Registry) Broadcast(ctx context.Context, payload []byte) BroadcastReport {
	userIDs := r.ConnectedUserIDs()

	var (
		mu     sync.Mutex
		report = BroadcastReport{Users: len(userIDs)}
		wg     sync.WaitGroup
	)
	for _, userID := range userIDs {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			unlock := r.lockOrder(userID)
			defer unlock()

			conns := r.snapshot(userID)
			delivered, evicted := r.sendAll(ctx, userID, conns, payload)

			mu.Lock()
			report.Connections += len(conns)
			report.Delivered += delivered
			report.Evicted += evicted
			mu.Unlock()
		}(userID)
	}
	wg.Wait()

	r.logger.Info().
		Int("users", report.Users).
		Int("delivered", report.Delivered).
		Int("evicted", report.Evicted).
		Msg("Broadcast complete")
	return report
}

// ConnectedUserIDs returns the sorted IDs of users with a live connection.
func (r *Registry) ConnectedUserIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stats reports the number of connected users and live connections.
func (r *Registry) Stats() (users, connections int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users = len(r.users)
	for _, e := range r.users {
		e.mu.Lock()
		connections += len(e.conns)
		e.mu.Unlock()
	}
	return users, connections
}

// CloseAll empties the registry and closes every connection, giving up on
// stragglers when ctx is done.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	var all []Connection
	for userID, e := range r.users {
		e.mu.Lock()
		for _, c := range e.conns {
			all = append(all, c)
		}
		e.conns = make(map[string]Connection)
		e.removed = true
		e.mu.Unlock()
		delete(r.users, userID)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for _, c := range all {
			wg.Add(1)
			go func(c Connection) {
				defer wg.Done()
				_ = c.Close()
			}(c)
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info().Int("connections", len(all)).Msg("All connections closed")
		return nil
	case <-ctx.Done():
		r.logger.Warn().Int("connections", len(all)).Msg("Timed out closing connections")
		return ctx.Err()
	}
}

// --- Private Helpers ---

func (r *Registry) lockOrder(userID string) func() {
	r.order.Lock(userID)
	return func() { _ = r.order.Unlock(userID) }
}

func (r *Registry) add(userID string, conn Connection) int {
	for {
		r.mu.Lock()
		e, ok := r.users[userID]
		if !ok {
			e = &userConns{conns: make(map[string]Connection)}
			r.users[userID] = e
		}
		r.mu.Unlock()

		e.mu.Lock()
		if e.removed {
			// Lost a race with the last deregister; the map has moved on.
			e.mu.Unlock()
			continue
		}
		e.conns[conn.ID()] = conn
		n := len(e.conns)
		e.mu.Unlock()
		return n
	}
}

// remove deletes conn and reports whether it was present.
func (r *Registry) remove(userID string, conn Connection) bool {
	r.mu.RLock()
	e, ok := r.users[userID]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	e.mu.Lock()
	current, found := e.conns[conn.ID()]
	found = found && current == conn
	if found {
		delete(e.conns, conn.ID())
	}
	empty := len(e.conns) == 0
	e.mu.Unlock()

	if empty {
		r.mu.Lock()
		e.mu.Lock()
		if len(e.conns) == 0 && !e.removed && r.users[userID] == e {
			delete(r.users, userID)
			e.removed = true
		}
		e.mu.Unlock()
		r.mu.Unlock()
	}
	return found
}

func (r *Registry) evict(userID string, conn Connection) {
	if !r.remove(userID, conn) {
		return
	}
	if err := conn.Close(); err != nil {
		r.logger.Debug().Err(err).Str("user", userID).Str("conn", conn.ID()).Msg("Error closing evicted connection")
	}
	r.logger.Info().Str("user", userID).Str("conn", conn.ID()).Msg("Connection evicted")
}

func (r *Registry) snapshot(userID string) []Connection {
	r.mu.RLock()
	e, ok := r.users[userID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	conns := make([]Connection, 0, len(e.conns))
	for _, c := range e.conns {
		conns = append(conns, c)
	}
	return conns
}

func (r *Registry) sendOne(ctx context.Context, conn Connection, payload []byte) error {
	sendCtx, cancel := context.WithTimeout(ctx, r.sendTimeout)
	defer cancel()
	return conn.Send(sendCtx, payload)
}

// sendAll sends to each connection concurrently and evicts failures. When
// ctx itself is done the failures are the caller's, not the connections',
// and nothing is evicted.
func (r *Registry) sendAll(ctx context.Context, userID string, conns []Connection, payload []byte) (delivered, evicted int) {
	if len(conns) == 0 {
		return 0, 0
	}

	errs := make([]error, len(conns))
	var wg sync.WaitGroup
	for i, c := range conns {
		wg.Add(1)
		go func(i int, c Connection) {
			defer wg.Done()
			errs[i] = r.sendOne(ctx, c, payload)
		}(i, c)
	}
	wg.Wait()

	callerDone := ctx.Err() != nil
	for i, err := range errs {
		if err == nil {
			delivered++
			continue
		}
		if callerDone {
			r.logger.Debug().Err(err).Str("user", userID).Str("conn", conns[i].ID()).Msg("Send abandoned by caller")
			continue
		}
		r.logger.Warn().Err(err).Str("user", userID).Str("conn", conns[i].ID()).Msg("Send failed")
		r.evict(userID, conns[i])
		evicted++
	}
	return delivered, evicted
}
