/*
File: internal/queue/memory_store.go
Description: In-process implementation of the pending alert Store.
*/
package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-alerting-service/pkg/alerting"
)

type entry struct {
	seq   uint64
	alert alerting.AlertMessage
}

// userQueue is one user's pending alerts.
// drainMu serialises drains; mu guards the data and is never held across a send.
type userQueue struct {
	drainMu sync.Mutex
	mu      sync.Mutex
	entries []entry
	nextSeq uint64
	refs    int
}

// MemoryStore is a Store held entirely in memory. Queues for users with
// nothing pending are removed so the map only grows with real backlog.
type MemoryStore struct {
	mu       sync.Mutex
	queues   map[string]*userQueue
	capacity int
	logger   zerolog.Logger
}

// NewMemoryStore creates a MemoryStore bounded to capacity alerts per user.
// A non-positive capacity selects DefaultCapacity.
func NewMemoryStore(capacity int, logger zerolog.Logger) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryStore{
		queues:   make(map[string]*userQueue),
		capacity: capacity,
		logger:   logger.With().Str("component", "MemoryStore").Logger(),
	}
}

// acquire returns the user's queue, creating it if needed, and pins it
// against removal until release is called.
func (s *MemoryStore) acquire(userID string) *userQueue {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[userID]
	if !ok {
		q = &userQueue{}
		s.queues[userID] = q
	}
	q.refs++
	return q
}

// lookup pins an existing queue, or returns nil.
func (s *MemoryStore) lookup(userID string) *userQueue {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[userID]
	if !ok {
		return nil
	}
	q.refs++
	return q
}

func (s *MemoryStore) release(userID string, q *userQueue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q.refs--
	if q.refs > 0 {
		return
	}
	q.mu.Lock()
	empty := len(q.entries) == 0
	q.mu.Unlock()
	if empty && s.queues[userID] == q {
		delete(s.queues, userID)
	}
}

// Enqueue implements Store.
func (s *MemoryStore) Enqueue(ctx context.Context, userID string, alert alerting.AlertMessage) error {
	if userID == "" {
		return alerting.ErrEmptyUserID
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	q := s.acquire(userID)
	defer s.release(userID, q)

	q.mu.Lock()
	q.nextSeq++
	q.entries = append(q.entries, entry{seq: q.nextSeq, alert: alert})
	dropped := 0
	if over := len(q.entries) - s.capacity; over > 0 {
		dropped = over
		q.entries = append(q.entries[:0:0], q.entries[over:]...)
	}
	depth := len(q.entries)
	q.mu.Unlock()

	if dropped > 0 {
		s.logger.Warn().Str("user", userID).Int("dropped", dropped).Msg("Pending queue full, dropped oldest alerts")
	}
	s.logger.Debug().Str("user", userID).Str("alert", alert.ID).Int("depth", depth).Msg("Alert queued")
	return nil
}

// DrainFront implements Store. Alerts enqueued while a drain is sending are
// left for the next drain.
func (s *MemoryStore) DrainFront(ctx context.Context, userID string, send SendFunc) (int, error) {
	if send == nil {
		return 0, fmt.Errorf("send func cannot be nil")
	}
	q := s.lookup(userID)
	if q == nil {
		return 0, nil
	}
	defer s.release(userID, q)

	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	q.mu.Lock()
	snapshot := append([]entry(nil), q.entries...)
	q.mu.Unlock()

	var (
		lastSent uint64
		sent     int
		drainErr error
	)
	for _, e := range snapshot {
		if err := ctx.Err(); err != nil {
			drainErr = err
			break
		}
		if err := send(e.alert); err != nil {
			s.logger.Debug().Err(err).Str("user", userID).Str("alert", e.alert.ID).Msg("Drain stopped at first failed send")
			break
		}
		lastSent = e.seq
		sent++
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if sent > 0 {
		// Eviction may have removed some of the sent entries already.
		cut := 0
		for cut < len(q.entries) && q.entries[cut].seq <= lastSent {
			cut++
		}
		q.entries = append(q.entries[:0:0], q.entries[cut:]...)
		s.logger.Info().Str("user", userID).Int("sent", sent).Int("remaining", len(q.entries)).Msg("Drained pending alerts")
	}
	return len(q.entries), drainErr
}

// PeekAll implements Store.
func (s *MemoryStore) PeekAll(_ context.Context, userID string) ([]alerting.AlertMessage, error) {
	q := s.lookup(userID)
	if q == nil {
		return nil, nil
	}
	defer s.release(userID, q)

	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]alerting.AlertMessage, len(q.entries))
	for i, e := range q.entries {
		out[i] = e.alert
	}
	return out, nil
}

// Users reports how many users currently have a queue allocated.
func (s *MemoryStore) Users() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues)
}
