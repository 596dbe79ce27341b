// --- File: internal/platform/queue/redis_store.go ---
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/moby/locker"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-alerting-service/internal/queue"
	"github.com/tinywideclouds/go-alerting-service/pkg/alerting"
)

// redisClient defines the subset of go-redis the store needs.
type redisClient interface {
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	LRem(ctx context.Context, key string, count int64, value interface{}) *redis.IntCmd
	LLen(ctx context.Context, key string) *redis.IntCmd
	TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)
}

// queuedAlert is the JSON stored per list element. ID makes every element
// unique, so removing a delivered element by value never hits another copy
// of the same alert.
type queuedAlert struct {
	ID    string                `json:"id"`
	Alert alerting.AlertMessage `json:"alert"`
}

// RedisStore implements queue.Store with one Redis list per user.
// The head of the list (index 0) is the oldest alert. Bounding is done with
// LTRIM in the same transaction as the push, so the list never exceeds its
// capacity and Redis deletes it once it is empty.
type RedisStore struct {
	client   redisClient
	capacity int
	locks    *locker.Locker
	logger   zerolog.Logger
}

// NewRedisStore is the constructor for the RedisStore.
func NewRedisStore(client redisClient, capacity int, logger zerolog.Logger) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if capacity <= 0 {
		capacity = queue.DefaultCapacity
	}
	return &RedisStore{
		client:   client,
		capacity: capacity,
		locks:    locker.New(),
		logger:   logger.With().Str("component", "RedisStore").Logger(),
	}, nil
}

// Enqueue pushes to the tail and trims from the head in one MULTI/EXEC.
func (s *RedisStore) Enqueue(ctx context.Context, userID string, alert alerting.AlertMessage) error {
	if userID == "" {
		return alerting.ErrEmptyUserID
	}
	log := s.logger.With().Str("user", userID).Str("alert", alert.ID).Logger()

	payload, err := json.Marshal(queuedAlert{ID: uuid.NewString(), Alert: alert})
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal pending alert")
		return fmt.Errorf("failed to marshal pending alert: %w", err)
	}

	key := pendingKey(userID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, payload)
		pipe.LTrim(ctx, key, int64(-s.capacity), -1)
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to push pending alert")
		return fmt.Errorf("failed to push pending alert: %w", err)
	}
	log.Debug().Str("key", key).Msg("Alert queued")
	return nil
}

// DrainFront reads the list, sends oldest first, and removes each sent
// element by value. Drains for one user are serialised in-process. An
// element already trimmed by a concurrent Enqueue is simply not found.
func (s *RedisStore) DrainFront(ctx context.Context, userID string, send queue.SendFunc) (int, error) {
	if send == nil {
		return 0, fmt.Errorf("send func cannot be nil")
	}
	s.locks.Lock(userID)
	defer func() { _ = s.locks.Unlock(userID) }()

	key := pendingKey(userID)
	log := s.logger.With().Str("user", userID).Str("key", key).Logger()

	payloads, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		log.Error().Err(err).Msg("Failed to read pending queue")
		return 0, fmt.Errorf("failed to read pending queue: %w", err)
	}
	if len(payloads) == 0 {
		return 0, nil
	}

	sent := 0
	for _, payload := range payloads {
		if err := ctx.Err(); err != nil {
			return s.depth(ctx, key, len(payloads)-sent), err
		}

		entry, err := decodeEntry(payload)
		if err != nil {
			// Remove the poison entry so it cannot block the queue forever.
			log.Warn().Err(err).Msg("Removing poison entry from pending queue")
			if err := s.client.LRem(ctx, key, 1, payload).Err(); err != nil {
				log.Error().Err(err).Msg("Failed to remove poison entry")
			}
			sent++
			continue
		}
		alert := entry.Alert

		if err := send(alert); err != nil {
			log.Debug().Err(err).Str("alert", alert.ID).Msg("Drain stopped at first failed send")
			break
		}
		if err := s.client.LRem(ctx, key, 1, payload).Err(); err != nil {
			// The alert was delivered but is still queued; it may be delivered again.
			log.Error().Err(err).Str("alert", alert.ID).Msg("Failed to remove sent alert")
			return s.depth(ctx, key, len(payloads)-sent), fmt.Errorf("failed to remove sent alert: %w", err)
		}
		sent++
	}

	remaining := s.depth(ctx, key, len(payloads)-sent)
	if sent > 0 {
		log.Info().Int("sent", sent).Int("remaining", remaining).Msg("Drained pending alerts")
	}
	return remaining, nil
}

// PeekAll returns the user's list in order.
func (s *RedisStore) PeekAll(ctx context.Context, userID string) ([]alerting.AlertMessage, error) {
	key := pendingKey(userID)
	payloads, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read pending queue: %w", err)
	}

	alerts := make([]alerting.AlertMessage, 0, len(payloads))
	for _, payload := range payloads {
		entry, err := decodeEntry(payload)
		if err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("Skipping unreadable pending entry")
			continue
		}
		alerts = append(alerts, entry.Alert)
	}
	return alerts, nil
}

func (s *RedisStore) depth(ctx context.Context, key string, fallback int) int {
	n, err := s.client.LLen(context.WithoutCancel(ctx), key).Result()
	if err != nil {
		return fallback
	}
	return int(n)
}

// --- Private Helpers ---

func decodeEntry(payload string) (queuedAlert, error) {
	var entry queuedAlert
	if err := json.Unmarshal([]byte(payload), &entry); err != nil {
		return queuedAlert{}, err
	}
	if err := entry.Alert.Validate(); err != nil {
		return queuedAlert{}, err
	}
	return entry, nil
}

func pendingKey(userID string) string { return fmt.Sprintf("alerts:pending:%s", userID) }
