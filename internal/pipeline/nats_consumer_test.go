package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-alerting-service/pkg/alerting"
)

type replies struct {
	mu   sync.Mutex
	sent map[string][]byte
}

func (r *replies) respond(msg *nats.Msg, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sent == nil {
		r.sent = make(map[string][]byte)
	}
	r.sent[msg.Reply] = data
	return nil
}

func (r *replies) get(subject string) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.sent[subject]
	return b, ok
}

func newTestConsumer(t *testing.T, process AlertProcessor) (*NATSConsumer, *replies) {
	t.Helper()
	c, err := NewNATSConsumer(NATSConfig{URL: "nats://127.0.0.1:4222", HandlerTimeout: time.Second}, process, zerolog.Nop())
	require.NoError(t, err)
	r := &replies{}
	c.respond = r.respond
	return c, r
}

func TestNATSConsumer_Handle(t *testing.T) {
	valid := []byte(`{"user_id":"u1","alert":{"id":"a-1","kind":"intrusion","source":"cam1"}}`)

	t.Run("Success - processed and replied", func(t *testing.T) {
		// Arrange
		var got *alerting.AlertRequest
		c, r := newTestConsumer(t, func(ctx context.Context, msgID string, req *alerting.AlertRequest) (Response, error) {
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)
			got = req
			return Response{AlertID: req.Alert.ID, Outcome: alerting.OutcomeQueued}, nil
		})

		// Act
		c.handle(&nats.Msg{Subject: DefaultSubject, Reply: "_INBOX.1", Data: valid})

		// Assert
		require.NotNil(t, got)
		assert.Equal(t, "u1", got.UserID)
		b, ok := r.get("_INBOX.1")
		require.True(t, ok)
		assert.JSONEq(t, `{"alert_id":"a-1","outcome":"queued","delivered":0}`, string(b))
	})

	t.Run("No reply subject - nothing sent", func(t *testing.T) {
		calls := 0
		c, r := newTestConsumer(t, func(context.Context, string, *alerting.AlertRequest) (Response, error) {
			calls++
			return Response{}, nil
		})

		c.handle(&nats.Msg{Subject: DefaultSubject, Data: valid})

		assert.Equal(t, 1, calls)
		assert.Empty(t, r.sent)
	})

	t.Run("Undecodable payload - processor not called, error replied", func(t *testing.T) {
		c, r := newTestConsumer(t, func(context.Context, string, *alerting.AlertRequest) (Response, error) {
			t.Fatal("processor must not be called")
			return Response{}, nil
		})

		c.handle(&nats.Msg{Subject: DefaultSubject, Reply: "_INBOX.2", Data: []byte(`{"alert":{}}`)})

		b, ok := r.get("_INBOX.2")
		require.True(t, ok)
		var reply errorReply
		require.NoError(t, json.Unmarshal(b, &reply))
		assert.Contains(t, reply.Error, "one of user_id or broadcast")
	})

	t.Run("Processor error - error replied", func(t *testing.T) {
		c, r := newTestConsumer(t, func(context.Context, string, *alerting.AlertRequest) (Response, error) {
			return Response{}, errors.New("boom")
		})

		c.handle(&nats.Msg{Subject: DefaultSubject, Reply: "_INBOX.3", Data: valid})

		b, ok := r.get("_INBOX.3")
		require.True(t, ok)
		assert.JSONEq(t, `{"error":"boom"}`, string(b))
	})

	t.Run("Message id header is used", func(t *testing.T) {
		var gotID string
		c, _ := newTestConsumer(t, func(_ context.Context, msgID string, _ *alerting.AlertRequest) (Response, error) {
			gotID = msgID
			return Response{}, nil
		})
		msg := nats.NewMsg(DefaultSubject)
		msg.Header.Set(nats.MsgIdHdr, "dedupe-7")
		msg.Data = valid

		c.handle(msg)

		assert.Equal(t, "dedupe-7", gotID)
	})
}

func TestNewNATSConsumer(t *testing.T) {
	noop := func(context.Context, string, *alerting.AlertRequest) (Response, error) { return Response{}, nil }

	_, err := NewNATSConsumer(NATSConfig{}, noop, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewNATSConsumer(NATSConfig{URL: "nats://x"}, nil, zerolog.Nop())
	assert.Error(t, err)

	c, err := NewNATSConsumer(NATSConfig{URL: "nats://x"}, noop, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, DefaultSubject, c.cfg.Subject)
	assert.Equal(t, DefaultQueueGroup, c.cfg.QueueGroup)
	assert.Equal(t, -1, c.cfg.MaxReconnects)
	assert.False(t, c.IsConnected())

	// Shutdown before Start is a no-op.
	assert.NoError(t, c.Shutdown(context.Background()))
}

func TestNATSConsumer_StartUnreachable(t *testing.T) {
	noop := func(context.Context, string, *alerting.AlertRequest) (Response, error) { return Response{}, nil }
	c, err := NewNATSConsumer(NATSConfig{URL: "nats://127.0.0.1:1", ConnectTimeout: 200 * time.Millisecond}, noop, zerolog.Nop())
	require.NoError(t, err)

	err = c.Start(context.Background())
	assert.Error(t, err)
	assert.False(t, c.IsConnected())
}
