// --- File: internal/pipeline/nats_consumer.go ---
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-alerting-service/pkg/alerting"
)

const (
	DefaultSubject        = "alerts.dispatch"
	DefaultQueueGroup     = "alerting-service"
	DefaultHandlerTimeout = 30 * time.Second
)

// NATSConfig configures the alert ingress subscription.
type NATSConfig struct {
	URL            string
	Subject        string
	QueueGroup     string
	ClientName     string
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	MaxReconnects  int
	// HandlerTimeout bounds the processing of a single message.
	HandlerTimeout time.Duration
}

// NATSConsumer takes AlertRequests off a NATS subject and hands them to the
// processor. Messages on the subscription are handled one at a time, so
// alerts from one producer keep their order.
//
// A message published with a reply subject gets the processor's Response
// (or an error object) back as JSON.
type NATSConsumer struct {
	cfg       NATSConfig
	transform func(ctx context.Context, msg *Message) (*alerting.AlertRequest, bool, error)
	process   AlertProcessor
	respond   func(msg *nats.Msg, data []byte) error
	logger    zerolog.Logger

	mu     sync.Mutex
	conn   *nats.Conn
	ctx    context.Context
	closed chan struct{}
}

type errorReply struct {
	Error string `json:"error"`
}

// NewNATSConsumer validates cfg. No connection is made until Start.
func NewNATSConsumer(cfg NATSConfig, process AlertProcessor, logger zerolog.Logger) (*NATSConsumer, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("nats url cannot be empty")
	}
	if process == nil {
		return nil, fmt.Errorf("alert processor cannot be nil")
	}
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}
	if cfg.QueueGroup == "" {
		cfg.QueueGroup = DefaultQueueGroup
	}
	if cfg.ClientName == "" {
		cfg.ClientName = "alerting-service"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = -1
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = DefaultHandlerTimeout
	}

	return &NATSConsumer{
		cfg:       cfg,
		transform: AlertRequestTransformer,
		process:   process,
		respond:   func(msg *nats.Msg, data []byte) error { return msg.Respond(data) },
		logger:    logger.With().Str("component", "NATSConsumer").Str("subject", cfg.Subject).Logger(),
		ctx:       context.Background(),
	}, nil
}

// Start connects and subscribes. ctx is the parent of every message's
// processing context.
func (c *NATSConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return fmt.Errorf("nats consumer already started")
	}

	closed := make(chan struct{})
	conn, err := nats.Connect(c.cfg.URL,
		nats.Name(c.cfg.ClientName),
		nats.Timeout(c.cfg.ConnectTimeout),
		nats.ReconnectWait(c.cfg.ReconnectWait),
		nats.MaxReconnects(c.cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			close(closed)
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to nats at %s: %w", c.cfg.URL, err)
	}

	c.ctx = ctx
	if _, err := conn.QueueSubscribe(c.cfg.Subject, c.cfg.QueueGroup, c.handle); err != nil {
		conn.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", c.cfg.Subject, err)
	}

	c.conn, c.closed = conn, closed
	c.logger.Info().Str("url", c.cfg.URL).Str("queue_group", c.cfg.QueueGroup).Msg("NATS consumer started")
	return nil
}

// Shutdown drains the subscription, letting in-flight messages finish, and
// closes the connection. If ctx expires first the connection is closed
// immediately.
func (c *NATSConsumer) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	conn, closed := c.conn, c.closed
	c.mu.Unlock()
	if conn == nil {
		return nil
	}

	if err := conn.Drain(); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to drain NATS connection gracefully, closing immediately")
		conn.Close()
		return nil
	}
	select {
	case <-closed:
		c.logger.Info().Msg("NATS consumer stopped")
		return nil
	case <-ctx.Done():
		conn.Close()
		return ctx.Err()
	}
}

// IsConnected reports the connection state for readiness checks.
func (c *NATSConsumer) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && c.conn.IsConnected()
}

func (c *NATSConsumer) handle(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.HandlerTimeout)
	defer cancel()

	id := msg.Header.Get(nats.MsgIdHdr)
	if id == "" {
		id = msg.Subject
	}
	log := c.logger.With().Str("msg_id", id).Logger()

	req, skip, err := c.transform(ctx, &Message{ID: id, Payload: msg.Data})
	if skip || err != nil {
		log.Error().Err(err).Int("bytes", len(msg.Data)).Msg("Dropping undecodable alert request")
		c.reply(msg, errorReply{Error: errString(err)})
		return
	}

	resp, err := c.process(ctx, id, req)
	if err != nil {
		c.reply(msg, errorReply{Error: err.Error()})
		return
	}
	c.reply(msg, resp)
}

func (c *NATSConsumer) reply(msg *nats.Msg, v any) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to marshal reply")
		return
	}
	if err := c.respond(msg, data); err != nil {
		c.logger.Warn().Err(err).Str("reply", msg.Reply).Msg("Failed to send reply")
	}
}

func errString(err error) string {
	if err == nil {
		return "message skipped"
	}
	return err.Error()
}
