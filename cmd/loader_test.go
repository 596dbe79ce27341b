package cmd_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-alerting-service/alertingservice/config"
	"github.com/tinywideclouds/go-alerting-service/cmd"
	"github.com/tinywideclouds/go-alerting-service/internal/fallback"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"GCP_PROJECT_ID", "API_PORT", "WEBSOCKET_PORT", "REDIS_ADDR", "NATS_URL",
		"PUSH_TOPIC_ID", "DEFAULT_COUNTRY_CODE", "SQLITE_PATH", "AUDIT_SQLITE_PATH",
		"LOG_LEVEL", "LOG_FORMAT", "PENDING_QUEUE_CAPACITY", "CORS_ALLOWED_ORIGINS",
		"TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN", "TWILIO_NUMBER_TRIAL",
		"TWILIO_WHATSAPP_NUMBER", "TELEGRAM_BOT_TOKEN",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_EmbeddedConfig(t *testing.T) {
	clearEnv(t)

	cfg, err := cmd.Load(zerolog.Nop())

	require.NoError(t, err)
	assert.Equal(t, "local", cfg.RunMode)
	assert.Equal(t, "8080", cfg.APIPort)
	assert.Equal(t, "8081", cfg.WebSocketPort)
	assert.Equal(t, "memory", cfg.PendingQueue.Type)
	assert.Equal(t, 50, cfg.PendingQueue.Capacity)
	assert.Equal(t, "alerts.dispatch", cfg.AlertIngress.Subject)
	assert.Empty(t, cfg.AlertIngress.NATSURL)
}

func TestLoadFrom_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("API_PORT", "9090")
	t.Setenv("NATS_URL", "nats://localhost:4222")

	cfg, err := cmd.LoadFrom([]byte("run_mode: local\ndirectory:\n  type: none\n"), zerolog.Nop())

	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.APIPort)
	assert.Equal(t, "nats://localhost:4222", cfg.AlertIngress.NATSURL)
}

func TestLoadFrom_Errors(t *testing.T) {
	clearEnv(t)

	t.Run("Failure - malformed yaml", func(t *testing.T) {
		_, err := cmd.LoadFrom([]byte("api_port: [unclosed"), zerolog.Nop())
		assert.Error(t, err)
	})

	t.Run("Failure - invalid config", func(t *testing.T) {
		_, err := cmd.LoadFrom([]byte("pending_queue:\n  type: carrier-pigeon\n"), zerolog.Nop())
		assert.Error(t, err)
	})
}

func TestNewLogger(t *testing.T) {
	t.Run("Success - level filters output", func(t *testing.T) {
		var buf bytes.Buffer
		logger := cmd.NewLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)

		logger.Info().Msg("hidden")
		logger.Warn().Msg("shown")

		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), `"message":"shown"`)
		assert.Contains(t, buf.String(), `"service":"go-alerting-service"`)
	})

	t.Run("Success - unknown level falls back to info", func(t *testing.T) {
		var buf bytes.Buffer
		logger := cmd.NewLogger(config.LogConfig{Level: "loud"}, &buf)

		logger.Debug().Msg("debug")
		logger.Info().Msg("info")

		assert.NotContains(t, buf.String(), `"message":"debug"`)
		assert.Contains(t, buf.String(), `"message":"info"`)
	})

	t.Run("Success - console format is not json", func(t *testing.T) {
		var buf bytes.Buffer
		logger := cmd.NewLogger(config.LogConfig{Level: "info", Format: "console"}, &buf)

		logger.Info().Msg("hello")

		assert.Contains(t, buf.String(), "hello")
		assert.NotContains(t, buf.String(), `"message"`)
	})
}

func TestNewFakeFallback(t *testing.T) {
	dir, channels := cmd.NewFakeFallback(zerolog.Nop())

	contact, err := dir.Lookup(context.Background(), cmd.LocalUserID)
	require.NoError(t, err)
	_, err = dir.Lookup(context.Background(), "someone-else")
	assert.ErrorIs(t, err, fallback.ErrContactNotFound)

	require.Len(t, channels, 3)
	for _, ch := range channels {
		assert.NotEmpty(t, ch.Address(contact), ch.Name())
		assert.NoError(t, ch.Send(context.Background(), ch.Address(contact), "hi"))
	}
}
