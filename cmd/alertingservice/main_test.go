package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-alerting-service/cmd"
)

func TestServe_ClosesDependenciesOnError(t *testing.T) {
	// Arrange
	mr := miniredis.RunT(t)
	cfg, err := cmd.Load(zerolog.Nop())
	require.NoError(t, err)
	cfg.RunMode = "local"
	cfg.PendingQueue.Type = "redis"
	cfg.PendingQueue.RedisAddr = mr.Addr()
	cfg.Audit.SQLitePath = filepath.Join(t.TempDir(), "audit.db")
	cfg.Audit.Retention = time.Hour
	cfg.Audit.PruneSchedule = "not a schedule"

	// Act
	err = serve(context.Background(), cfg, zerolog.Nop())

	// Assert
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create audit pruner")
	assert.Eventually(t, func() bool {
		return mr.CurrentConnectionCount() == 0
	}, 2*time.Second, 10*time.Millisecond, "redis client should be closed")
}

func TestServe_DependencyError(t *testing.T) {
	cfg, err := cmd.Load(zerolog.Nop())
	require.NoError(t, err)
	cfg.PendingQueue.Type = "redis"
	cfg.PendingQueue.RedisAddr = "127.0.0.1:1"

	err = serve(context.Background(), cfg, zerolog.Nop())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize dependencies")
}
