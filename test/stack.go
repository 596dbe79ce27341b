// Package test provides public test helpers for setting up end-to-end tests
// of the alerting service. The stack runs entirely in process: an in-memory
// pending queue, a fake contact directory and a log-only fallback channel.
package test

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-alerting-service/alertingservice"
	"github.com/tinywideclouds/go-alerting-service/alertingservice/config"
	"github.com/tinywideclouds/go-alerting-service/internal/api"
	"github.com/tinywideclouds/go-alerting-service/internal/dispatch"
	"github.com/tinywideclouds/go-alerting-service/internal/fallback"
	"github.com/tinywideclouds/go-alerting-service/internal/pipeline"
	"github.com/tinywideclouds/go-alerting-service/internal/platform/persistence"
	"github.com/tinywideclouds/go-alerting-service/internal/queue"
	"github.com/tinywideclouds/go-alerting-service/internal/realtime"
	"github.com/tinywideclouds/go-alerting-service/internal/test/fakes"
)

// Stack is a fully wired service with its seams exposed.
type Stack struct {
	Registry    *realtime.Registry
	Pending     *queue.MemoryStore
	Directory   *fakes.Directory
	SMS         *fakes.LogChannel
	Audit       *persistence.AuditStore // nil unless an audit path was given
	API         *alertingservice.Wrapper
	ConnManager *realtime.ConnectionManager
	closeDB     func() error
}

// NewStack wires the service for cfg. auditPath may be empty to run
// without the delivery audit.
func NewStack(ctx context.Context, cfg *config.AppConfig, auditPath string, logger zerolog.Logger, contacts ...fallback.Contact) (*Stack, error) {
	s := &Stack{
		Pending:   queue.NewMemoryStore(cfg.PendingQueue.Capacity, logger),
		Directory: fakes.NewDirectory(contacts...),
		SMS:       fakes.NewLogChannel("sms", func(c fallback.Contact) string { return c.Phone }, logger),
	}

	var err error
	if s.Registry, err = realtime.NewRegistry(s.Pending, cfg.SendTimeout, logger); err != nil {
		return nil, err
	}
	notifier, err := fallback.NewNotifier(s.Directory, []fallback.Channel{s.SMS}, fallback.Config{Timeout: time.Second}, logger)
	if err != nil {
		return nil, err
	}

	var opts []dispatch.Option
	var auditReader api.AuditReader
	if auditPath != "" {
		db, err := persistence.OpenSQLite(ctx, auditPath, time.Second)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit database: %w", err)
		}
		s.closeDB = db.Close
		if s.Audit, err = persistence.NewAuditStore(db, logger); err != nil {
			return nil, err
		}
		opts = append(opts, dispatch.WithRecorder(s.Audit))
		auditReader = s.Audit
	}

	dispatcher, err := dispatch.NewDispatcher(s.Registry, s.Pending, notifier, logger, opts...)
	if err != nil {
		return nil, err
	}
	process, err := pipeline.NewAlertProcessor(dispatcher, logger)
	if err != nil {
		return nil, err
	}
	apiHandler, err := api.NewAPI(process, s.Pending, s.Registry, auditReader, logger)
	if err != nil {
		return nil, err
	}
	if s.API, err = alertingservice.New(cfg, apiHandler, nil, logger); err != nil {
		return nil, err
	}
	if s.ConnManager, err = realtime.NewConnectionManager(cfg.WebSocketPort, s.Registry, cfg.CorsAllowedOrigins, logger); err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases the audit database, if any.
func (s *Stack) Close() error {
	if s.closeDB == nil {
		return nil
	}
	return s.closeDB()
}
