/*
File: cmd/alertingservice/main.go
Description: Composition root. Builds the registry, pending queue,
fallback channels and ingress from config and runs them until a signal.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tinywideclouds/go-alerting-service/alertingservice"
	"github.com/tinywideclouds/go-alerting-service/alertingservice/config"
	"github.com/tinywideclouds/go-alerting-service/cmd"
	"github.com/tinywideclouds/go-alerting-service/internal/api"
	"github.com/tinywideclouds/go-alerting-service/internal/app"
	"github.com/tinywideclouds/go-alerting-service/internal/dispatch"
	"github.com/tinywideclouds/go-alerting-service/internal/fallback"
	"github.com/tinywideclouds/go-alerting-service/internal/pipeline"
	"github.com/tinywideclouds/go-alerting-service/internal/platform/persistence"
	psub "github.com/tinywideclouds/go-alerting-service/internal/platform/pubsub"
	"github.com/tinywideclouds/go-alerting-service/internal/platform/push"
	rqueue "github.com/tinywideclouds/go-alerting-service/internal/platform/queue"
	"github.com/tinywideclouds/go-alerting-service/internal/platform/sms"
	"github.com/tinywideclouds/go-alerting-service/internal/platform/telegram"
	"github.com/tinywideclouds/go-alerting-service/internal/queue"
	"github.com/tinywideclouds/go-alerting-service/internal/realtime"
)

const sqliteBusyTimeout = 5 * time.Second

// dependencies holds everything built from config, plus what must be
// closed once the services have stopped.
type dependencies struct {
	pending   queue.Store
	directory fallback.Directory
	channels  []fallback.Channel
	audit     *persistence.AuditStore
	closers   []io.Closer
}

func (d *dependencies) Close(logger zerolog.Logger) {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i].Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close dependency")
		}
	}
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if err := run(); err != nil {
		log.Error().Err(err).Str("service", "go-alerting-service").Msg("Service exited with error")
		os.Exit(1)
	}
}

// run loads config and serves until a signal. It is the only place that
// decides the process exit, so deferred cleanup always runs.
func run() error {
	// 1. Setup structured logging
	bootLogger := log.With().Str("service", "go-alerting-service").Logger()

	if err := godotenv.Load(); err != nil {
		bootLogger.Debug().Err(err).Msg("No .env file loaded")
	}

	// 2. Load config.yaml
	cfg, err := cmd.Load(bootLogger)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := cmd.NewLogger(cfg.Log, nil)

	return serve(context.Background(), cfg, logger)
}

// serve builds every component from cfg and runs them. Dependencies are
// closed on return, including when a later step fails.
func serve(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) error {
	// 3. Create dependencies
	deps, err := newDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close(logger)

	// 4. Create the delivery core
	registry, err := realtime.NewRegistry(deps.pending, cfg.SendTimeout, logger)
	if err != nil {
		return fmt.Errorf("failed to create connection registry: %w", err)
	}

	notifier, err := fallback.NewNotifier(deps.directory, deps.channels, fallback.Config{
		Timeout:    cfg.Fallback.Timeout,
		RatePerSec: int(math.Ceil(cfg.Fallback.RatePerSec)),
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create fallback notifier: %w", err)
	}
	logger.Info().Strs("channels", notifier.Channels()).Msg("Fallback channels registered")

	var opts []dispatch.Option
	var auditReader api.AuditReader
	if deps.audit != nil {
		opts = append(opts, dispatch.WithRecorder(deps.audit))
		auditReader = deps.audit
	}
	dispatcher, err := dispatch.NewDispatcher(registry, deps.pending, notifier, logger, opts...)
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}

	process, err := pipeline.NewAlertProcessor(dispatcher, logger)
	if err != nil {
		return fmt.Errorf("failed to create alert processor: %w", err)
	}

	// 5. Create the services
	var consumer alertingservice.Consumer
	if cfg.AlertIngress.NATSURL != "" {
		natsConsumer, err := pipeline.NewNATSConsumer(pipeline.NATSConfig{
			URL:        cfg.AlertIngress.NATSURL,
			Subject:    cfg.AlertIngress.Subject,
			QueueGroup: cfg.AlertIngress.QueueGroup,
			ClientName: "go-alerting-service",
		}, process, logger)
		if err != nil {
			return fmt.Errorf("failed to create NATS consumer: %w", err)
		}
		consumer = natsConsumer
	}

	apiHandler, err := api.NewAPI(process, deps.pending, registry, auditReader, logger)
	if err != nil {
		return fmt.Errorf("failed to create API handler: %w", err)
	}
	apiService, err := alertingservice.New(cfg, apiHandler, consumer, logger)
	if err != nil {
		return fmt.Errorf("failed to create API service: %w", err)
	}

	connManager, err := realtime.NewConnectionManager(cfg.WebSocketPort, registry, cfg.CorsAllowedOrigins, logger)
	if err != nil {
		return fmt.Errorf("failed to create connection manager: %w", err)
	}

	services := []app.Named{
		{Name: "api", Service: apiService},
		{Name: "websocket", Service: connManager},
	}
	if deps.audit != nil {
		pruner, err := persistence.NewAuditPruner(deps.audit, cfg.Audit.PruneSchedule, cfg.Audit.Retention, logger)
		if err != nil {
			return fmt.Errorf("failed to create audit pruner: %w", err)
		}
		services = append(services, app.Named{Name: "audit-pruner", Service: pruner})
	}

	// 6. Run the application
	app.Run(ctx, logger, services...)
	return nil
}

// newDependencies builds the service dependencies. In local mode the
// directory and channels are faked; the queue and audit still follow config.
func newDependencies(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) (*dependencies, error) {
	deps := &dependencies{}

	pending, err := newPendingStore(ctx, cfg, deps, logger)
	if err != nil {
		deps.Close(logger)
		return nil, err
	}
	deps.pending = pending

	if cfg.Audit.SQLitePath != "" {
		db, err := persistence.OpenSQLite(ctx, cfg.Audit.SQLitePath, sqliteBusyTimeout)
		if err != nil {
			deps.Close(logger)
			return nil, fmt.Errorf("failed to open audit database: %w", err)
		}
		deps.closers = append(deps.closers, db)
		if deps.audit, err = persistence.NewAuditStore(db, logger); err != nil {
			deps.Close(logger)
			return nil, err
		}
	}

	if cfg.RunMode == "local" {
		logger.Warn().Msg("Running in 'local' mode. Fallback directory and channels are faked.")
		deps.directory, deps.channels = cmd.NewFakeFallback(logger)
		return deps, nil
	}

	if deps.directory, err = newDirectory(ctx, cfg, deps, logger); err != nil {
		deps.Close(logger)
		return nil, err
	}
	if deps.channels, err = newChannels(ctx, cfg, deps, logger); err != nil {
		deps.Close(logger)
		return nil, err
	}
	return deps, nil
}

// newPendingStore selects the pending queue backend.
func newPendingStore(ctx context.Context, cfg *config.AppConfig, deps *dependencies, logger zerolog.Logger) (queue.Store, error) {
	switch cfg.PendingQueue.Type {
	case "redis":
		logger.Info().Str("addr", cfg.PendingQueue.RedisAddr).Msg("Using Redis for pending queue")
		rdb := redis.NewClient(&redis.Options{Addr: cfg.PendingQueue.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		deps.closers = append(deps.closers, rdb)
		return rqueue.NewRedisStore(rdb, cfg.PendingQueue.Capacity, logger)
	default:
		logger.Info().Int("capacity", cfg.PendingQueue.Capacity).Msg("Using in-memory pending queue")
		return queue.NewMemoryStore(cfg.PendingQueue.Capacity, logger), nil
	}
}

// newDirectory builds the contact directory behind a lookup cache.
func newDirectory(ctx context.Context, cfg *config.AppConfig, deps *dependencies, logger zerolog.Logger) (fallback.Directory, error) {
	var dir fallback.Directory
	switch cfg.Directory.Type {
	case "sqlite":
		db, err := persistence.OpenSQLite(ctx, cfg.Directory.SQLitePath, sqliteBusyTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to open directory database: %w", err)
		}
		deps.closers = append(deps.closers, db)
		if dir, err = persistence.NewSQLiteDirectory(db, logger); err != nil {
			return nil, err
		}
	case "firestore":
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to firestore: %w", err)
		}
		deps.closers = append(deps.closers, fsClient)
		if dir, err = persistence.NewFirestoreDirectory(fsClient, cfg.Directory.FirestoreCollection, logger); err != nil {
			return nil, err
		}
	default:
		logger.Warn().Msg("No contact directory configured. Fallback will skip every user.")
		return emptyDirectory{}, nil
	}
	return persistence.NewCachingDirectory(dir, cfg.Directory.CacheTTL), nil
}

// newChannels registers every channel that is configured, in a fixed
// order. Unconfigured channels are logged and left out.
func newChannels(ctx context.Context, cfg *config.AppConfig, deps *dependencies, logger zerolog.Logger) ([]fallback.Channel, error) {
	var channels []fallback.Channel
	add := func(name string, ch fallback.Channel, err error) error {
		if errors.Is(err, fallback.ErrChannelUnavailable) {
			logger.Warn().Err(err).Str("channel", name).Msg("Fallback channel not configured")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to create %s channel: %w", name, err)
		}
		channels = append(channels, ch)
		return nil
	}

	twilioCfg := sms.Config{
		AccountSID:         cfg.Fallback.Twilio.AccountSID,
		AuthToken:          cfg.Fallback.Twilio.AuthToken,
		SMSFrom:            cfg.Fallback.Twilio.SMSFrom,
		WhatsAppFrom:       cfg.Fallback.Twilio.WhatsAppFrom,
		DefaultCountryCode: cfg.Fallback.DefaultCountryCode,
	}
	smsCh, err := sms.NewSMSChannel(twilioCfg, logger)
	if err := add("sms", smsCh, err); err != nil {
		return nil, err
	}
	waCh, err := sms.NewWhatsAppChannel(twilioCfg, logger)
	if err := add("whatsapp", waCh, err); err != nil {
		return nil, err
	}
	tgCh, err := telegram.NewChannel(cfg.Fallback.TelegramBotToken, logger)
	if err := add("telegram", tgCh, err); err != nil {
		return nil, err
	}

	if cfg.PushTopicID != "" {
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to pubsub: %w", err)
		}
		deps.closers = append(deps.closers, psClient)
		producer, err := psub.NewProducer(psClient.Publisher(cfg.PushTopicID))
		if err != nil {
			return nil, err
		}
		pushCh, err := push.NewPubSubNotifier(producer, logger)
		if err := add("push", pushCh, err); err != nil {
			return nil, err
		}
	} else {
		logger.Warn().Str("channel", "push").Msg("Fallback channel not configured")
	}
	return channels, nil
}

type emptyDirectory struct{}

func (emptyDirectory) Lookup(context.Context, string) (fallback.Contact, error) {
	return fallback.Contact{}, fallback.ErrContactNotFound
}
