package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const DefaultPruneSchedule = "@hourly"

type pruner interface {
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

// AuditPruner runs AuditStore.Prune on a cron schedule.
type AuditPruner struct {
	store     pruner
	retention time.Duration
	c         *cron.Cron
	logger    zerolog.Logger
}

// NewAuditPruner validates schedule up front so a typo fails at startup.
func NewAuditPruner(store pruner, schedule string, retention time.Duration, logger zerolog.Logger) (*AuditPruner, error) {
	if store == nil {
		return nil, fmt.Errorf("audit store cannot be nil")
	}
	if retention <= 0 {
		return nil, fmt.Errorf("audit retention must be positive")
	}
	if schedule == "" {
		schedule = DefaultPruneSchedule
	}

	p := &AuditPruner{
		store:     store,
		retention: retention,
		c:         cron.New(cron.WithParser(cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor))),
		logger:    logger.With().Str("component", "AuditPruner").Logger(),
	}
	if _, err := p.c.AddFunc(schedule, p.run); err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", schedule, err)
	}
	return p, nil
}

// Start runs the scheduler in the background and returns immediately.
func (p *AuditPruner) Start(_ context.Context) error {
	p.c.Start()
	p.logger.Info().Dur("retention", p.retention).Msg("Audit pruner started")
	return nil
}

// Shutdown stops the scheduler and waits for a running prune, bounded by ctx.
func (p *AuditPruner) Shutdown(ctx context.Context) error {
	select {
	case <-p.c.Stop().Done():
		p.logger.Info().Msg("Audit pruner stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *AuditPruner) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := p.store.Prune(ctx, p.retention); err != nil {
		p.logger.Error().Err(err).Msg("Audit prune failed")
	}
}
