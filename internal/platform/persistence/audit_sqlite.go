package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-alerting-service/pkg/alerting"
)

// AuditStore keeps one row per dispatch decision in the deliveries table.
type AuditStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewAuditStore(db *sql.DB, logger zerolog.Logger) (*AuditStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlite db cannot be nil")
	}
	return &AuditStore{
		db:     db,
		logger: logger.With().Str("component", "AuditStore").Logger(),
	}, nil
}

// RecordDelivery appends one audit row. A zero At is stamped with now.
func (s *AuditStore) RecordDelivery(ctx context.Context, rec alerting.DeliveryRecord) error {
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries(at, alert_id, user_id, kind, source, outcome, delivered, sent, skipped, failed)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		rec.At.UnixMilli(), rec.AlertID, rec.UserID, rec.Kind, rec.Source, rec.Outcome,
		rec.Delivered, rec.Sent, rec.Skipped, rec.Failed,
	)
	if err != nil {
		return fmt.Errorf("failed to record delivery: %w", err)
	}
	return nil
}

// Recent returns up to limit rows, newest first. An empty userID matches
// every row.
func (s *AuditStore) Recent(ctx context.Context, userID string, limit int) ([]alerting.DeliveryRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT at, alert_id, user_id, kind, source, outcome, delivered, sent, skipped, failed
	          FROM deliveries`
	args := []any{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query deliveries: %w", err)
	}
	defer rows.Close()

	var out []alerting.DeliveryRecord
	for rows.Next() {
		var (
			rec alerting.DeliveryRecord
			at  int64
		)
		if err := rows.Scan(&at, &rec.AlertID, &rec.UserID, &rec.Kind, &rec.Source, &rec.Outcome,
			&rec.Delivered, &rec.Sent, &rec.Skipped, &rec.Failed); err != nil {
			return nil, fmt.Errorf("failed to scan delivery: %w", err)
		}
		rec.At = time.UnixMilli(at).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Prune deletes rows older than the retention window and reports how many
// were removed.
func (s *AuditStore) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM deliveries WHERE at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune deliveries: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info().Int64("rows", n).Dur("retention", retention).Msg("Pruned delivery audit")
	}
	return n, nil
}
