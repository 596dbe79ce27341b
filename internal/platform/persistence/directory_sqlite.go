package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-alerting-service/internal/fallback"
)

// SQLiteDirectory is a fallback.Directory backed by the contacts table.
type SQLiteDirectory struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewSQLiteDirectory(db *sql.DB, logger zerolog.Logger) (*SQLiteDirectory, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlite db cannot be nil")
	}
	return &SQLiteDirectory{
		db:     db,
		logger: logger.With().Str("component", "SQLiteDirectory").Logger(),
	}, nil
}

// Lookup implements fallback.Directory.
func (d *SQLiteDirectory) Lookup(ctx context.Context, userID string) (fallback.Contact, error) {
	c := fallback.Contact{UserID: userID}
	err := d.db.QueryRowContext(ctx,
		`SELECT phone, telegram_chat_id, push_recipient FROM contacts WHERE user_id = ?`, userID,
	).Scan(&c.Phone, &c.TelegramChatID, &c.PushRecipient)
	if errors.Is(err, sql.ErrNoRows) {
		return fallback.Contact{}, fallback.ErrContactNotFound
	}
	if err != nil {
		return fallback.Contact{}, fmt.Errorf("failed to look up contact: %w", err)
	}
	return c, nil
}

// PutContact inserts or replaces a user's contact details.
func (d *SQLiteDirectory) PutContact(ctx context.Context, c fallback.Contact) error {
	if c.UserID == "" {
		return fmt.Errorf("contact user id cannot be empty")
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO contacts(user_id, phone, telegram_chat_id, push_recipient, updated_at)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   phone=excluded.phone,
		   telegram_chat_id=excluded.telegram_chat_id,
		   push_recipient=excluded.push_recipient,
		   updated_at=excluded.updated_at`,
		c.UserID, c.Phone, c.TelegramChatID, c.PushRecipient, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to store contact: %w", err)
	}
	d.logger.Debug().Str("user", c.UserID).Msg("Contact stored")
	return nil
}
