/*
File: internal/platform/persistence/firestore.go
Description: Firestore-backed user directory. One document per user in
the contacts collection, keyed by user id.
*/
package persistence

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-alerting-service/internal/fallback"
)

const DefaultContactsCollection = "alert-contacts"

// contactDoc is the shape of a contact document.
type contactDoc struct {
	Phone          string `firestore:"phone"`
	TelegramChatID string `firestore:"telegram_chat_id"`
	PushRecipient  string `firestore:"push_recipient"`
}

// FirestoreDirectory implements fallback.Directory using Google Cloud Firestore.
type FirestoreDirectory struct {
	client     *firestore.Client
	collection string
	logger     zerolog.Logger
}

// NewFirestoreDirectory is the constructor for the FirestoreDirectory.
func NewFirestoreDirectory(client *firestore.Client, collection string, logger zerolog.Logger) (*FirestoreDirectory, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	if collection == "" {
		collection = DefaultContactsCollection
	}
	return &FirestoreDirectory{
		client:     client,
		collection: collection,
		logger:     logger.With().Str("component", "FirestoreDirectory").Logger(),
	}, nil
}

// Lookup implements fallback.Directory.
func (d *FirestoreDirectory) Lookup(ctx context.Context, userID string) (fallback.Contact, error) {
	snap, err := d.client.Collection(d.collection).Doc(userID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return fallback.Contact{}, fallback.ErrContactNotFound
	}
	if err != nil {
		return fallback.Contact{}, fmt.Errorf("failed to get contact document: %w", err)
	}

	var doc contactDoc
	if err := snap.DataTo(&doc); err != nil {
		d.logger.Error().Err(err).Str("user", userID).Msg("Failed to decode contact document")
		return fallback.Contact{}, fmt.Errorf("failed to decode contact document: %w", err)
	}
	return fallback.Contact{
		UserID:         userID,
		Phone:          doc.Phone,
		TelegramChatID: doc.TelegramChatID,
		PushRecipient:  doc.PushRecipient,
	}, nil
}

// PutContact writes a user's contact document, replacing any existing one.
func (d *FirestoreDirectory) PutContact(ctx context.Context, c fallback.Contact) error {
	if c.UserID == "" {
		return fmt.Errorf("contact user id cannot be empty")
	}
	_, err := d.client.Collection(d.collection).Doc(c.UserID).Set(ctx, contactDoc{
		Phone:          c.Phone,
		TelegramChatID: c.TelegramChatID,
		PushRecipient:  c.PushRecipient,
	})
	if err != nil {
		return fmt.Errorf("failed to store contact document: %w", err)
	}
	return nil
}
