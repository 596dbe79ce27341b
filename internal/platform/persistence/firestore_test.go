//go:build integration

/*
File: internal/platform/persistence/firestore_test.go
Description: Integration test for the Firestore directory. Requires
FIRESTORE_EMULATOR_HOST to point at a running emulator.
*/
package persistence_test

import (
	"context"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-alerting-service/internal/fallback"
	"github.com/tinywideclouds/go-alerting-service/internal/platform/persistence"
)

// firestoreFixture holds the shared resources for all tests in this file.
type firestoreFixture struct {
	ctx       context.Context
	fsClient  *firestore.Client
	directory *persistence.FirestoreDirectory
}

// setupFirestore connects to the emulator named by FIRESTORE_EMULATOR_HOST.
func setupFirestore(t *testing.T) *firestoreFixture {
	t.Helper()
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set, skipping firestore integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	const projectID = "test-project-persistence"
	fsClient, err := firestore.NewClient(ctx, projectID)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = fsClient.Close()
	})

	// A fresh collection per test keeps runs independent.
	directory, err := persistence.NewFirestoreDirectory(fsClient, "contacts-"+uuid.NewString(), zerolog.Nop())
	require.NoError(t, err)

	return &firestoreFixture{ctx: ctx, fsClient: fsClient, directory: directory}
}

func TestFirestoreDirectory_PutAndLookup(t *testing.T) {
	f := setupFirestore(t)

	want := fallback.Contact{UserID: "user-alice", Phone: "+2348031234567", TelegramChatID: "987"}
	require.NoError(t, f.directory.PutContact(f.ctx, want))

	got, err := f.directory.Lookup(f.ctx, "user-alice")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFirestoreDirectory_NotFound(t *testing.T) {
	f := setupFirestore(t)

	_, err := f.directory.Lookup(f.ctx, "user-nobody")
	assert.ErrorIs(t, err, fallback.ErrContactNotFound)
}
