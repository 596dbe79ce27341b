// --- File: internal/platform/persistence/adapters.go ---
// Package persistence contains components for interacting with data stores.
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/tinywideclouds/go-alerting-service/internal/fallback"
)

// DefaultDirectoryCacheSize caps the number of users held by a CachingDirectory.
const DefaultDirectoryCacheSize = 10000

// CachingDirectory is a read-through cache in front of another directory.
// Misses (ErrContactNotFound) are cached too so an unknown user does not hit
// the backend on every alert; other errors are never cached.
type CachingDirectory struct {
	next    fallback.Directory
	entries *expirable.LRU[string, cachedContact]
}

type cachedContact struct {
	contact  fallback.Contact
	notFound bool
}

// NewCachingDirectory wraps next. A non-positive ttl disables caching and
// returns next unchanged.
func NewCachingDirectory(next fallback.Directory, ttl time.Duration) fallback.Directory {
	if ttl <= 0 {
		return next
	}
	return &CachingDirectory{
		next:    next,
		entries: expirable.NewLRU[string, cachedContact](DefaultDirectoryCacheSize, nil, ttl),
	}
}

// Lookup satisfies fallback.Directory.
func (d *CachingDirectory) Lookup(ctx context.Context, userID string) (fallback.Contact, error) {
	if e, ok := d.entries.Get(userID); ok {
		if e.notFound {
			return fallback.Contact{}, fallback.ErrContactNotFound
		}
		return e.contact, nil
	}

	contact, err := d.next.Lookup(ctx, userID)
	notFound := errors.Is(err, fallback.ErrContactNotFound)
	if err != nil && !notFound {
		return fallback.Contact{}, err
	}
	d.entries.Add(userID, cachedContact{contact: contact, notFound: notFound})
	return contact, err
}

// Invalidate drops a cached entry after the user's contact changes.
func (d *CachingDirectory) Invalidate(userID string) {
	d.entries.Remove(userID)
}

// Len reports how many users are cached.
func (d *CachingDirectory) Len() int {
	return d.entries.Len()
}
