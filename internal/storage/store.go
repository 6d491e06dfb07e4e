// Package storage defines the durable client storage used by the read/unread
// tracker. The key embeds the authenticated user id, so markers survive a
// reload but not a login as a different user.
package storage

import "context"

// MarkerStore persists the set of counterpart ids a user has marked read.
// Implementations: file.Store (the durable default), memory.Store (tests and
// throwaway sessions), redis.Store (shared across devices).
type MarkerStore interface {
	Load(ctx context.Context, key string) ([]string, error)
	Save(ctx context.Context, key string, ids []string) error
	Close() error
}

// Key returns the storage key for a user's read markers.
func Key(authUserID string) string {
	return "read_markers_" + authUserID
}
