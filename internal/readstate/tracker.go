// Package readstate tracks the per-counterpart read marker: "has the user
// opened this conversation since the last inbound message". Markers persist
// in durable client storage scoped by the authenticated user id, so they
// survive a reload but not a login as a different user.
package readstate

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/coachchat/internal/storage"
)

type Tracker struct {
	mu    sync.Mutex
	store storage.MarkerStore
	key   string
	read  map[string]struct{}
}

// New loads the persisted markers for authUserID.
func New(ctx context.Context, store storage.MarkerStore, authUserID string) (*Tracker, error) {
	t := &Tracker{
		store: store,
		key:   storage.Key(authUserID),
		read:  make(map[string]struct{}),
	}
	ids, err := store.Load(ctx, t.key)
	if err != nil {
		return nil, fmt.Errorf("readstate: load markers: %w", err)
	}
	for _, id := range ids {
		t.read[id] = struct{}{}
	}
	return t, nil
}

// MarkRead sets the marker for counterpartID and persists immediately.
func (t *Tracker) MarkRead(ctx context.Context, counterpartID string) error {
	t.mu.Lock()
	t.read[counterpartID] = struct{}{}
	snapshot := t.snapshotLocked()
	t.mu.Unlock()
	return t.store.Save(ctx, t.key, snapshot)
}

// MarkUnread clears the marker; called for every inbound message from the
// counterpart, even if the conversation was previously marked read.
func (t *Tracker) MarkUnread(ctx context.Context, counterpartID string) error {
	t.mu.Lock()
	_, had := t.read[counterpartID]
	delete(t.read, counterpartID)
	snapshot := t.snapshotLocked()
	t.mu.Unlock()
	if !had {
		return nil
	}
	return t.store.Save(ctx, t.key, snapshot)
}

// IsRead reports whether the marker is set for counterpartID.
func (t *Tracker) IsRead(counterpartID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.read[counterpartID]
	return ok
}

func (t *Tracker) snapshotLocked() []string {
	out := make([]string, 0, len(t.read))
	for id := range t.read {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
