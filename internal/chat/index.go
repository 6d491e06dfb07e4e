package chat

import (
	"context"
	"sync"
	"time"

	"github.com/coachchat/internal/cache"
	"github.com/coachchat/internal/model"
)

const conversationsCacheKey = "conversations"

// ConversationSource is the slice of the API client the index consumes.
type ConversationSource interface {
	Conversations(ctx context.Context) ([]model.Conversation, error)
}

// Index holds the ordered list of counterparts the user has a thread with.
// Entries are never removed individually; the list only grows (Ensure, Touch)
// or is wholly replaced (Refresh).
type Index struct {
	mu     sync.RWMutex
	source ConversationSource
	cache  *cache.Cache[[]model.Conversation]
	list   []model.Conversation
	byID   map[string]int
}

func NewIndex(source ConversationSource, c *cache.Cache[[]model.Conversation]) *Index {
	return &Index{
		source: source,
		cache:  c,
		byID:   make(map[string]int),
	}
}

// Refresh replaces the list from the backend. Within the cache TTL the last
// fetched list is reused; Invalidate forces the next Refresh to hit the
// backend.
func (ix *Index) Refresh(ctx context.Context) ([]model.Conversation, error) {
	if cached, ok := ix.cache.Get(conversationsCacheKey); ok {
		ix.replace(cached)
		return ix.All(), nil
	}
	convs, err := ix.source.Conversations(ctx)
	if err != nil {
		return nil, err
	}
	ix.cache.Set(conversationsCacheKey, convs)
	ix.replace(convs)
	return ix.All(), nil
}

// Invalidate drops the cached conversation list.
func (ix *Index) Invalidate() {
	ix.cache.Invalidate(conversationsCacheKey)
}

func (ix *Index) replace(convs []model.Conversation) {
	list := make([]model.Conversation, len(convs))
	copy(list, convs)
	byID := make(map[string]int, len(list))
	for i, c := range list {
		byID[c.CounterpartID] = i
	}
	ix.mu.Lock()
	ix.list = list
	ix.byID = byID
	ix.mu.Unlock()
}

// Ensure adds a provisional entry sourced from an external profile record,
// so a thread started from the client list renders without a round trip.
// No-op when the counterpart is already indexed.
func (ix *Index) Ensure(p model.CounterpartProfile) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, ok := ix.byID[p.ID]; ok {
		return
	}
	ix.byID[p.ID] = len(ix.list)
	ix.list = append(ix.list, model.Conversation{
		CounterpartID: p.ID,
		Name:          p.Name,
		AvatarURL:     p.AvatarURL,
		UpdatedAt:     time.Now().UTC(),
	})
}

// Touch records message activity with a counterpart: updates the denormalized
// last message, creating the entry if this is the first local contact.
func (ix *Index) Touch(counterpartID string, m model.Message) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	i, ok := ix.byID[counterpartID]
	if !ok {
		i = len(ix.list)
		ix.byID[counterpartID] = i
		ix.list = append(ix.list, model.Conversation{CounterpartID: counterpartID})
	}
	cp := m
	ix.list[i].LastMessage = &cp
	ix.list[i].UpdatedAt = m.CreatedAt
}

// All returns a copy of the current list.
func (ix *Index) All() []model.Conversation {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]model.Conversation, len(ix.list))
	copy(out, ix.list)
	return out
}

// Get returns the entry for counterpartID, if indexed.
func (ix *Index) Get(counterpartID string) (model.Conversation, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	i, ok := ix.byID[counterpartID]
	if !ok {
		return model.Conversation{}, false
	}
	return ix.list[i], true
}
