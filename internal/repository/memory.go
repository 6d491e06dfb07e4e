package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coachchat/internal/model"
)

// Memory keeps all messages in process memory. The default backend store for
// local runs and tests; state is lost on restart.
type Memory struct {
	mu       sync.RWMutex
	messages []model.Message
	byID     map[string]int
	byRef    map[string]int
}

func NewMemory() *Memory {
	return &Memory{
		byID:  make(map[string]int),
		byRef: make(map[string]int),
	}
}

func (r *Memory) Save(ctx context.Context, m *model.Message) (*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.ClientRef != "" {
		if i, ok := r.byRef[m.ClientRef]; ok {
			existing := r.messages[i]
			return &existing, nil
		}
	}
	saved := *m
	if saved.ID == "" {
		saved.ID = uuid.New().String()
	}
	if saved.CreatedAt.IsZero() {
		saved.CreatedAt = time.Now().UTC()
	}
	saved.Status = model.MessageStatusSent
	r.byID[saved.ID] = len(r.messages)
	if saved.ClientRef != "" {
		r.byRef[saved.ClientRef] = len(r.messages)
	}
	r.messages = append(r.messages, saved)
	out := saved
	return &out, nil
}

func (r *Memory) GetByID(ctx context.Context, id string) (*model.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	m := r.messages[i]
	return &m, nil
}

func (r *Memory) Between(ctx context.Context, userA, userB string) ([]model.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.Message
	for _, m := range r.messages {
		if (m.SenderID == userA && m.ReceiverID == userB) || (m.SenderID == userB && m.ReceiverID == userA) {
			out = append(out, m)
		}
	}
	sortByCreated(out)
	return out, nil
}

func (r *Memory) ForUser(ctx context.Context, userID string) ([]model.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.Message
	for _, m := range r.messages {
		if m.SenderID == userID || m.ReceiverID == userID {
			out = append(out, m)
		}
	}
	sortByCreated(out)
	return out, nil
}

func (r *Memory) MarkRead(ctx context.Context, readerID, counterpartID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.messages {
		m := &r.messages[i]
		if m.SenderID == counterpartID && m.ReceiverID == readerID && m.Status != model.MessageStatusRead {
			m.Status = model.MessageStatusRead
		}
	}
	return nil
}

func (r *Memory) AddReaction(ctx context.Context, reaction model.Reaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.byID[reaction.MessageID]
	if !ok {
		return ErrNotFound
	}
	for _, existing := range r.messages[i].Reactions {
		if existing.UserID == reaction.UserID && existing.Emoji == reaction.Emoji {
			return nil
		}
	}
	r.messages[i].Reactions = append(r.messages[i].Reactions, reaction)
	return nil
}

func (r *Memory) RemoveReaction(ctx context.Context, messageID, userID, emoji string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.byID[messageID]
	if !ok {
		return ErrNotFound
	}
	kept := r.messages[i].Reactions[:0]
	for _, existing := range r.messages[i].Reactions {
		if existing.UserID == userID && existing.Emoji == emoji {
			continue
		}
		kept = append(kept, existing)
	}
	r.messages[i].Reactions = kept
	return nil
}

func (r *Memory) Conversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	last := make(map[string]model.Message)
	unread := make(map[string]int)
	for _, m := range r.messages {
		if m.SenderID != userID && m.ReceiverID != userID {
			continue
		}
		cp := m.Counterpart(userID)
		if prev, ok := last[cp]; !ok || m.CreatedAt.After(prev.CreatedAt) {
			last[cp] = m
		}
		if m.SenderID == cp && m.Status != model.MessageStatusRead {
			unread[cp]++
		}
	}
	out := make([]model.Conversation, 0, len(last))
	for cp, m := range last {
		lm := m
		out = append(out, model.Conversation{
			CounterpartID: cp,
			Name:          cp,
			LastMessage:   &lm,
			UnreadCount:   unread[cp],
			UpdatedAt:     m.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func sortByCreated(msgs []model.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}
