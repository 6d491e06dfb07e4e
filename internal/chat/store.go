// Package chat implements the client-side messaging core: the per-counterpart
// message store with optimistic reconciliation, the conversation index, and
// the service that composes them with the transport channel and the trackers.
package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coachchat/internal/logger"
	"github.com/coachchat/internal/model"
	"github.com/coachchat/internal/transport"
)

// persistTimeout bounds the detached persistence call for one send. An
// in-flight send is never cancelled by UI teardown; the store outlives it.
const persistTimeout = 30 * time.Second

// Backend is the slice of the API client the store consumes.
type Backend interface {
	History(ctx context.Context, counterpartID string) ([]model.Message, error)
	AllMessages(ctx context.Context) ([]model.Message, error)
	CreateMessage(ctx context.Context, m model.Message) (*model.Message, error)
}

// Store is the single source of truth for fetched, sent and received
// messages, partitioned per counterpart. All mutation is serialized behind
// one mutex; the original design relied on a single-threaded event loop and
// that safety has to be explicit here.
type Store struct {
	mu         sync.Mutex
	authUserID string
	backend    Backend
	emitter    transport.Emitter // nil when no channel is connected
	partitions map[string][]model.Message
	subs       []func(StoreEvent)
}

func NewStore(authUserID string, backend Backend, emitter transport.Emitter) *Store {
	return &Store{
		authUserID: authUserID,
		backend:    backend,
		emitter:    emitter,
		partitions: make(map[string][]model.Message),
	}
}

// Subscribe registers a callback for store events. Callbacks run outside the
// store's lock and may call back into the store.
func (s *Store) Subscribe(fn func(StoreEvent)) {
	s.mu.Lock()
	s.subs = append(s.subs, fn)
	s.mu.Unlock()
}

func (s *Store) publish(ev StoreEvent) {
	s.mu.Lock()
	subs := make([]func(StoreEvent), len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

// Messages returns the partition for counterpartID in insertion order. The
// slice is a copy. Insertion order is not guaranteed to be chronological;
// callers that need strict ordering use MessagesByTime.
func (s *Store) Messages(counterpartID string) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	part := s.partitions[counterpartID]
	out := make([]model.Message, len(part))
	copy(out, part)
	return out
}

// MessagesByTime returns the partition sorted by created_at for display.
func (s *Store) MessagesByTime(counterpartID string) []model.Message {
	out := s.Messages(counterpartID)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len reports how many messages the counterpart's partition holds.
func (s *Store) Len(counterpartID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.partitions[counterpartID])
}

// Counterparts lists the ids that currently have a partition.
func (s *Store) Counterparts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.partitions))
	for id := range s.partitions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// LoadHistory fetches the full history with one counterpart and replaces
// that partition. On error the prior state is left intact.
func (s *Store) LoadHistory(ctx context.Context, counterpartID string) ([]model.Message, error) {
	defer logger.DeferLogDuration("store.LoadHistory", time.Now())()
	msgs, err := s.backend.History(ctx, counterpartID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.partitions[counterpartID] = msgs
	s.mu.Unlock()
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// LoadAll fetches every message for the authenticated user, partitions by
// counterpart and replaces the whole store. Full resync, not a merge.
func (s *Store) LoadAll(ctx context.Context) error {
	defer logger.DeferLogDuration("store.LoadAll", time.Now())()
	msgs, err := s.backend.AllMessages(ctx)
	if err != nil {
		return err
	}
	parts := make(map[string][]model.Message)
	for _, m := range msgs {
		id := m.Counterpart(s.authUserID)
		parts[id] = append(parts[id], m)
	}
	s.mu.Lock()
	s.partitions = parts
	s.mu.Unlock()
	return nil
}

// SendRequest describes one outbound message.
type SendRequest struct {
	ReceiverID string
	Content    string
	Type       model.MessageType
	Meta       model.Metadata
	ReplyToID  *string
}

// Send inserts an optimistic entry synchronously, so the sender sees the
// message before any I/O, then emits it over the channel (best-effort) and
// persists it via the backend in the background. The confirmed record
// replaces the optimistic entry in place when the response lands; on failure
// the entry is marked failed and a MessageFailed event is published.
func (s *Store) Send(req SendRequest) model.Message {
	msgType := req.Type
	if msgType == "" {
		msgType = model.MessageTypeText
	}
	m := model.Message{
		ClientRef:  uuid.New().String(),
		SenderID:   s.authUserID,
		ReceiverID: req.ReceiverID,
		Content:    req.Content,
		Type:       msgType,
		Meta:       req.Meta,
		ReplyToID:  req.ReplyToID,
		Status:     model.MessageStatusPending,
		CreatedAt:  time.Now().UTC(),
	}

	s.mu.Lock()
	s.partitions[req.ReceiverID] = append(s.partitions[req.ReceiverID], m)
	s.mu.Unlock()

	if s.emitter != nil {
		if err := s.emitter.Emit(transport.EventSendMessage, m); err != nil {
			// Latency path only; the API call below is the durability path.
			logger.Errorf("store: emit send-message: %v", err)
		}
	}

	go s.persist(m)
	return m
}

func (s *Store) persist(m model.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	confirmed, err := s.backend.CreateMessage(ctx, m)
	if err != nil {
		logger.Errorf("store: persist message ref=%s: %v", m.ClientRef, err)
		s.markFailed(m.ReceiverID, m.ClientRef)
		return
	}
	if confirmed.ClientRef == "" {
		confirmed.ClientRef = m.ClientRef
	}
	s.confirm(m.ReceiverID, m.ClientRef, *confirmed)
}

func (s *Store) markFailed(counterpartID, clientRef string) {
	s.mu.Lock()
	var failed *model.Message
	part := s.partitions[counterpartID]
	for i := range part {
		if part[i].ClientRef == clientRef && part[i].Pending() {
			part[i].Status = model.MessageStatusFailed
			cp := part[i]
			failed = &cp
			break
		}
	}
	s.mu.Unlock()
	if failed != nil {
		s.publish(StoreEvent{Kind: EventMessageFailed, CounterpartID: counterpartID, Message: *failed})
	}
}

// confirm replaces the pending entry matching clientRef with the confirmed
// record, in place. Falls back to the (pending, receiver, content) heuristic
// for backends that drop the ref, and appends on a reconciliation miss: a
// concurrent full resync may have dropped the pending entry, and the
// confirmed message must never be lost.
func (s *Store) confirm(counterpartID, clientRef string, confirmed model.Message) {
	if confirmed.Status == "" || confirmed.Status == model.MessageStatusPending {
		confirmed.Status = model.MessageStatusSent
	}

	s.mu.Lock()
	part := s.partitions[counterpartID]
	idx := -1
	for i := range part {
		if part[i].ClientRef == clientRef && part[i].Pending() {
			idx = i
			break
		}
	}
	if idx < 0 && confirmed.ID != "" {
		// The channel echo may have reconciled this entry already.
		for i := range part {
			if part[i].ID == confirmed.ID {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		for i := range part {
			if part[i].Pending() && part[i].ReceiverID == confirmed.ReceiverID && part[i].Content == confirmed.Content {
				idx = i
				break
			}
		}
	}
	if idx >= 0 {
		part[idx] = confirmed
	} else {
		logger.Infof("store: reconciliation miss ref=%s, appending confirmed message", clientRef)
		s.partitions[counterpartID] = append(part, confirmed)
	}
	s.mu.Unlock()

	s.publish(StoreEvent{Kind: EventMessageConfirmed, CounterpartID: counterpartID, Message: confirmed})
}

// Receive merges one inbound channel event into the store. Idempotent on the
// durable id; an echo of the user's own send (same client_ref) reconciles the
// pending entry instead of duplicating it.
func (s *Store) Receive(m model.Message) {
	counterpartID := m.Counterpart(s.authUserID)
	if m.Status == "" || m.Status == model.MessageStatusPending {
		m.Status = model.MessageStatusSent
	}

	s.mu.Lock()
	part := s.partitions[counterpartID]
	if m.ID != "" {
		for i := range part {
			if part[i].ID == m.ID {
				s.mu.Unlock()
				return
			}
		}
	}
	if m.ClientRef != "" && m.SenderID == s.authUserID {
		for i := range part {
			if part[i].ClientRef == m.ClientRef && part[i].Pending() {
				part[i] = m
				s.mu.Unlock()
				return
			}
		}
	}
	s.partitions[counterpartID] = append(part, m)
	s.mu.Unlock()

	if m.SenderID != s.authUserID {
		s.publish(StoreEvent{Kind: EventMessageReceived, CounterpartID: counterpartID, Message: m})
	}
}

// Retry re-issues the persistence call for a failed entry. The entry goes
// back to pending so a second failure is reported again.
func (s *Store) Retry(counterpartID, clientRef string) bool {
	s.mu.Lock()
	var retry *model.Message
	part := s.partitions[counterpartID]
	for i := range part {
		if part[i].ClientRef == clientRef && part[i].Status == model.MessageStatusFailed {
			part[i].Status = model.MessageStatusPending
			cp := part[i]
			retry = &cp
			break
		}
	}
	s.mu.Unlock()
	if retry == nil {
		return false
	}
	go s.persist(*retry)
	return true
}

// Discard removes a failed entry from its partition.
func (s *Store) Discard(counterpartID, clientRef string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	part := s.partitions[counterpartID]
	for i := range part {
		if part[i].ClientRef == clientRef && part[i].Status == model.MessageStatusFailed {
			s.partitions[counterpartID] = append(part[:i], part[i+1:]...)
			return true
		}
	}
	return false
}

// MarkReadBy records that counterpart readerID has read the conversation:
// the user's own delivered messages in that partition move to status read.
func (s *Store) MarkReadBy(readerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	part := s.partitions[readerID]
	for i := range part {
		if part[i].SenderID == s.authUserID &&
			(part[i].Status == model.MessageStatusSent || part[i].Status == model.MessageStatusDelivered) {
			part[i].Status = model.MessageStatusRead
		}
	}
}

// ApplyReaction adds or removes a reaction on a message, wherever it lives.
func (s *Store) ApplyReaction(messageID string, r model.Reaction, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, part := range s.partitions {
		for i := range part {
			if part[i].ID != messageID {
				continue
			}
			if add {
				part[i].Reactions = append(part[i].Reactions, r)
			} else {
				kept := part[i].Reactions[:0]
				for _, existing := range part[i].Reactions {
					if existing.UserID == r.UserID && existing.Emoji == r.Emoji {
						continue
					}
					kept = append(kept, existing)
				}
				part[i].Reactions = kept
			}
			s.partitions[id] = part
			return
		}
	}
}
