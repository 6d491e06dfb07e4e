package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/coachchat/internal/api"
	"github.com/coachchat/internal/cache"
	"github.com/coachchat/internal/logger"
	"github.com/coachchat/internal/model"
	"github.com/coachchat/internal/readstate"
	"github.com/coachchat/internal/storage"
	"github.com/coachchat/internal/transport"
	"github.com/coachchat/internal/typing"
)

// markerSaveTimeout bounds marker persistence triggered from event handlers.
const markerSaveTimeout = 5 * time.Second

// Options configures a Service. API, Markers and AuthUserID are required;
// Channel may be nil for an offline session, in which case sends still
// persist via the API and nothing is emitted.
type Options struct {
	AuthUserID   string
	API          *api.Client
	Channel      *transport.Client
	Markers      storage.MarkerStore
	TypingWindow time.Duration
	CacheTTL     time.Duration
}

// Service is the composition root of the messaging core. It owns the wiring
// between components: channel events into the store, store events into the
// read tracker and the index.
type Service struct {
	authUserID string
	api        *api.Client
	channel    *transport.Client
	store      *Store
	index      *Index
	typing     *typing.Tracker
	read       *readstate.Tracker
}

func NewService(ctx context.Context, opts Options) (*Service, error) {
	if opts.AuthUserID == "" {
		return nil, fmt.Errorf("chat: auth user id required")
	}
	if opts.API == nil {
		return nil, fmt.Errorf("chat: api client required")
	}
	if opts.Markers == nil {
		return nil, fmt.Errorf("chat: marker store required")
	}

	var emitter transport.Emitter
	if opts.Channel != nil {
		emitter = opts.Channel
	}

	read, err := readstate.New(ctx, opts.Markers, opts.AuthUserID)
	if err != nil {
		return nil, err
	}

	s := &Service{
		authUserID: opts.AuthUserID,
		api:        opts.API,
		channel:    opts.Channel,
		store:      NewStore(opts.AuthUserID, opts.API, emitter),
		index:      NewIndex(opts.API, cache.New[[]model.Conversation](opts.CacheTTL)),
		typing:     typing.New(emitter, opts.TypingWindow),
		read:       read,
	}

	s.store.Subscribe(s.onStoreEvent)
	if s.channel != nil {
		s.channel.OnEvent(s.onChannelEvent)
	}
	return s, nil
}

func (s *Service) onStoreEvent(ev StoreEvent) {
	switch ev.Kind {
	case EventMessageReceived:
		ctx, cancel := context.WithTimeout(context.Background(), markerSaveTimeout)
		if err := s.read.MarkUnread(ctx, ev.CounterpartID); err != nil {
			logger.Errorf("chat: mark unread %s: %v", ev.CounterpartID, err)
		}
		cancel()
		s.index.Touch(ev.CounterpartID, ev.Message)
	case EventMessageConfirmed:
		s.index.Touch(ev.CounterpartID, ev.Message)
	case EventMessageFailed:
		logger.Errorf("chat: send to %s failed (ref=%s)", ev.CounterpartID, ev.Message.ClientRef)
	}
}

func (s *Service) onChannelEvent(ev transport.Event) {
	switch ev.Type {
	case transport.EventReceiveMessage:
		m, err := ev.DecodeMessage()
		if err != nil {
			logger.Errorf("chat: decode receive-message: %v", err)
			return
		}
		s.store.Receive(*m)
	case transport.EventTyping:
		p, err := ev.DecodeTyping()
		if err != nil {
			logger.Errorf("chat: decode typing: %v", err)
			return
		}
		s.typing.HandleRemote(p.UserID, p.IsTyping)
	case transport.EventMessageRead:
		p, err := ev.DecodeRead()
		if err != nil {
			logger.Errorf("chat: decode message-read: %v", err)
			return
		}
		s.store.MarkReadBy(p.UserID)
	case transport.EventError:
		logger.Errorf("chat: channel error event: %s", string(ev.Payload))
	}
}

// Store exposes the message store for rendering.
func (s *Service) Store() *Store { return s.store }

// Index exposes the conversation index.
func (s *Service) Index() *Index { return s.index }

// Sync primes the store with the full message set and the conversation list.
// Existing partitions are discarded (full resync).
func (s *Service) Sync(ctx context.Context) error {
	if err := s.store.LoadAll(ctx); err != nil {
		return err
	}
	if _, err := s.index.Refresh(ctx); err != nil {
		return err
	}
	return nil
}

// Open loads the conversation with counterpartID and marks it read.
func (s *Service) Open(ctx context.Context, counterpartID string) ([]model.Message, error) {
	msgs, err := s.store.LoadHistory(ctx, counterpartID)
	if err != nil {
		return nil, err
	}
	if err := s.MarkRead(ctx, counterpartID); err != nil {
		logger.Errorf("chat: mark read %s: %v", counterpartID, err)
	}
	return msgs, nil
}

// Send dispatches one message: optimistic insert, channel emit, background
// persistence. The returned message is the optimistic entry.
func (s *Service) Send(req SendRequest) model.Message {
	m := s.store.Send(req)
	s.index.Touch(req.ReceiverID, m)
	return m
}

// Retry re-issues the persistence call for a failed send.
func (s *Service) Retry(counterpartID, clientRef string) bool {
	return s.store.Retry(counterpartID, clientRef)
}

// Discard drops a failed send from its partition.
func (s *Service) Discard(counterpartID, clientRef string) bool {
	return s.store.Discard(counterpartID, clientRef)
}

// MarkRead sets the local marker, persists it, tells the backend and relays
// the read signal over the channel.
func (s *Service) MarkRead(ctx context.Context, counterpartID string) error {
	if err := s.read.MarkRead(ctx, counterpartID); err != nil {
		return err
	}
	if err := s.api.MarkRead(ctx, counterpartID); err != nil {
		logger.Errorf("chat: backend mark read %s: %v", counterpartID, err)
	}
	if s.channel != nil {
		if err := s.channel.Emit(transport.EventMessageRead, transport.ReadPayload{ReceiverID: counterpartID}); err != nil {
			logger.Errorf("chat: emit message-read: %v", err)
		}
	}
	return nil
}

// HasUnread reports whether counterpartID has at least one message in the
// store and no read marker.
func (s *Service) HasUnread(counterpartID string) bool {
	return s.store.Len(counterpartID) > 0 && !s.read.IsRead(counterpartID)
}

// NotifyTyping broadcasts the local typing state for the conversation.
func (s *Service) NotifyTyping(counterpartID string, isTyping bool) {
	s.typing.NotifyTyping(counterpartID, isTyping)
}

// IsTyping reports whether the counterpart is typing right now.
func (s *Service) IsTyping(counterpartID string) bool {
	return s.typing.IsTyping(counterpartID)
}

// StartThread adds a provisional conversation from an external profile.
func (s *Service) StartThread(p model.CounterpartProfile) {
	s.index.Ensure(p)
}

// React adds or removes the user's reaction on a message, backend first,
// then the local copy.
func (s *Service) React(ctx context.Context, messageID, emoji string, add bool) error {
	var err error
	if add {
		err = s.api.AddReaction(ctx, messageID, emoji)
	} else {
		err = s.api.RemoveReaction(ctx, messageID, emoji)
	}
	if err != nil {
		return err
	}
	s.store.ApplyReaction(messageID, model.Reaction{
		MessageID: messageID,
		UserID:    s.authUserID,
		Emoji:     emoji,
		CreatedAt: time.Now().UTC(),
	}, add)
	return nil
}

// Close stops typing timers and tears down the channel. In-flight persistence
// calls are left to land in the store, which outlives the session view.
func (s *Service) Close() {
	s.typing.Stop()
	if s.channel != nil {
		s.channel.Close()
		s.channel.Wait()
	}
}
