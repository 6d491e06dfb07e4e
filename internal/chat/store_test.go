package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coachchat/internal/model"
)

type fakeBackend struct {
	mu       sync.Mutex
	history  map[string][]model.Message
	all      []model.Message
	allErr   error
	createFn func(m model.Message) (*model.Message, error)
}

func (b *fakeBackend) History(ctx context.Context, counterpartID string) ([]model.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.history == nil {
		return nil, errors.New("history unavailable")
	}
	return b.history[counterpartID], nil
}

func (b *fakeBackend) AllMessages(ctx context.Context) ([]model.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.all, b.allErr
}

func (b *fakeBackend) CreateMessage(ctx context.Context, m model.Message) (*model.Message, error) {
	b.mu.Lock()
	fn := b.createFn
	b.mu.Unlock()
	if fn == nil {
		confirmed := m
		confirmed.ID = "srv-" + m.ClientRef
		confirmed.Status = model.MessageStatusSent
		return &confirmed, nil
	}
	return fn(m)
}

func (b *fakeBackend) setCreate(fn func(m model.Message) (*model.Message, error)) {
	b.mu.Lock()
	b.createFn = fn
	b.mu.Unlock()
}

// collect subscribes to the store and returns a channel of its events.
func collect(s *Store) <-chan StoreEvent {
	ch := make(chan StoreEvent, 16)
	s.Subscribe(func(ev StoreEvent) { ch <- ev })
	return ch
}

func waitEvent(t *testing.T, ch <-chan StoreEvent, kind EventKind) StoreEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

func TestSendOptimisticThenConfirmed(t *testing.T) {
	backend := &fakeBackend{}
	s := NewStore("me", backend, nil)
	events := collect(s)

	m := s.Send(SendRequest{ReceiverID: "c1", Content: "hello"})
	if m.ClientRef == "" {
		t.Fatal("optimistic entry has no client ref")
	}
	if m.Status != model.MessageStatusPending {
		t.Fatalf("optimistic status = %s", m.Status)
	}
	if m.ID != "" {
		t.Fatalf("optimistic entry has backend id %q", m.ID)
	}

	waitEvent(t, events, EventMessageConfirmed)
	msgs := s.Messages("c1")
	if len(msgs) != 1 {
		t.Fatalf("partition has %d entries, want 1", len(msgs))
	}
	if msgs[0].ID != "srv-"+m.ClientRef {
		t.Errorf("confirmed id = %q", msgs[0].ID)
	}
	if msgs[0].Status != model.MessageStatusSent {
		t.Errorf("confirmed status = %s", msgs[0].Status)
	}
}

func TestDuplicateRapidSendsReconcileIndependently(t *testing.T) {
	backend := &fakeBackend{}
	s := NewStore("me", backend, nil)
	events := collect(s)

	// Same content, same receiver, back to back. Each optimistic entry must
	// reconcile against its own confirmation via its ref.
	a := s.Send(SendRequest{ReceiverID: "c1", Content: "ok"})
	b := s.Send(SendRequest{ReceiverID: "c1", Content: "ok"})
	if a.ClientRef == b.ClientRef {
		t.Fatal("two sends share a client ref")
	}

	waitEvent(t, events, EventMessageConfirmed)
	waitEvent(t, events, EventMessageConfirmed)

	msgs := s.Messages("c1")
	if len(msgs) != 2 {
		t.Fatalf("partition has %d entries, want 2", len(msgs))
	}
	seen := map[string]bool{}
	for _, m := range msgs {
		if m.Status != model.MessageStatusSent {
			t.Errorf("status = %s", m.Status)
		}
		if seen[m.ID] {
			t.Errorf("duplicate id %q", m.ID)
		}
		seen[m.ID] = true
	}
}

func TestSendFailureMarksFailedAndRetryRecovers(t *testing.T) {
	backend := &fakeBackend{}
	backend.setCreate(func(m model.Message) (*model.Message, error) {
		return nil, errors.New("backend down")
	})
	s := NewStore("me", backend, nil)
	events := collect(s)

	m := s.Send(SendRequest{ReceiverID: "c1", Content: "hello"})
	waitEvent(t, events, EventMessageFailed)

	msgs := s.Messages("c1")
	if len(msgs) != 1 || msgs[0].Status != model.MessageStatusFailed {
		t.Fatalf("partition = %+v, want one failed entry", msgs)
	}

	backend.setCreate(nil) // backend recovers
	if !s.Retry("c1", m.ClientRef) {
		t.Fatal("Retry found no failed entry")
	}
	waitEvent(t, events, EventMessageConfirmed)

	msgs = s.Messages("c1")
	if len(msgs) != 1 || msgs[0].Status != model.MessageStatusSent {
		t.Fatalf("partition after retry = %+v", msgs)
	}
}

func TestDiscardRemovesFailedEntry(t *testing.T) {
	backend := &fakeBackend{}
	backend.setCreate(func(m model.Message) (*model.Message, error) {
		return nil, errors.New("backend down")
	})
	s := NewStore("me", backend, nil)
	events := collect(s)

	m := s.Send(SendRequest{ReceiverID: "c1", Content: "hello"})
	waitEvent(t, events, EventMessageFailed)

	if !s.Discard("c1", m.ClientRef) {
		t.Fatal("Discard found no failed entry")
	}
	if n := s.Len("c1"); n != 0 {
		t.Errorf("partition has %d entries after discard", n)
	}
	if s.Discard("c1", m.ClientRef) {
		t.Error("second Discard reported success")
	}
}

func TestRetryRejectsNonFailedEntry(t *testing.T) {
	backend := &fakeBackend{}
	s := NewStore("me", backend, nil)
	events := collect(s)
	m := s.Send(SendRequest{ReceiverID: "c1", Content: "hello"})
	waitEvent(t, events, EventMessageConfirmed)
	if s.Retry("c1", m.ClientRef) {
		t.Error("Retry succeeded on a confirmed entry")
	}
}

func TestReceiveIsIdempotentOnDurableID(t *testing.T) {
	s := NewStore("me", &fakeBackend{}, nil)
	events := collect(s)

	inbound := model.Message{
		ID: "m1", SenderID: "c1", ReceiverID: "me",
		Content: "hi", Status: model.MessageStatusSent, CreatedAt: time.Now(),
	}
	s.Receive(inbound)
	s.Receive(inbound)

	if n := s.Len("c1"); n != 1 {
		t.Fatalf("partition has %d entries, want 1", n)
	}
	waitEvent(t, events, EventMessageReceived)
	select {
	case ev := <-events:
		t.Fatalf("unexpected second event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReceiveOwnEchoReconcilesPendingEntry(t *testing.T) {
	gate := make(chan struct{})
	backend := &fakeBackend{}
	backend.setCreate(func(m model.Message) (*model.Message, error) {
		<-gate
		confirmed := m
		confirmed.ID = "m1"
		confirmed.Status = model.MessageStatusSent
		return &confirmed, nil
	})
	s := NewStore("me", backend, nil)
	events := collect(s)

	m := s.Send(SendRequest{ReceiverID: "c1", Content: "hello"})

	// The channel echo lands before the create response.
	echo := m
	echo.ID = "m1"
	echo.Status = model.MessageStatusSent
	s.Receive(echo)

	msgs := s.Messages("c1")
	if len(msgs) != 1 || msgs[0].ID != "m1" || msgs[0].Status != model.MessageStatusSent {
		t.Fatalf("partition after echo = %+v", msgs)
	}

	close(gate)
	waitEvent(t, events, EventMessageConfirmed)
	if n := s.Len("c1"); n != 1 {
		t.Errorf("partition has %d entries after late confirmation, want 1", n)
	}
}

func TestReceiveOwnEchoPublishesNoReceivedEvent(t *testing.T) {
	s := NewStore("me", &fakeBackend{}, nil)
	events := collect(s)
	s.Receive(model.Message{ID: "m1", SenderID: "me", ReceiverID: "c1", Content: "hi"})
	select {
	case ev := <-events:
		t.Fatalf("unexpected event for own echo: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConfirmAppendsOnReconciliationMiss(t *testing.T) {
	s := NewStore("me", &fakeBackend{}, nil)
	confirmed := model.Message{
		ID: "m1", ClientRef: "ref-gone", SenderID: "me", ReceiverID: "c1",
		Content: "hello", Status: model.MessageStatusSent,
	}
	// No pending entry exists (a full resync dropped it).
	s.confirm("c1", "ref-gone", confirmed)
	msgs := s.Messages("c1")
	if len(msgs) != 1 || msgs[0].ID != "m1" {
		t.Fatalf("partition = %+v, want the confirmed message appended", msgs)
	}
}

func TestConfirmHeuristicFallbackWithoutRef(t *testing.T) {
	s := NewStore("me", &fakeBackend{}, nil)
	s.mu.Lock()
	s.partitions["c1"] = []model.Message{{
		ClientRef: "local-ref", SenderID: "me", ReceiverID: "c1",
		Content: "hello", Status: model.MessageStatusPending,
	}}
	s.mu.Unlock()

	// The backend returned a record without the ref; match falls back to the
	// (pending, receiver, content) heuristic.
	s.confirm("c1", "unknown-ref", model.Message{
		ID: "m1", SenderID: "me", ReceiverID: "c1",
		Content: "hello", Status: model.MessageStatusSent,
	})

	msgs := s.Messages("c1")
	if len(msgs) != 1 || msgs[0].ID != "m1" {
		t.Fatalf("partition = %+v, want single reconciled entry", msgs)
	}
}

func TestLoadAllPartitionsByCounterpart(t *testing.T) {
	backend := &fakeBackend{all: []model.Message{
		{ID: "1", SenderID: "me", ReceiverID: "a", Content: "to a"},
		{ID: "2", SenderID: "b", ReceiverID: "me", Content: "from b"},
		{ID: "3", SenderID: "a", ReceiverID: "me", Content: "from a"},
	}}
	s := NewStore("me", backend, nil)
	if err := s.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if got := s.Counterparts(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("Counterparts = %v", got)
	}
	if n := s.Len("a"); n != 2 {
		t.Errorf("partition a has %d entries, want 2", n)
	}
}

func TestLoadAllIsFullResync(t *testing.T) {
	backend := &fakeBackend{all: []model.Message{
		{ID: "1", SenderID: "a", ReceiverID: "me"},
	}}
	s := NewStore("me", backend, nil)
	s.Receive(model.Message{ID: "stale", SenderID: "z", ReceiverID: "me"})

	if err := s.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if n := s.Len("z"); n != 0 {
		t.Errorf("stale partition survived resync")
	}
}

func TestLoadHistoryKeepsStateOnError(t *testing.T) {
	backend := &fakeBackend{history: map[string][]model.Message{
		"c1": {{ID: "1", SenderID: "c1", ReceiverID: "me"}},
	}}
	s := NewStore("me", backend, nil)
	if _, err := s.LoadHistory(context.Background(), "c1"); err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}

	backend.mu.Lock()
	backend.history = nil // history now errors
	backend.mu.Unlock()

	if _, err := s.LoadHistory(context.Background(), "c1"); err == nil {
		t.Fatal("expected history error")
	}
	if n := s.Len("c1"); n != 1 {
		t.Errorf("partition lost on failed reload: %d entries", n)
	}
}

func TestMarkReadBy(t *testing.T) {
	s := NewStore("me", &fakeBackend{}, nil)
	s.Receive(model.Message{ID: "1", SenderID: "me", ReceiverID: "c1", Status: model.MessageStatusSent})
	s.Receive(model.Message{ID: "2", SenderID: "c1", ReceiverID: "me", Status: model.MessageStatusSent})

	s.MarkReadBy("c1")
	for _, m := range s.Messages("c1") {
		if m.SenderID == "me" && m.Status != model.MessageStatusRead {
			t.Errorf("own message status = %s, want read", m.Status)
		}
		if m.SenderID == "c1" && m.Status == model.MessageStatusRead {
			t.Error("inbound message flipped to read")
		}
	}
}

func TestMessagesByTimeSorts(t *testing.T) {
	s := NewStore("me", &fakeBackend{}, nil)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.Receive(model.Message{ID: "2", SenderID: "c1", ReceiverID: "me", CreatedAt: base.Add(time.Minute)})
	s.Receive(model.Message{ID: "1", SenderID: "c1", ReceiverID: "me", CreatedAt: base})

	msgs := s.MessagesByTime("c1")
	if msgs[0].ID != "1" || msgs[1].ID != "2" {
		t.Errorf("order = %s, %s", msgs[0].ID, msgs[1].ID)
	}
}

func TestApplyReaction(t *testing.T) {
	s := NewStore("me", &fakeBackend{}, nil)
	s.Receive(model.Message{ID: "m1", SenderID: "c1", ReceiverID: "me"})

	r := model.Reaction{MessageID: "m1", UserID: "me", Emoji: "👍"}
	s.ApplyReaction("m1", r, true)
	if msgs := s.Messages("c1"); len(msgs[0].Reactions) != 1 {
		t.Fatalf("reactions = %v", msgs[0].Reactions)
	}
	s.ApplyReaction("m1", r, false)
	if msgs := s.Messages("c1"); len(msgs[0].Reactions) != 0 {
		t.Fatalf("reactions after remove = %v", msgs[0].Reactions)
	}
}
