package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/coachchat/internal/api"
	"github.com/coachchat/internal/model"
	memorystorage "github.com/coachchat/internal/storage/memory"
)

// newBackendStub serves the slice of the REST contract the service touches.
func newBackendStub(t *testing.T, seed []model.Message) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/messages", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(seed)
	})
	mux.HandleFunc("GET /api/messages/{counterpartID}", func(w http.ResponseWriter, r *http.Request) {
		cp := r.PathValue("counterpartID")
		var out []model.Message
		for _, m := range seed {
			if m.SenderID == cp || m.ReceiverID == cp {
				out = append(out, m)
			}
		}
		json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("GET /api/conversations", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]model.Conversation{})
	})
	mux.HandleFunc("POST /api/messages", func(w http.ResponseWriter, r *http.Request) {
		var m model.Message
		if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		m.ID = uuid.New().String()
		m.Status = model.MessageStatusSent
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(m)
	})
	mux.HandleFunc("POST /api/conversations/", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/read") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestService(t *testing.T, seed []model.Message) *Service {
	t.Helper()
	srv := newBackendStub(t, seed)
	svc, err := NewService(context.Background(), Options{
		AuthUserID: "me",
		API:        api.NewClient(srv.URL, "me"),
		Markers:    memorystorage.New(),
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc
}

func TestUnreadFollowsInboundAndMarkRead(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	svc.Store().Receive(model.Message{
		ID: "m1", SenderID: "c1", ReceiverID: "me",
		Content: "how was the session?", Status: model.MessageStatusSent,
	})
	if !svc.HasUnread("c1") {
		t.Fatal("no unread after inbound message")
	}

	if err := svc.MarkRead(ctx, "c1"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if svc.HasUnread("c1") {
		t.Fatal("unread after MarkRead")
	}

	// The next inbound message clears the marker again.
	svc.Store().Receive(model.Message{
		ID: "m2", SenderID: "c1", ReceiverID: "me", Status: model.MessageStatusSent,
	})
	if !svc.HasUnread("c1") {
		t.Fatal("marker not cleared by new inbound message")
	}
}

func TestSendConfirmsThroughBackend(t *testing.T) {
	svc := newTestService(t, nil)

	m := svc.Send(SendRequest{ReceiverID: "c1", Content: "see you at 9"})
	if m.Status != model.MessageStatusPending {
		t.Fatalf("optimistic status = %s", m.Status)
	}

	deadline := time.After(2 * time.Second)
	for {
		msgs := svc.Store().Messages("c1")
		if len(msgs) == 1 && msgs[0].Status == model.MessageStatusSent && msgs[0].ID != "" {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("message never confirmed: %+v", msgs)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestSyncPrimesStoreAndIndex(t *testing.T) {
	svc := newTestService(t, []model.Message{
		{ID: "1", SenderID: "c1", ReceiverID: "me", Content: "hi"},
		{ID: "2", SenderID: "me", ReceiverID: "c2", Content: "hello"},
	})
	if err := svc.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	got := svc.Store().Counterparts()
	if len(got) != 2 {
		t.Fatalf("Counterparts = %v", got)
	}
}

func TestInboundTouchesIndex(t *testing.T) {
	svc := newTestService(t, nil)
	svc.Store().Receive(model.Message{
		ID: "m1", SenderID: "c1", ReceiverID: "me", Content: "hey",
		CreatedAt: time.Now().UTC(),
	})
	conv, ok := svc.Index().Get("c1")
	if !ok {
		t.Fatal("inbound message did not create an index entry")
	}
	if conv.LastMessage == nil || conv.LastMessage.ID != "m1" {
		t.Errorf("index entry = %+v", conv)
	}
}

func TestOpenMarksConversationRead(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	svc.Store().Receive(model.Message{ID: "m1", SenderID: "c1", ReceiverID: "me"})
	if _, err := svc.Open(ctx, "c1"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if svc.HasUnread("c1") {
		t.Error("conversation still unread after Open")
	}
}

func TestStartThreadRendersWithoutRoundTrip(t *testing.T) {
	svc := newTestService(t, nil)
	svc.StartThread(model.CounterpartProfile{ID: "c9", Name: "Jordan"})
	conv, ok := svc.Index().Get("c9")
	if !ok || conv.Name != "Jordan" {
		t.Errorf("provisional entry = %+v, ok=%v", conv, ok)
	}
}
