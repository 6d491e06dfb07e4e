package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/coachchat/internal/model"
)

func TestRequestsCarryUserHeader(t *testing.T) {
	var gotUser string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = r.Header.Get("X-User-ID")
		json.NewEncoder(w).Encode([]model.Conversation{})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "trainer-1")
	if _, err := c.Conversations(context.Background()); err != nil {
		t.Fatalf("Conversations: %v", err)
	}
	if gotUser != "trainer-1" {
		t.Errorf("X-User-ID = %q", gotUser)
	}
}

func TestCreateMessageDecodesConfirmedRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/messages" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var m model.Message
		if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
			t.Errorf("decode body: %v", err)
		}
		m.ID = "srv-1"
		m.Status = model.MessageStatusSent
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(m)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "me")
	out, err := c.CreateMessage(context.Background(), model.Message{
		ClientRef: "ref-1", SenderID: "me", ReceiverID: "c1", Content: "hi",
	})
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if out.ID != "srv-1" || out.ClientRef != "ref-1" {
		t.Errorf("confirmed = %+v", out)
	}
}

func TestHistoryEscapesCounterpartID(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		json.NewEncoder(w).Encode([]model.Message{})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "me")
	if _, err := c.History(context.Background(), "user/7"); err != nil {
		t.Fatalf("History: %v", err)
	}
	if gotPath != "/api/messages/user%2F7" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestNon2xxReturnsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"nope"}`, http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "me")
	err := c.MarkRead(context.Background(), "c1")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("err = %v, want StatusError", err)
	}
	if statusErr.Code != http.StatusForbidden {
		t.Errorf("code = %d", statusErr.Code)
	}
}
