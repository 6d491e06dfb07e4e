package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coachchat/internal/model"
)

// echoServer upgrades, records the auth header and echoes every send-message
// event back as receive-message.
func echoServer(t *testing.T) (wsURL string, gotUser *string) {
	t.Helper()
	var user string
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user = r.Header.Get("X-User-ID")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var ev Event
			if err := json.Unmarshal(raw, &ev); err != nil {
				continue
			}
			if ev.Type != EventSendMessage {
				continue
			}
			out, _ := json.Marshal(Event{Type: EventReceiveMessage, Payload: ev.Payload})
			if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), &user
}

func TestDialEmitReceive(t *testing.T) {
	wsURL, gotUser := echoServer(t)

	ctx := context.Background()
	c, err := Dial(ctx, wsURL, "trainer-1")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	received := make(chan Event, 1)
	c.OnEvent(func(ev Event) { received <- ev })
	pumpCtx, cancel := context.WithCancel(ctx)
	c.Start(pumpCtx, cancel)
	defer func() {
		c.Close()
		c.Wait()
	}()

	err = c.Emit(EventSendMessage, model.Message{
		ClientRef: "ref-1", SenderID: "trainer-1", ReceiverID: "client-7", Content: "hi",
	})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}

	select {
	case ev := <-received:
		if ev.Type != EventReceiveMessage {
			t.Fatalf("event type = %s", ev.Type)
		}
		m, err := ev.DecodeMessage()
		if err != nil {
			t.Fatalf("DecodeMessage: %v", err)
		}
		if m.ClientRef != "ref-1" || m.Content != "hi" {
			t.Errorf("echoed message = %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
	if *gotUser != "trainer-1" {
		t.Errorf("X-User-ID = %q", *gotUser)
	}
}

func TestEmitAfterCloseReturnsErrClosed(t *testing.T) {
	wsURL, _ := echoServer(t)
	c, err := Dial(context.Background(), wsURL, "u1")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx, cancel)
	c.Close()
	c.Wait()

	// The buffer may absorb a few enqueues after close; drain it.
	var got error
	for i := 0; i < sendBufSize+1; i++ {
		if got = c.Emit(EventTyping, TypingPayload{ReceiverID: "c1", IsTyping: true}); got != nil {
			break
		}
	}
	if got == nil {
		t.Fatal("Emit after close never errored")
	}
}

func TestDecodePayloads(t *testing.T) {
	ev := Event{Type: EventTyping, Payload: json.RawMessage(`{"user_id":"u2","is_typing":true}`)}
	p, err := ev.DecodeTyping()
	if err != nil {
		t.Fatalf("DecodeTyping: %v", err)
	}
	if p.UserID != "u2" || !p.IsTyping {
		t.Errorf("payload = %+v", p)
	}

	rd := Event{Type: EventMessageRead, Payload: json.RawMessage(`{"user_id":"u2"}`)}
	rp, err := rd.DecodeRead()
	if err != nil {
		t.Fatalf("DecodeRead: %v", err)
	}
	if rp.UserID != "u2" {
		t.Errorf("payload = %+v", rp)
	}
}
