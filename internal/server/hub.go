// Package server is the dev backend for the messaging core: a WebSocket hub
// with per-user routing plus the REST API the client SDK consumes. It exists
// so the core has a real collaborator to run and test against.
package server

import (
	"context"
	"sync"
	"time"

	"github.com/coachchat/internal/logger"
	"github.com/coachchat/internal/model"
	"github.com/coachchat/internal/push"
	"github.com/coachchat/internal/repository"
	"github.com/coachchat/internal/transport"
)

type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*Client]struct{}
	total    int
	maxConns int

	repo     repository.Messages
	notifier *push.Notifier

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(repo repository.Messages, maxConns int, notifier *push.Notifier) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		maxConns:   maxConns,
		repo:       repo,
		notifier:   notifier,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect clients under the lock; no I/O while holding it.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		return
	}
	if _, ok := h.clients[c.userID]; !ok {
		h.clients[c.userID] = make(map[*Client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	h.total++
	h.mu.Unlock()
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	if len(clients) == 0 {
		delete(h.clients, c.userID)
	}
	h.mu.Unlock()

	c.Close()
}

// HandleEvent dispatches one incoming WebSocket event.
func (h *Hub) HandleEvent(ctx context.Context, c *Client, ev transport.Event) {
	switch ev.Type {
	case transport.EventSendMessage:
		h.handleSendMessage(ctx, c, ev)
	case transport.EventTyping:
		h.handleTyping(c, ev)
	case transport.EventMessageRead:
		h.handleMessageRead(ctx, c, ev)
	default:
		h.sendToClient(c, outgoing{Type: transport.EventError, Payload: transport.ErrorPayload{Message: "unknown event type"}})
	}
}

func (h *Hub) handleSendMessage(ctx context.Context, c *Client, ev transport.Event) {
	defer logger.DeferLogDuration("hub.handleSendMessage", time.Now())()
	m, err := ev.DecodeMessage()
	if err != nil {
		h.sendToClient(c, outgoing{Type: transport.EventError, Payload: transport.ErrorPayload{Message: "bad message payload"}})
		return
	}
	if m.ReceiverID == "" || (m.Content == "" && m.Meta == nil) {
		h.sendToClient(c, outgoing{Type: transport.EventError, Payload: transport.ErrorPayload{Message: "receiver_id and content required"}})
		return
	}
	m.SenderID = c.userID

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// Idempotent on client_ref: the REST create may already have landed.
	saved, err := h.repo.Save(ctx, m)
	if err != nil {
		logger.Errorf("ws save message user=%s: %v", c.userID, err)
		h.sendToClient(c, outgoing{Type: transport.EventError, Payload: transport.ErrorPayload{Message: "failed to save message"}})
		return
	}
	h.Deliver(ctx, *saved)
}

// Deliver fans the saved message out to the receiver and to the sender's
// other devices. Receivers with no live connection get a push notification.
// Clients deduplicate by durable id, so overlapping delivery paths are safe.
func (h *Hub) Deliver(ctx context.Context, m model.Message) {
	out := outgoing{Type: transport.EventReceiveMessage, Payload: m}
	h.sendToUser(m.ReceiverID, out)
	h.sendToUser(m.SenderID, out)

	if h.notifier != nil && !h.Online(m.ReceiverID) {
		body := m.Content
		if body == "" {
			body = "New message"
		}
		if len(body) > 120 {
			body = body[:117] + "..."
		}
		data := map[string]string{"sender_id": m.SenderID, "message_id": m.ID}
		go h.notifier.Notify(context.Background(), m.ReceiverID, m.SenderID, body, data)
	}
}

func (h *Hub) handleTyping(c *Client, ev transport.Event) {
	p, err := ev.DecodeTyping()
	if err != nil || p.ReceiverID == "" {
		return
	}
	h.sendToUser(p.ReceiverID, outgoing{
		Type:    transport.EventTyping,
		Payload: transport.TypingPayload{UserID: c.userID, IsTyping: p.IsTyping},
	})
}

func (h *Hub) handleMessageRead(ctx context.Context, c *Client, ev transport.Event) {
	p, err := ev.DecodeRead()
	if err != nil || p.ReceiverID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := h.repo.MarkRead(ctx, c.userID, p.ReceiverID); err != nil {
		logger.Errorf("ws mark read user=%s counterpart=%s: %v", c.userID, p.ReceiverID, err)
		return
	}
	h.sendToUser(p.ReceiverID, outgoing{
		Type:    transport.EventMessageRead,
		Payload: transport.ReadPayload{UserID: c.userID},
	})
}

// Online reports whether the user has at least one live connection.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

func (h *Hub) sendToUser(userID string, msg outgoing) {
	h.mu.RLock()
	clients, ok := h.clients[userID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(clients))
	for c := range clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, msg)
	}
}

func (h *Hub) sendToClient(c *Client, msg outgoing) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
