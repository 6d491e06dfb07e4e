package transport

import (
	"encoding/json"

	"github.com/coachchat/internal/model"
)

type EventType string

const (
	// EventSendMessage is emitted by the client; the channel is a latency
	// optimization only, durability rides on the API persistence path.
	EventSendMessage EventType = "send-message"
	// EventReceiveMessage delivers one inbound message to the client.
	EventReceiveMessage EventType = "receive-message"
	EventTyping         EventType = "typing"
	EventMessageRead    EventType = "message-read"
	EventError          EventType = "error"
)

// Event is the wire envelope in both directions. Payload stays raw on the
// inbound path so each handler decodes only what it consumes.
type Event struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DecodeMessage decodes a receive-message or send-message payload.
func (e Event) DecodeMessage() (*model.Message, error) {
	var m model.Message
	if err := json.Unmarshal(e.Payload, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// DecodeTyping decodes a typing payload.
func (e Event) DecodeTyping() (*TypingPayload, error) {
	var p TypingPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DecodeRead decodes a message-read payload.
func (e Event) DecodeRead() (*ReadPayload, error) {
	var p ReadPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// TypingPayload carries typing signals. Outbound, ReceiverID addresses the
// counterpart; inbound, UserID identifies the typist (filled by the relay).
type TypingPayload struct {
	UserID     string `json:"user_id,omitempty"`
	ReceiverID string `json:"receiver_id,omitempty"`
	IsTyping   bool   `json:"is_typing"`
}

// ReadPayload signals that the sender opened the conversation with ReceiverID;
// inbound, UserID identifies who read.
type ReadPayload struct {
	UserID     string `json:"user_id,omitempty"`
	ReceiverID string `json:"receiver_id,omitempty"`
}

// ErrorPayload is sent by the server when an event cannot be handled.
type ErrorPayload struct {
	Message string `json:"message"`
}

// Emitter is the outbound half of the channel as the messaging core sees it:
// fire-and-forget, no acknowledgement awaited.
type Emitter interface {
	Emit(typ EventType, payload any) error
}
