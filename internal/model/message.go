package model

import (
	"encoding/json"
	"fmt"
	"time"
)

type MessageType string

const (
	MessageTypeText           MessageType = "text"
	MessageTypeImage          MessageType = "image"
	MessageTypeFile           MessageType = "file"
	MessageTypeWorkoutPlan    MessageType = "workout_plan"
	MessageTypeCheckInRequest MessageType = "checkin_request"
	MessageTypeSessionBooking MessageType = "session_booking"
	MessageTypeSystem         MessageType = "system"
)

type MessageStatus string

const (
	// MessageStatusPending marks an optimistic entry not yet confirmed by the backend.
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	// MessageStatusFailed marks an optimistic entry whose persistence call failed.
	// The entry stays visible until the user retries or discards it.
	MessageStatusFailed MessageStatus = "failed"
)

// Metadata is the variant payload carried by non-text messages. Consumers
// switch on the concrete type; the set is closed by the unexported method.
type Metadata interface {
	metadataType() MessageType
}

type ImageMeta struct {
	URL string `json:"url"`
}

type FileMeta struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	URL  string `json:"url"`
}

type WorkoutPlanMeta struct {
	PlanID string `json:"plan_id"`
}

type CheckInRequestMeta struct {
	Fields  []string  `json:"fields"`
	DueDate time.Time `json:"due_date"`
}

type SessionBookingMeta struct {
	SessionID string `json:"session_id"`
}

type SystemMeta struct {
	Text string `json:"text"`
}

func (ImageMeta) metadataType() MessageType          { return MessageTypeImage }
func (FileMeta) metadataType() MessageType           { return MessageTypeFile }
func (WorkoutPlanMeta) metadataType() MessageType    { return MessageTypeWorkoutPlan }
func (CheckInRequestMeta) metadataType() MessageType { return MessageTypeCheckInRequest }
func (SessionBookingMeta) metadataType() MessageType { return MessageTypeSessionBooking }
func (SystemMeta) metadataType() MessageType         { return MessageTypeSystem }

// Message is one entry in a counterpart's partition. ID is backend-assigned;
// until the create call confirms, optimistic entries have an empty ID and are
// correlated by ClientRef (a locally generated uuid echoed back by the
// backend on both the create response and the transport fan-out).
type Message struct {
	ID         string        `json:"id,omitempty"`
	ClientRef  string        `json:"client_ref,omitempty"`
	SenderID   string        `json:"sender_id"`
	ReceiverID string        `json:"receiver_id"`
	Content    string        `json:"content"`
	Type       MessageType   `json:"message_type"`
	Meta       Metadata      `json:"-"`
	Status     MessageStatus `json:"status"`
	ReplyToID  *string       `json:"reply_to_id,omitempty"`
	Reactions  []Reaction    `json:"reactions,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Pending reports whether the message is an unconfirmed optimistic entry.
func (m *Message) Pending() bool {
	return m.Status == MessageStatusPending
}

// Counterpart returns the other participant's id relative to authUserID.
func (m *Message) Counterpart(authUserID string) string {
	if m.SenderID == authUserID {
		return m.ReceiverID
	}
	return m.SenderID
}

type messageJSON struct {
	ID         string          `json:"id,omitempty"`
	ClientRef  string          `json:"client_ref,omitempty"`
	SenderID   string          `json:"sender_id"`
	ReceiverID string          `json:"receiver_id"`
	Content    string          `json:"content"`
	Type       MessageType     `json:"message_type"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	Status     MessageStatus   `json:"status"`
	ReplyToID  *string         `json:"reply_to_id,omitempty"`
	Reactions  []Reaction      `json:"reactions,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	out := messageJSON{
		ID:         m.ID,
		ClientRef:  m.ClientRef,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		Type:       m.Type,
		Status:     m.Status,
		ReplyToID:  m.ReplyToID,
		Reactions:  m.Reactions,
		CreatedAt:  m.CreatedAt,
	}
	if out.Type == "" {
		out.Type = MessageTypeText
	}
	if m.Meta != nil {
		if m.Meta.metadataType() != out.Type {
			return nil, fmt.Errorf("model: metadata %T does not match message_type %q", m.Meta, out.Type)
		}
		raw, err := json.Marshal(m.Meta)
		if err != nil {
			return nil, fmt.Errorf("model: marshal metadata: %w", err)
		}
		out.Metadata = raw
	}
	return json.Marshal(out)
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var in messageJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if in.Type == "" {
		in.Type = MessageTypeText
	}
	meta, err := DecodeMetadata(in.Type, in.Metadata)
	if err != nil {
		return err
	}
	*m = Message{
		ID:         in.ID,
		ClientRef:  in.ClientRef,
		SenderID:   in.SenderID,
		ReceiverID: in.ReceiverID,
		Content:    in.Content,
		Type:       in.Type,
		Meta:       meta,
		Status:     in.Status,
		ReplyToID:  in.ReplyToID,
		Reactions:  in.Reactions,
		CreatedAt:  in.CreatedAt,
	}
	return nil
}

// DecodeMetadata decodes a raw metadata payload according to the message type.
// Text and system-with-no-payload messages carry no metadata; for every other
// type a missing payload is tolerated (nil) but a present one must parse.
func DecodeMetadata(t MessageType, raw json.RawMessage) (Metadata, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var (
		meta Metadata
		err  error
	)
	switch t {
	case MessageTypeText:
		return nil, nil
	case MessageTypeImage:
		var v ImageMeta
		err = json.Unmarshal(raw, &v)
		meta = v
	case MessageTypeFile:
		var v FileMeta
		err = json.Unmarshal(raw, &v)
		meta = v
	case MessageTypeWorkoutPlan:
		var v WorkoutPlanMeta
		err = json.Unmarshal(raw, &v)
		meta = v
	case MessageTypeCheckInRequest:
		var v CheckInRequestMeta
		err = json.Unmarshal(raw, &v)
		meta = v
	case MessageTypeSessionBooking:
		var v SessionBookingMeta
		err = json.Unmarshal(raw, &v)
		meta = v
	case MessageTypeSystem:
		var v SystemMeta
		err = json.Unmarshal(raw, &v)
		meta = v
	default:
		return nil, fmt.Errorf("model: unknown message_type %q", t)
	}
	if err != nil {
		return nil, fmt.Errorf("model: decode %s metadata: %w", t, err)
	}
	return meta, nil
}

type Reaction struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// ReactionGroup is aggregated reaction info for display.
type ReactionGroup struct {
	Emoji string   `json:"emoji"`
	Count int      `json:"count"`
	Users []string `json:"users"` // user IDs
}

// GroupReactions aggregates raw reactions by emoji, preserving first-seen order.
func GroupReactions(reactions []Reaction) []ReactionGroup {
	var groups []ReactionGroup
	index := make(map[string]int, len(reactions))
	for _, r := range reactions {
		i, ok := index[r.Emoji]
		if !ok {
			index[r.Emoji] = len(groups)
			groups = append(groups, ReactionGroup{Emoji: r.Emoji})
			i = len(groups) - 1
		}
		groups[i].Count++
		groups[i].Users = append(groups[i].Users, r.UserID)
	}
	return groups
}
