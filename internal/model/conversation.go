package model

import "time"

// Conversation is one thread in the authenticated user's inbox, keyed by the
// counterpart's user id. Name and AvatarURL are denormalized for display;
// the authoritative profile lives with the user record upstream.
type Conversation struct {
	CounterpartID string    `json:"counterpart_id"`
	Name          string    `json:"name"`
	AvatarURL     string    `json:"avatar_url,omitempty"`
	LastMessage   *Message  `json:"last_message,omitempty"`
	UnreadCount   int       `json:"unread_count"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// CounterpartProfile is the subset of an external user record the index
// needs to render a provisional conversation before the backend confirms it.
type CounterpartProfile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}
