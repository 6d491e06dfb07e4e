package chat

import "github.com/coachchat/internal/model"

type EventKind string

const (
	// EventMessageReceived fires for inbound messages from a counterpart.
	// The read tracker subscribes to clear that counterpart's marker.
	EventMessageReceived EventKind = "message_received"
	// EventMessageConfirmed fires when an optimistic entry is reconciled
	// with the backend's confirmed record.
	EventMessageConfirmed EventKind = "message_confirmed"
	// EventMessageFailed fires when the persistence call for an optimistic
	// entry fails; the entry stays in the partition with status failed.
	EventMessageFailed EventKind = "message_failed"
)

// StoreEvent is published by the Store to its subscribers. Coupling between
// the store and the read tracker goes through this bus, never through direct
// calls, so there are no hidden call-order dependencies.
type StoreEvent struct {
	Kind          EventKind
	CounterpartID string
	Message       model.Message
}
