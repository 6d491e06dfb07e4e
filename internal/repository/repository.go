// Package repository persists messages for the dev backend. Two
// implementations: Postgres (pgx) and in-memory (default, tests).
package repository

import (
	"context"
	"errors"

	"github.com/coachchat/internal/model"
)

var ErrNotFound = errors.New("repository: not found")

// Messages is the persistence surface the dev backend needs. Save is
// idempotent on client_ref: the REST create and the websocket relay can both
// land for the same send, and exactly one durable record results.
type Messages interface {
	Save(ctx context.Context, m *model.Message) (*model.Message, error)
	GetByID(ctx context.Context, id string) (*model.Message, error)
	Between(ctx context.Context, userA, userB string) ([]model.Message, error)
	ForUser(ctx context.Context, userID string) ([]model.Message, error)
	MarkRead(ctx context.Context, readerID, counterpartID string) error
	AddReaction(ctx context.Context, r model.Reaction) error
	RemoveReaction(ctx context.Context, messageID, userID, emoji string) error
	Conversations(ctx context.Context, userID string) ([]model.Conversation, error)
}
