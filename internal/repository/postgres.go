package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coachchat/internal/logger"
	"github.com/coachchat/internal/model"
)

type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const messageColumns = `m.id, m.client_ref, m.sender_id, m.receiver_id, m.content, m.message_type, m.metadata, m.status, m.reply_to_id, m.created_at`

func metadataJSON(m *model.Message) ([]byte, error) {
	if m.Meta == nil {
		return nil, nil
	}
	data, err := json.Marshal(m.Meta)
	if err != nil {
		return nil, fmt.Errorf("msgRepo: marshal metadata: %w", err)
	}
	return data, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*model.Message, error) {
	var (
		m         model.Message
		clientRef *string
		rawMeta   []byte
	)
	err := row.Scan(&m.ID, &clientRef, &m.SenderID, &m.ReceiverID, &m.Content, &m.Type, &rawMeta, &m.Status, &m.ReplyToID, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	if clientRef != nil {
		m.ClientRef = *clientRef
	}
	meta, err := model.DecodeMetadata(m.Type, rawMeta)
	if err != nil {
		return nil, err
	}
	m.Meta = meta
	return &m, nil
}

func (r *Postgres) Save(ctx context.Context, m *model.Message) (*model.Message, error) {
	defer logger.DeferLogDuration("msgRepo.Save", time.Now())()
	saved := *m
	if saved.ID == "" {
		saved.ID = uuid.New().String()
	}
	if saved.CreatedAt.IsZero() {
		saved.CreatedAt = time.Now().UTC()
	}
	saved.Status = model.MessageStatusSent

	rawMeta, err := metadataJSON(&saved)
	if err != nil {
		return nil, err
	}
	var clientRef *string
	if saved.ClientRef != "" {
		clientRef = &saved.ClientRef
	}

	tag, err := r.pool.Exec(ctx,
		`INSERT INTO messages (id, client_ref, sender_id, receiver_id, content, message_type, metadata, status, reply_to_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (client_ref) DO NOTHING`,
		saved.ID, clientRef, saved.SenderID, saved.ReceiverID, saved.Content, saved.Type, rawMeta, saved.Status, saved.ReplyToID, saved.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.Save: %w", err)
	}
	if tag.RowsAffected() == 0 && clientRef != nil {
		// The other delivery path got here first; return its record.
		row := r.pool.QueryRow(ctx,
			`SELECT `+messageColumns+` FROM messages m WHERE m.client_ref = $1`, saved.ClientRef)
		existing, err := scanMessage(row)
		if err != nil {
			return nil, fmt.Errorf("msgRepo.Save fetch existing: %w", err)
		}
		return existing, nil
	}
	return &saved, nil
}

func (r *Postgres) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msgRepo.GetByID", time.Now())()
	row := r.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages m WHERE m.id = $1`, id)
	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	if err := r.attachReactions(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *Postgres) queryMessages(ctx context.Context, sql string, args ...any) ([]model.Message, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("msgRepo query: %w", err)
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("msgRepo scan: %w", err)
		}
		messages = append(messages, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo rows: %w", err)
	}
	return messages, nil
}

func (r *Postgres) Between(ctx context.Context, userA, userB string) ([]model.Message, error) {
	defer logger.DeferLogDuration("msgRepo.Between", time.Now())()
	return r.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM messages m
		 WHERE (m.sender_id = $1 AND m.receiver_id = $2) OR (m.sender_id = $2 AND m.receiver_id = $1)
		 ORDER BY m.created_at`, userA, userB)
}

func (r *Postgres) ForUser(ctx context.Context, userID string) ([]model.Message, error) {
	defer logger.DeferLogDuration("msgRepo.ForUser", time.Now())()
	return r.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM messages m
		 WHERE m.sender_id = $1 OR m.receiver_id = $1
		 ORDER BY m.created_at`, userID)
}

func (r *Postgres) MarkRead(ctx context.Context, readerID, counterpartID string) error {
	defer logger.DeferLogDuration("msgRepo.MarkRead", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET status = 'read'
		 WHERE sender_id = $1 AND receiver_id = $2 AND status != 'read'`,
		counterpartID, readerID,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.MarkRead: %w", err)
	}
	return nil
}

func (r *Postgres) AddReaction(ctx context.Context, reaction model.Reaction) error {
	defer logger.DeferLogDuration("msgRepo.AddReaction", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO reactions (message_id, user_id, emoji, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT DO NOTHING`,
		reaction.MessageID, reaction.UserID, reaction.Emoji, reaction.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.AddReaction: %w", err)
	}
	return nil
}

func (r *Postgres) RemoveReaction(ctx context.Context, messageID, userID, emoji string) error {
	defer logger.DeferLogDuration("msgRepo.RemoveReaction", time.Now())()
	_, err := r.pool.Exec(ctx,
		`DELETE FROM reactions WHERE message_id = $1 AND user_id = $2 AND emoji = $3`,
		messageID, userID, emoji,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.RemoveReaction: %w", err)
	}
	return nil
}

func (r *Postgres) attachReactions(ctx context.Context, m *model.Message) error {
	rows, err := r.pool.Query(ctx,
		`SELECT message_id, user_id, emoji, created_at FROM reactions WHERE message_id = $1 ORDER BY created_at`,
		m.ID,
	)
	if err != nil {
		return fmt.Errorf("msgRepo reactions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var reaction model.Reaction
		if err := rows.Scan(&reaction.MessageID, &reaction.UserID, &reaction.Emoji, &reaction.CreatedAt); err != nil {
			return fmt.Errorf("msgRepo reactions scan: %w", err)
		}
		m.Reactions = append(m.Reactions, reaction)
	}
	return rows.Err()
}

func (r *Postgres) Conversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	defer logger.DeferLogDuration("msgRepo.Conversations", time.Now())()
	msgs, err := r.queryMessages(ctx,
		`SELECT DISTINCT ON (counterpart) `+messageColumns+` FROM (
		    SELECT *, CASE WHEN sender_id = $1 THEN receiver_id ELSE sender_id END AS counterpart
		    FROM messages
		    WHERE sender_id = $1 OR receiver_id = $1
		 ) m
		 ORDER BY counterpart, m.created_at DESC`, userID)
	if err != nil {
		return nil, err
	}

	unread := make(map[string]int)
	rows, err := r.pool.Query(ctx,
		`SELECT sender_id, COUNT(*) FROM messages
		 WHERE receiver_id = $1 AND status != 'read'
		 GROUP BY sender_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.Conversations unread: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			sender string
			n      int
		)
		if err := rows.Scan(&sender, &n); err != nil {
			return nil, fmt.Errorf("msgRepo.Conversations unread scan: %w", err)
		}
		unread[sender] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.Conversations unread rows: %w", err)
	}

	out := make([]model.Conversation, 0, len(msgs))
	for _, m := range msgs {
		lm := m
		cp := m.Counterpart(userID)
		out = append(out, model.Conversation{
			CounterpartID: cp,
			Name:          cp,
			LastMessage:   &lm,
			UnreadCount:   unread[cp],
			UpdatedAt:     m.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}
