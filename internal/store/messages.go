package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"wapipe/internal/models"
)

// ErrDuplicateMessage signals that a provider message id was already
// persisted; the delivery is a provider retry and must have no side effects.
var ErrDuplicateMessage = errors.New("duplicate provider message id")

// ErrMessageNotFound is returned for status updates referencing a provider
// message id this deployment never persisted.
var ErrMessageNotFound = errors.New("message not found")

// MessageStore is the unit of idempotency: the unique meta_message_id column
// makes inbound persistence exactly-once under at-least-once delivery.
type MessageStore struct {
	db *sqlx.DB
}

func NewMessageStore(db *sqlx.DB) *MessageStore {
	return &MessageStore{db: db}
}

// InsertInbound persists a new inbound message. Returns ErrDuplicateMessage
// when the provider message id was seen before.
func (s *MessageStore) InsertInbound(ctx context.Context, tenantID, conversationID, msgType, metaMessageID string, content json.RawMessage) (*models.Message, error) {
	if len(content) == 0 {
		content = json.RawMessage(`{}`)
	}

	msg := &models.Message{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		ConversationID: conversationID,
		Direction:      models.DirectionIn,
		Type:           msgType,
		Content:        content,
		MetaMessageID:  metaMessageID,
		Status:         models.StatusReceived,
		CreatedAt:      time.Now().UTC(),
	}

	query := s.db.Rebind(`
		INSERT INTO messages (id, tenant_id, conversation_id, direction, type, content, meta_message_id, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (meta_message_id) DO NOTHING`)
	res, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.TenantID, msg.ConversationID, msg.Direction, msg.Type,
		string(msg.Content), msg.MetaMessageID, msg.Status, msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrDuplicateMessage
	}
	return msg, nil
}

// ByMetaMessageID looks up a message by its provider id.
func (s *MessageStore) ByMetaMessageID(ctx context.Context, metaMessageID string) (*models.Message, error) {
	var msg models.Message
	query := s.db.Rebind(`SELECT * FROM messages WHERE meta_message_id = ?`)
	err := s.db.GetContext(ctx, &msg, query, metaMessageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up message: %w", err)
	}
	return &msg, nil
}

// UpdateStatus applies a delivery status update by provider message id.
// Transitions are monotonic: an update for an earlier stage arriving late is
// dropped. Returns the updated message, or ErrMessageNotFound.
func (s *MessageStore) UpdateStatus(ctx context.Context, metaMessageID string, status models.MessageStatus) (*models.Message, error) {
	msg, err := s.ByMetaMessageID(ctx, metaMessageID)
	if err != nil {
		return nil, err
	}

	if !models.StatusAdvances(msg.Status, status) {
		log.Debug().
			Str("metaMessageID", metaMessageID).
			Str("current", string(msg.Status)).
			Str("incoming", string(status)).
			Msg("Out-of-order status update dropped")
		return nil, nil
	}

	query := s.db.Rebind(`UPDATE messages SET status = ? WHERE id = ?`)
	if _, err := s.db.ExecContext(ctx, query, status, msg.ID); err != nil {
		return nil, fmt.Errorf("failed to update message status: %w", err)
	}
	msg.Status = status
	return msg, nil
}

// CountByConversation returns how many messages a conversation holds. Used
// by tests and the admin surface.
func (s *MessageStore) CountByConversation(ctx context.Context, conversationID string) (int, error) {
	var n int
	query := s.db.Rebind(`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`)
	if err := s.db.GetContext(ctx, &n, query, conversationID); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}
