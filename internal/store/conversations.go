package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"wapipe/internal/models"
)

// ConversationStore owns contacts and conversation lifecycle fields. The
// open-conversation invariant is enforced by a partial unique index on
// (tenant_id, contact_id) WHERE status='open': racing webhook deliveries
// insert with ON CONFLICT DO NOTHING and re-select the winner.
type ConversationStore struct {
	db *sqlx.DB
}

func NewConversationStore(db *sqlx.DB) *ConversationStore {
	return &ConversationStore{db: db}
}

// FindOrCreateContact returns the contact for (tenant, phone), creating it
// with the provider profile name when absent.
func (s *ConversationStore) FindOrCreateContact(ctx context.Context, tenantID, phone, profileName string) (*models.Contact, error) {
	if profileName == "" {
		profileName = "Unknown"
	}

	insert := s.db.Rebind(`
		INSERT INTO contacts (id, tenant_id, phone_number, name, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, phone_number) DO NOTHING`)
	if _, err := s.db.ExecContext(ctx, insert, uuid.NewString(), tenantID, phone, profileName, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("failed to upsert contact: %w", err)
	}

	var contact models.Contact
	query := s.db.Rebind(`SELECT * FROM contacts WHERE tenant_id = ? AND phone_number = ?`)
	if err := s.db.GetContext(ctx, &contact, query, tenantID, phone); err != nil {
		return nil, fmt.Errorf("failed to load contact: %w", err)
	}
	return &contact, nil
}

// ResolveOpenConversation finds or creates the open conversation for a
// contact and applies the inbound-activity bookkeeping: last_message_at moves
// forward, first_inbound_at is set only once. Safe to call concurrently for
// the same contact.
func (s *ConversationStore) ResolveOpenConversation(ctx context.Context, tenantID, contactPhone, profileName, phoneNumberID string, now time.Time) (*models.Conversation, error) {
	contact, err := s.FindOrCreateContact(ctx, tenantID, contactPhone, profileName)
	if err != nil {
		return nil, err
	}

	now = now.UTC()
	insert := s.db.Rebind(`
		INSERT INTO conversations (id, tenant_id, contact_id, phone_number_id, status, last_message_at, first_inbound_at, ai_mode, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, contact_id) WHERE status = 'open' DO NOTHING`)
	res, err := s.db.ExecContext(ctx, insert,
		uuid.NewString(), tenantID, contact.ID, phoneNumberID,
		models.ConversationOpen, now, now, models.AIModeAI, now)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert conversation: %w", err)
	}

	created := false
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		created = true
	}

	conv, err := s.openConversation(ctx, tenantID, contact.ID)
	if err != nil {
		return nil, err
	}

	if created {
		log.Info().Str("conversationID", conv.ID).Str("contactID", contact.ID).Msg("Conversation created")
		return conv, nil
	}

	// Existing conversation: bump activity, preserve the response-window start.
	update := s.db.Rebind(`
		UPDATE conversations
		SET last_message_at = ?,
		    first_inbound_at = COALESCE(first_inbound_at, ?)
		WHERE id = ?`)
	if _, err := s.db.ExecContext(ctx, update, now, now, conv.ID); err != nil {
		return nil, fmt.Errorf("failed to touch conversation: %w", err)
	}
	conv.LastMessageAt = now
	if conv.FirstInboundAt == nil {
		conv.FirstInboundAt = &now
	}
	return conv, nil
}

func (s *ConversationStore) openConversation(ctx context.Context, tenantID, contactID string) (*models.Conversation, error) {
	var conv models.Conversation
	query := s.db.Rebind(`
		SELECT * FROM conversations
		WHERE tenant_id = ? AND contact_id = ? AND status = ?
		ORDER BY last_message_at DESC
		LIMIT 1`)
	err := s.db.GetContext(ctx, &conv, query, tenantID, contactID, models.ConversationOpen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("open conversation vanished for contact %s", contactID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load open conversation: %w", err)
	}
	return &conv, nil
}

// ByID loads a conversation row.
func (s *ConversationStore) ByID(ctx context.Context, id string) (*models.Conversation, error) {
	var conv models.Conversation
	query := s.db.Rebind(`SELECT * FROM conversations WHERE id = ?`)
	if err := s.db.GetContext(ctx, &conv, query, id); err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	return &conv, nil
}

// SetAIMode moves a conversation into human or paused handling. A nil
// pausedUntil clears any pause expiry.
func (s *ConversationStore) SetAIMode(ctx context.Context, conversationID string, mode models.AIMode, pausedUntil *time.Time) error {
	query := s.db.Rebind(`UPDATE conversations SET ai_mode = ?, ai_paused_until = ? WHERE id = ?`)
	if _, err := s.db.ExecContext(ctx, query, mode, pausedUntil, conversationID); err != nil {
		return fmt.Errorf("failed to set ai mode: %w", err)
	}
	return nil
}

// ResumeAI flips an expired pause back to ai mode, guarded so a concurrent
// worker cannot observe a stale paused state once the flip lands.
func (s *ConversationStore) ResumeAI(ctx context.Context, conversationID string) error {
	query := s.db.Rebind(`
		UPDATE conversations
		SET ai_mode = ?, ai_paused_until = NULL
		WHERE id = ? AND ai_mode = ?`)
	if _, err := s.db.ExecContext(ctx, query, models.AIModeAI, conversationID, models.AIModePaused); err != nil {
		return fmt.Errorf("failed to resume ai: %w", err)
	}
	log.Info().Str("conversationID", conversationID).Msg("AI pause expired, resuming AI")
	return nil
}
