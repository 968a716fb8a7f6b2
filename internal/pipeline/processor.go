package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"wapipe/internal/ai"
	"wapipe/internal/automation"
	"wapipe/internal/events"
	"wapipe/internal/models"
	"wapipe/internal/store"
)

// Processor turns one raw webhook payload into persisted state and side
// effects. It runs inside a queue partition, so payloads for the same
// conversation never execute concurrently.
type Processor struct {
	accounts      *store.AccountStore
	conversations *store.ConversationStore
	messages      *store.MessageStore
	dispatcher    events.Dispatcher
	router        *automation.Router
	aiService     ai.Service
	now           func() time.Time
}

func NewProcessor(
	accounts *store.AccountStore,
	conversations *store.ConversationStore,
	messages *store.MessageStore,
	dispatcher events.Dispatcher,
	router *automation.Router,
	aiService ai.Service,
) *Processor {
	return &Processor{
		accounts:      accounts,
		conversations: conversations,
		messages:      messages,
		dispatcher:    dispatcher,
		router:        router,
		aiService:     aiService,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// ProcessPayload walks every message and status update in the payload.
// Entries that fail terminally (unknown tenant, duplicates, unknown message
// ids) are logged and dropped; only transient errors propagate so the queue
// retries the whole payload.
func (p *Processor) ProcessPayload(ctx context.Context, payload []byte) error {
	env, err := ParseEnvelope(payload)
	if err != nil {
		// A payload that never parses will never parse; drop it.
		log.Error().Err(err).Msg("Dropping malformed webhook payload")
		return nil
	}

	for _, entry := range env.Entry {
		for _, change := range entry.Changes {
			value := change.Value
			for i := range value.Messages {
				if err := p.processMessage(ctx, &value, &value.Messages[i]); err != nil {
					return err
				}
			}
			for _, status := range value.Statuses {
				if err := p.processStatus(ctx, &value, status); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (p *Processor) processMessage(ctx context.Context, value *ChangeValue, msg *InboundMessage) error {
	phoneNumberID := value.Metadata.PhoneNumberID

	account, err := p.accounts.ByPhoneNumberID(ctx, phoneNumberID)
	if errors.Is(err, store.ErrTenantNotFound) {
		log.Warn().
			Str("phoneNumberID", phoneNumberID).
			Str("metaMessageID", msg.ID).
			Msg("Dropping message for unknown phone number id")
		return nil
	}
	if err != nil {
		return fmt.Errorf("tenant lookup failed: %w", err)
	}

	now := p.now()
	conv, err := p.conversations.ResolveOpenConversation(
		ctx, account.TenantID, msg.From, profileName(value, msg.From), phoneNumberID, now)
	if err != nil {
		return fmt.Errorf("conversation resolution failed: %w", err)
	}

	persisted, err := p.messages.InsertInbound(ctx, account.TenantID, conv.ID, msg.Type, msg.ID, msg.Content())
	if errors.Is(err, store.ErrDuplicateMessage) {
		log.Info().
			Str("metaMessageID", msg.ID).
			Str("tenantID", account.TenantID).
			Msg("Duplicate provider delivery skipped")
		return nil
	}
	if err != nil {
		return fmt.Errorf("message persistence failed: %w", err)
	}

	if err := p.dispatcher.EmitNewMessage(ctx, events.NewMessageEvent{
		TenantID:       account.TenantID,
		ConversationID: conv.ID,
		ContactID:      conv.ContactID,
		Phone:          msg.From,
		Direction:      persisted.Direction,
		Type:           persisted.Type,
		Content:        persisted.Content,
		Timestamp:      persisted.CreatedAt,
	}); err != nil {
		log.Error().Err(err).Str("metaMessageID", msg.ID).Msg("Failed to publish new-message event")
	}

	handled := false
	if p.router != nil {
		handled = p.router.Route(ctx, account.TenantID, automation.EventContext{
			From:           msg.From,
			MessageBody:    msg.TextBody(),
			ContactID:      conv.ContactID,
			ConversationID: conv.ID,
		})
		if handled {
			// A workflow may have moved the conversation to human or paused;
			// the gate below must see that state.
			if fresh, err := p.conversations.ByID(ctx, conv.ID); err == nil {
				conv = fresh
			}
		}
	}

	decision := ai.Decide(conv, msg.IsText(), handled, now)
	log.Debug().
		Str("conversationID", conv.ID).
		Bool("invoke", decision.Invoke).
		Str("reason", decision.Reason).
		Msg("AI gate decision")

	if decision.ResumeAI {
		// Persist the flip before replying: the resume and the reply belong
		// to the same inbound message.
		if err := p.conversations.ResumeAI(ctx, conv.ID); err != nil {
			return fmt.Errorf("ai resume failed: %w", err)
		}
	}
	if decision.Invoke && p.aiService != nil {
		p.aiService.Process(ctx, account.TenantID, msg.From, msg.TextBody())
	}
	return nil
}

func (p *Processor) processStatus(ctx context.Context, value *ChangeValue, status StatusUpdate) error {
	account, err := p.accounts.ByPhoneNumberID(ctx, value.Metadata.PhoneNumberID)
	if errors.Is(err, store.ErrTenantNotFound) {
		log.Warn().Str("phoneNumberID", value.Metadata.PhoneNumberID).Msg("Dropping status for unknown phone number id")
		return nil
	}
	if err != nil {
		return fmt.Errorf("tenant lookup failed: %w", err)
	}

	msg, err := p.messages.UpdateStatus(ctx, status.ID, models.MessageStatus(status.Status))
	if errors.Is(err, store.ErrMessageNotFound) {
		log.Warn().
			Str("metaMessageID", status.ID).
			Str("status", status.Status).
			Msg("Status update for unknown message dropped")
		return nil
	}
	if err != nil {
		return fmt.Errorf("status update failed: %w", err)
	}
	if msg == nil {
		// Out-of-order update, already logged by the store.
		return nil
	}

	if err := p.dispatcher.EmitStatusChange(ctx, events.StatusChangeEvent{
		TenantID:      account.TenantID,
		MessageID:     msg.ID,
		MetaMessageID: msg.MetaMessageID,
		Status:        string(msg.Status),
		Timestamp:     p.now(),
	}); err != nil {
		log.Error().Err(err).Str("metaMessageID", msg.MetaMessageID).Msg("Failed to publish status-change event")
	}
	return nil
}

func profileName(value *ChangeValue, waID string) string {
	for _, c := range value.Contacts {
		if c.WaID == waID {
			return c.Profile.Name
		}
	}
	return ""
}
