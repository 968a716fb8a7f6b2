package events

import (
	"context"
	"encoding/json"
	"time"
)

// NewMessageEvent is published once per newly persisted inbound message.
type NewMessageEvent struct {
	TenantID       string          `json:"tenantId"`
	ConversationID string          `json:"conversationId"`
	ContactID      string          `json:"contactId"`
	Phone          string          `json:"phone"`
	Direction      string          `json:"direction"`
	Type           string          `json:"type"`
	Content        json.RawMessage `json:"content"`
	Timestamp      time.Time       `json:"timestamp"`
}

// StatusChangeEvent is published when a delivery receipt advances a
// message's status.
type StatusChangeEvent struct {
	TenantID      string    `json:"tenantId"`
	MessageID     string    `json:"messageId"`
	MetaMessageID string    `json:"metaMessageId"`
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
}

// Dispatcher publishes pipeline events to downstream consumers (realtime UI,
// automation). Delivery is at-least-once; ordering is guaranteed only within
// a single conversation's stream.
type Dispatcher interface {
	EmitNewMessage(ctx context.Context, ev NewMessageEvent) error
	EmitStatusChange(ctx context.Context, ev StatusChangeEvent) error
}

// NopDispatcher drops events. Used when no broker is configured and in
// tests.
type NopDispatcher struct{}

func (NopDispatcher) EmitNewMessage(context.Context, NewMessageEvent) error { return nil }

func (NopDispatcher) EmitStatusChange(context.Context, StatusChangeEvent) error { return nil }
