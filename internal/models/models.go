package models

import (
	"encoding/json"
	"time"
)

// AIMode is the automation state of a conversation.
type AIMode string

const (
	AIModeAI     AIMode = "ai"
	AIModeHuman  AIMode = "human"
	AIModePaused AIMode = "paused"
)

// MessageStatus values follow the provider's delivery lifecycle. Received is
// the initial status of inbound messages; the rest apply to outbound ones.
type MessageStatus string

const (
	StatusReceived  MessageStatus = "received"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// statusRank orders delivery statuses so late-arriving updates for an earlier
// stage can be rejected. Failed is terminal and always applies.
var statusRank = map[MessageStatus]int{
	StatusReceived:  0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// StatusAdvances reports whether moving from to next is a forward transition.
func StatusAdvances(from, next MessageStatus) bool {
	if next == StatusFailed {
		return true
	}
	fromRank, ok := statusRank[from]
	if !ok {
		return true
	}
	nextRank, ok := statusRank[next]
	if !ok {
		return false
	}
	return nextRank > fromRank
}

// Account is a tenant's WhatsApp Business connection. The access token is
// stored encrypted; only the credential provider and refresher decrypt it.
type Account struct {
	ID             string     `db:"id"`
	TenantID       string     `db:"tenant_id"`
	PhoneNumberID  string     `db:"phone_number_id"`
	AccessToken    string     `db:"access_token"`
	TokenExpiresAt *time.Time `db:"token_expires_at"`
	Status         string     `db:"status"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

const (
	AccountConnected    = "connected"
	AccountDisconnected = "disconnected"
)

// Contact is unique per (tenant, phone number) and created lazily on the
// first inbound message.
type Contact struct {
	ID          string    `db:"id"`
	TenantID    string    `db:"tenant_id"`
	PhoneNumber string    `db:"phone_number"`
	Name        string    `db:"name"`
	CreatedAt   time.Time `db:"created_at"`
}

// Conversation is the open thread between a tenant and one contact. At most
// one open conversation exists per (tenant, contact); the store enforces this
// with a partial unique index.
type Conversation struct {
	ID             string     `db:"id"`
	TenantID       string     `db:"tenant_id"`
	ContactID      string     `db:"contact_id"`
	PhoneNumberID  string     `db:"phone_number_id"`
	Status         string     `db:"status"`
	LastMessageAt  time.Time  `db:"last_message_at"`
	FirstInboundAt *time.Time `db:"first_inbound_at"`
	AIMode         AIMode     `db:"ai_mode"`
	AIPausedUntil  *time.Time `db:"ai_paused_until"`
	CreatedAt      time.Time  `db:"created_at"`
}

const (
	ConversationOpen   = "open"
	ConversationClosed = "closed"
)

// PauseExpired reports whether the conversation's AI pause has elapsed. A
// conversation without a pause timestamp counts as expired.
func (c *Conversation) PauseExpired(now time.Time) bool {
	return c.AIPausedUntil == nil || !c.AIPausedUntil.After(now)
}

// Message is one inbound or outbound message. MetaMessageID is the provider's
// id and the deduplication key; no two rows share a non-empty value.
type Message struct {
	ID             string          `db:"id"`
	TenantID       string          `db:"tenant_id"`
	ConversationID string          `db:"conversation_id"`
	Direction      string          `db:"direction"`
	Type           string          `db:"type"`
	Content        json.RawMessage `db:"content"`
	MetaMessageID  string          `db:"meta_message_id"`
	Status         MessageStatus   `db:"status"`
	CreatedAt      time.Time       `db:"created_at"`
}

const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// WebhookJob is a durable queue entry wrapping one raw provider payload.
type WebhookJob struct {
	ID            int64      `db:"id"`
	Payload       []byte     `db:"payload"`
	OrderingKey   string     `db:"ordering_key"`
	Status        string     `db:"status"`
	Attempts      int        `db:"attempts"`
	NextAttemptAt time.Time  `db:"next_attempt_at"`
	LastError     *string    `db:"last_error"`
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
}

const (
	JobPending    = "pending"
	JobProcessing = "processing"
	JobDead       = "dead"
)

// AutomationRule is a legacy keyword-based auto reply.
type AutomationRule struct {
	ID        string `db:"id"`
	TenantID  string `db:"tenant_id"`
	Keyword   string `db:"keyword"`
	MatchType string `db:"match_type"`
	ReplyText string `db:"reply_text"`
	IsActive  bool   `db:"is_active"`
}

const (
	MatchExact    = "exact"
	MatchContains = "contains"
)

// Workflow is a visual automation definition: a DAG of typed nodes.
type Workflow struct {
	ID       string          `db:"id"`
	TenantID string          `db:"tenant_id"`
	Name     string          `db:"name"`
	IsActive bool            `db:"is_active"`
	Nodes    json.RawMessage `db:"nodes"`
	Edges    json.RawMessage `db:"edges"`
}
