package pipeline

import (
	"encoding/json"
	"fmt"
)

// Envelope mirrors the provider's webhook delivery shape: a batch of entries,
// each carrying changes whose value holds messages and/or status updates.
type Envelope struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

type ChangeValue struct {
	Metadata Metadata         `json:"metadata"`
	Contacts []PayloadContact `json:"contacts"`
	Messages []InboundMessage `json:"messages"`
	Statuses []StatusUpdate   `json:"statuses"`
}

type Metadata struct {
	PhoneNumberID      string `json:"phone_number_id"`
	DisplayPhoneNumber string `json:"display_phone_number"`
}

type PayloadContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// InboundMessage carries one customer message. The content payload lives
// under a key named after the declared type ("text", "image", ...), so the
// raw object is retained for extraction; unrecognized types fall back to an
// empty structure rather than failing.
type InboundMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`

	raw map[string]json.RawMessage
}

func (m *InboundMessage) UnmarshalJSON(data []byte) error {
	type alias InboundMessage
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("failed to decode message entry: %w", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to decode message entry: %w", err)
	}
	*m = InboundMessage(a)
	m.raw = raw
	return nil
}

// Content returns the type-specific payload blob, or an empty object when
// the declared type has no matching key.
func (m *InboundMessage) Content() json.RawMessage {
	if c, ok := m.raw[m.Type]; ok && len(c) > 0 {
		return c
	}
	return json.RawMessage(`{}`)
}

// TextBody returns the text body for text messages, and "" otherwise.
func (m *InboundMessage) TextBody() string {
	if m.Type != "text" {
		return ""
	}
	var t struct {
		Body string `json:"body"`
	}
	if raw, ok := m.raw["text"]; ok {
		if err := json.Unmarshal(raw, &t); err != nil {
			return ""
		}
	}
	return t.Body
}

// IsText reports whether the message is answerable by the AI service.
func (m *InboundMessage) IsText() bool {
	return m.Type == "text"
}

type StatusUpdate struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
}

// ParseEnvelope decodes a raw provider payload.
func ParseEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to decode webhook payload: %w", err)
	}
	return &env, nil
}

// OrderingKey derives the per-conversation serialization key for a raw
// payload: the sender phone scoped by the receiving number. Payloads without
// a message entry (pure status batches) key on the phone number id alone.
func OrderingKey(raw []byte) string {
	env, err := ParseEnvelope(raw)
	if err != nil {
		return ""
	}
	for _, entry := range env.Entry {
		for _, change := range entry.Changes {
			if len(change.Value.Messages) > 0 {
				return change.Value.Metadata.PhoneNumberID + ":" + change.Value.Messages[0].From
			}
		}
	}
	for _, entry := range env.Entry {
		for _, change := range entry.Changes {
			if change.Value.Metadata.PhoneNumberID != "" {
				return change.Value.Metadata.PhoneNumberID
			}
		}
	}
	return ""
}
