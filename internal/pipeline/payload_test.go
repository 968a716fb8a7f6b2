package pipeline

import (
	"testing"
)

const samplePayload = `{
	"object": "whatsapp_business_account",
	"entry": [{
		"id": "WABA1",
		"changes": [{
			"field": "messages",
			"value": {
				"metadata": {"phone_number_id": "PN123", "display_phone_number": "15550001111"},
				"contacts": [{"wa_id": "+15551234567", "profile": {"name": "Ada"}}],
				"messages": [{
					"id": "wamid.XYZ",
					"from": "+15551234567",
					"timestamp": "1700000000",
					"type": "text",
					"text": {"body": "hi"}
				}]
			}
		}]
	}]
}`

func TestParseEnvelope(t *testing.T) {
	env, err := ParseEnvelope([]byte(samplePayload))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if len(env.Entry) != 1 || len(env.Entry[0].Changes) != 1 {
		t.Fatalf("unexpected shape: %+v", env)
	}

	value := env.Entry[0].Changes[0].Value
	if value.Metadata.PhoneNumberID != "PN123" {
		t.Errorf("phoneNumberID = %q", value.Metadata.PhoneNumberID)
	}
	if len(value.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(value.Messages))
	}

	msg := value.Messages[0]
	if msg.ID != "wamid.XYZ" || msg.From != "+15551234567" {
		t.Errorf("message = %+v", msg)
	}
	if !msg.IsText() {
		t.Errorf("IsText() = false for text message")
	}
	if msg.TextBody() != "hi" {
		t.Errorf("TextBody() = %q, want hi", msg.TextBody())
	}
	if string(msg.Content()) != `{"body": "hi"}` {
		t.Errorf("Content() = %s", msg.Content())
	}
}

func TestInboundMessage_UnknownType(t *testing.T) {
	payload := `{
		"object": "whatsapp_business_account",
		"entry": [{"changes": [{"value": {
			"metadata": {"phone_number_id": "PN123"},
			"messages": [{"id": "wamid.1", "from": "+1555", "type": "sticker"}]
		}}]}]
	}`
	env, err := ParseEnvelope([]byte(payload))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	msg := env.Entry[0].Changes[0].Value.Messages[0]
	if msg.IsText() {
		t.Errorf("sticker counted as text")
	}
	if msg.TextBody() != "" {
		t.Errorf("TextBody() = %q, want empty", msg.TextBody())
	}
	if string(msg.Content()) != `{}` {
		t.Errorf("Content() = %s, want empty object", msg.Content())
	}
}

func TestParseEnvelope_Malformed(t *testing.T) {
	if _, err := ParseEnvelope([]byte(`not json`)); err == nil {
		t.Fatalf("malformed payload accepted")
	}
}

func TestOrderingKey(t *testing.T) {
	if key := OrderingKey([]byte(samplePayload)); key != "PN123:+15551234567" {
		t.Errorf("key = %q, want PN123:+15551234567", key)
	}

	statusOnly := `{
		"object": "whatsapp_business_account",
		"entry": [{"changes": [{"value": {
			"metadata": {"phone_number_id": "PN123"},
			"statuses": [{"id": "wamid.1", "status": "delivered"}]
		}}]}]
	}`
	if key := OrderingKey([]byte(statusOnly)); key != "PN123" {
		t.Errorf("status-only key = %q, want PN123", key)
	}

	if key := OrderingKey([]byte(`garbage`)); key != "" {
		t.Errorf("garbage key = %q, want empty", key)
	}
}
