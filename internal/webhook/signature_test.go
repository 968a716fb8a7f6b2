package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	v := NewVerifier("app-secret", "verify-token")
	body := []byte(`{"object":"whatsapp_business_account"}`)

	if !v.VerifySignature(body, sign("app-secret", body)) {
		t.Errorf("valid signature rejected")
	}
	if v.VerifySignature(body, sign("wrong-secret", body)) {
		t.Errorf("signature with wrong secret accepted")
	}
	if v.VerifySignature([]byte(`{"object":"tampered"}`), sign("app-secret", body)) {
		t.Errorf("tampered body accepted")
	}
	if v.VerifySignature(body, "") {
		t.Errorf("empty signature accepted")
	}
	if v.VerifySignature(body, "sha1=deadbeef") {
		t.Errorf("wrong algorithm accepted")
	}
}

func TestVerifySignature_NoSecretConfigured(t *testing.T) {
	v := NewVerifier("", "verify-token")
	body := []byte(`{}`)
	if v.VerifySignature(body, sign("", body)) {
		t.Errorf("verifier without secret must reject everything")
	}
}

func TestVerifyHandshake(t *testing.T) {
	v := NewVerifier("app-secret", "verify-token")

	challenge, err := v.VerifyHandshake("subscribe", "verify-token", "12345")
	if err != nil {
		t.Fatalf("valid handshake: %v", err)
	}
	if challenge != "12345" {
		t.Errorf("challenge = %q, want 12345", challenge)
	}

	cases := []struct {
		name  string
		mode  string
		token string
	}{
		{"wrong mode", "unsubscribe", "verify-token"},
		{"wrong token", "subscribe", "other"},
		{"empty token", "subscribe", ""},
	}
	for _, tc := range cases {
		if _, err := v.VerifyHandshake(tc.mode, tc.token, "12345"); !errors.Is(err, ErrInvalidVerification) {
			t.Errorf("%s: err = %v, want ErrInvalidVerification", tc.name, err)
		}
	}
}
