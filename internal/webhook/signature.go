package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrInvalidVerification is returned when the provider's webhook-setup
// handshake carries the wrong mode or token.
var ErrInvalidVerification = errors.New("invalid verification criteria")

// Verifier authenticates provider callbacks against the platform-level
// shared secret and the webhook-setup verification token.
type Verifier struct {
	appSecret   string
	verifyToken string
}

func NewVerifier(appSecret, verifyToken string) *Verifier {
	return &Verifier{appSecret: appSecret, verifyToken: verifyToken}
}

// VerifySignature checks the X-Hub-Signature-256 header ("sha256=<hex>")
// against an HMAC-SHA256 of the raw request body. It must receive the exact
// bytes the provider sent: a re-serialized JSON body is not guaranteed to be
// byte-identical and would break the digest.
func (v *Verifier) VerifySignature(rawBody []byte, signature string) bool {
	if v.appSecret == "" {
		log.Error().Msg("App secret not configured, rejecting webhook")
		return false
	}

	algo, digest, found := strings.Cut(signature, "=")
	if !found || algo != "sha256" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(v.appSecret))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(digest), []byte(expected))
}

// VerifyHandshake answers the provider's initial webhook-setup challenge.
// The challenge is echoed verbatim only for mode "subscribe" with the
// configured token.
func (v *Verifier) VerifyHandshake(mode, token, challenge string) (string, error) {
	if mode == "subscribe" && token != "" && token == v.verifyToken {
		return challenge, nil
	}
	return "", ErrInvalidVerification
}
