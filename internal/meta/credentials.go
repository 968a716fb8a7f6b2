package meta

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"wapipe/internal/cache"
	"wapipe/internal/crypto"
	"wapipe/internal/store"
)

const credentialTTL = time.Hour

// Credentials is the decrypted sending identity of one tenant.
type Credentials struct {
	PhoneNumberID string `json:"phoneNumberId"`
	AccessToken   string `json:"accessToken"`
}

// CredentialProvider resolves tenant credentials cache-aside: cache hit
// decodes directly, miss loads the account row, decrypts the stored token
// and caches the result for an hour. The refresher invalidates entries when
// it rotates a token.
type CredentialProvider struct {
	accounts *store.AccountStore
	cache    cache.Cache
	cipher   *crypto.Cipher
}

func NewCredentialProvider(accounts *store.AccountStore, c cache.Cache, cipher *crypto.Cipher) *CredentialProvider {
	return &CredentialProvider{accounts: accounts, cache: c, cipher: cipher}
}

// CacheKey is the tenant-scoped cache entry name, shared with the refresher.
func CacheKey(tenantID string) string {
	return "whatsapp:token:" + tenantID
}

func (p *CredentialProvider) Get(ctx context.Context, tenantID string) (*Credentials, error) {
	key := CacheKey(tenantID)

	if raw, found, err := p.cache.Get(ctx, key); err == nil && found {
		var creds Credentials
		if err := json.Unmarshal([]byte(raw), &creds); err == nil {
			return &creds, nil
		}
		log.Warn().Str("tenantID", tenantID).Msg("Corrupt credential cache entry, reloading")
	}

	account, err := p.accounts.ByTenantID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if account == nil || account.AccessToken == "" {
		return nil, fmt.Errorf("whatsapp account not connected for tenant %s", tenantID)
	}

	token, err := p.cipher.Decrypt(account.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}

	creds := &Credentials{
		PhoneNumberID: account.PhoneNumberID,
		AccessToken:   token,
	}

	if raw, err := json.Marshal(creds); err == nil {
		if err := p.cache.Set(ctx, key, string(raw), credentialTTL); err != nil {
			log.Warn().Err(err).Str("tenantID", tenantID).Msg("Failed to cache credentials")
		}
	}
	return creds, nil
}

// Invalidate drops a tenant's cached credentials. Best-effort: a failure
// self-heals when the TTL elapses.
func (p *CredentialProvider) Invalidate(ctx context.Context, tenantID string) {
	if err := p.cache.Delete(ctx, CacheKey(tenantID)); err != nil {
		log.Warn().Err(err).Str("tenantID", tenantID).Msg("Failed to invalidate credential cache")
	}
}
