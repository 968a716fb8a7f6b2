// Package refresher rotates tenant access tokens before they expire. It runs
// a daily sweep: every connected account whose token expires inside the
// configured window gets a fresh long-lived token from the Graph API.
package refresher

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"wapipe/internal/crypto"
	"wapipe/internal/meta"
	"wapipe/internal/models"
	"wapipe/internal/store"
)

// defaultTokenLifetime applies when the exchange response omits expires_in;
// long-lived user tokens last 60 days.
const defaultTokenLifetime = 60 * 24 * time.Hour

type Refresher struct {
	accounts  *store.AccountStore
	client    *meta.Client
	creds     *meta.CredentialProvider
	cipher    *crypto.Cipher
	appID     string
	appSecret string
	window    time.Duration
	interval  time.Duration
	now       func() time.Time
}

func New(
	accounts *store.AccountStore,
	client *meta.Client,
	creds *meta.CredentialProvider,
	cipher *crypto.Cipher,
	appID, appSecret string,
	window, interval time.Duration,
) *Refresher {
	return &Refresher{
		accounts:  accounts,
		client:    client,
		creds:     creds,
		cipher:    cipher,
		appID:     appID,
		appSecret: appSecret,
		window:    window,
		interval:  interval,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start runs the sweep on its interval until the context ends. The first
// sweep fires immediately so a long-stopped deployment catches up on boot.
func (r *Refresher) Start(ctx context.Context) {
	go func() {
		r.safeSweep(ctx)

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.safeSweep(ctx)
			}
		}
	}()
	log.Info().Dur("interval", r.interval).Dur("window", r.window).Msg("Token refresher started")
}

func (r *Refresher) safeSweep(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Msg("Token refresh sweep panicked")
		}
	}()
	r.Sweep(ctx)
}

// Sweep refreshes every account whose token expires inside the window. One
// account's failure never blocks the rest; without app credentials the sweep
// is a no-op because the exchange cannot be performed.
func (r *Refresher) Sweep(ctx context.Context) {
	if r.appID == "" || r.appSecret == "" {
		log.Warn().Msg("App credentials not configured, skipping token refresh sweep")
		return
	}

	accounts, err := r.accounts.ExpiringWithin(ctx, r.now(), r.window)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list expiring accounts")
		return
	}
	if len(accounts) == 0 {
		log.Debug().Msg("No tokens due for refresh")
		return
	}

	log.Info().Int("accounts", len(accounts)).Msg("Refreshing expiring tokens")
	refreshed := 0
	for i := range accounts {
		if err := r.refreshAccount(ctx, &accounts[i]); err != nil {
			log.Error().Err(err).
				Str("tenantID", accounts[i].TenantID).
				Str("accountID", accounts[i].ID).
				Msg("Token refresh failed")
			continue
		}
		refreshed++
	}
	log.Info().Int("refreshed", refreshed).Int("failed", len(accounts)-refreshed).Msg("Token refresh sweep finished")
}

func (r *Refresher) refreshAccount(ctx context.Context, account *models.Account) error {
	current, err := r.cipher.Decrypt(account.AccessToken)
	if err != nil {
		return err
	}

	resp, err := r.client.ExchangeLongLivedToken(ctx, r.appID, r.appSecret, current)
	if err != nil {
		return err
	}

	lifetime := defaultTokenLifetime
	if resp.ExpiresIn > 0 {
		lifetime = time.Duration(resp.ExpiresIn) * time.Second
	}

	encrypted, err := r.cipher.Encrypt(resp.AccessToken)
	if err != nil {
		return err
	}

	expiresAt := r.now().Add(lifetime)
	if err := r.accounts.UpdateToken(ctx, account.ID, encrypted, expiresAt); err != nil {
		return err
	}

	// The cached credentials still hold the old token; drop them so the next
	// send picks up the rotation.
	r.creds.Invalidate(ctx, account.TenantID)

	log.Info().
		Str("tenantID", account.TenantID).
		Time("expiresAt", expiresAt).
		Msg("Access token rotated")
	return nil
}
