package refresher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"wapipe/internal/cache"
	"wapipe/internal/crypto"
	"wapipe/internal/db"
	"wapipe/internal/meta"
	"wapipe/internal/models"
	"wapipe/internal/store"
)

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	conn, err := db.Connect("file:" + t.Name() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	conn.SetMaxOpenConns(1)
	if err := db.InitSchema(conn); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type fixture struct {
	accounts *store.AccountStore
	cipher   *crypto.Cipher
	creds    *meta.CredentialProvider
	memCache cache.Cache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := newTestDB(t)
	cipher, err := crypto.New("test-key")
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	accounts := store.NewAccountStore(conn)
	memCache := cache.NewMemoryCache()
	return &fixture{
		accounts: accounts,
		cipher:   cipher,
		creds:    meta.NewCredentialProvider(accounts, memCache, cipher),
		memCache: memCache,
	}
}

func (f *fixture) seed(t *testing.T, tenantID, phoneNumberID, token string, expiresIn time.Duration) *models.Account {
	t.Helper()
	sealed, err := f.cipher.Encrypt(token)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	exp := time.Now().UTC().Add(expiresIn)
	account := &models.Account{
		TenantID: tenantID, PhoneNumberID: phoneNumberID,
		AccessToken: sealed, TokenExpiresAt: &exp,
	}
	if err := f.accounts.Create(context.Background(), account); err != nil {
		t.Fatalf("create account: %v", err)
	}
	return account
}

// exchangeServer answers the oauth exchange. Tokens listed in reject are
// answered with a 400.
func exchangeServer(t *testing.T, calls *atomic.Int64, reject map[string]bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		current := r.URL.Query().Get("fb_exchange_token")
		if reject[current] {
			http.Error(w, `{"error":{"message":"invalid token"}}`, http.StatusBadRequest)
			return
		}
		if r.URL.Query().Get("grant_type") != "fb_exchange_token" {
			http.Error(w, "bad grant", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "fresh-" + current,
			"token_type":   "bearer",
			"expires_in":   5184000,
		})
	}))
}

func newRefresher(f *fixture, baseURL string) *Refresher {
	client := meta.NewClient(baseURL, "v21.0", f.creds)
	return New(f.accounts, client, f.creds, f.cipher, "app-id", "app-secret",
		240*time.Hour, 24*time.Hour)
}

func TestSweep_RotatesExpiringToken(t *testing.T) {
	f := newFixture(t)
	account := f.seed(t, "T1", "PN1", "old-token", 48*time.Hour)

	var calls atomic.Int64
	srv := exchangeServer(t, &calls, nil)
	defer srv.Close()

	// Warm the credential cache so rotation must invalidate it.
	ctx := context.Background()
	if _, err := f.creds.Get(ctx, "T1"); err != nil {
		t.Fatalf("warm cache: %v", err)
	}

	newRefresher(f, srv.URL).Sweep(ctx)

	if calls.Load() != 1 {
		t.Fatalf("exchange calls = %d, want 1", calls.Load())
	}

	updated, err := f.accounts.ByTenantID(ctx, "T1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if updated.AccessToken == account.AccessToken {
		t.Fatalf("stored token not rotated")
	}
	plain, err := f.cipher.Decrypt(updated.AccessToken)
	if err != nil {
		t.Fatalf("decrypt rotated token: %v", err)
	}
	if plain != "fresh-old-token" {
		t.Errorf("rotated token = %q", plain)
	}
	if updated.TokenExpiresAt == nil || time.Until(*updated.TokenExpiresAt) < 59*24*time.Hour {
		t.Errorf("expiry = %v, want ~60d out", updated.TokenExpiresAt)
	}

	// Cache entry dropped; next Get sees the fresh token.
	creds, err := f.creds.Get(ctx, "T1")
	if err != nil {
		t.Fatalf("get after rotation: %v", err)
	}
	if creds.AccessToken != "fresh-old-token" {
		t.Errorf("cached token = %q, want rotated", creds.AccessToken)
	}
}

func TestSweep_SkipsTokensOutsideWindow(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "T1", "PN1", "fresh-enough", 30*24*time.Hour)

	var calls atomic.Int64
	srv := exchangeServer(t, &calls, nil)
	defer srv.Close()

	newRefresher(f, srv.URL).Sweep(context.Background())

	if calls.Load() != 0 {
		t.Errorf("exchange calls = %d, want 0", calls.Load())
	}
}

func TestSweep_FailureIsolation(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "T1", "PN1", "bad-token", 24*time.Hour)
	f.seed(t, "T2", "PN2", "good-token", 24*time.Hour)

	var calls atomic.Int64
	srv := exchangeServer(t, &calls, map[string]bool{"bad-token": true})
	defer srv.Close()

	ctx := context.Background()
	newRefresher(f, srv.URL).Sweep(ctx)

	if calls.Load() != 2 {
		t.Fatalf("exchange calls = %d, want 2", calls.Load())
	}

	// T2 rotated despite T1's failure.
	t2, err := f.accounts.ByTenantID(ctx, "T2")
	if err != nil {
		t.Fatalf("reload T2: %v", err)
	}
	plain, err := f.cipher.Decrypt(t2.AccessToken)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if plain != "fresh-good-token" {
		t.Errorf("T2 token = %q, want rotated", plain)
	}

	// T1 keeps its previous token.
	t1, err := f.accounts.ByTenantID(ctx, "T1")
	if err != nil {
		t.Fatalf("reload T1: %v", err)
	}
	if plain, err := f.cipher.Decrypt(t1.AccessToken); err != nil || plain != "bad-token" {
		t.Errorf("T1 token = %q err=%v, want untouched", plain, err)
	}
}

func TestSweep_NoAppCredentialsIsNoop(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "T1", "PN1", "token", time.Hour)

	var calls atomic.Int64
	srv := exchangeServer(t, &calls, nil)
	defer srv.Close()

	client := meta.NewClient(srv.URL, "v21.0", f.creds)
	r := New(f.accounts, client, f.creds, f.cipher, "", "", 240*time.Hour, 24*time.Hour)
	r.Sweep(context.Background())

	if calls.Load() != 0 {
		t.Errorf("exchange attempted without app credentials")
	}
}
