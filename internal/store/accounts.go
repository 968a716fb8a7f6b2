package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"wapipe/internal/models"
)

// ErrTenantNotFound is returned when no account matches a provider sender
// identifier. Callers treat it as a configuration gap, not a transient error.
var ErrTenantNotFound = errors.New("no tenant account for phone number id")

// AccountStore persists tenant WhatsApp accounts.
type AccountStore struct {
	db *sqlx.DB
}

func NewAccountStore(db *sqlx.DB) *AccountStore {
	return &AccountStore{db: db}
}

// ByPhoneNumberID resolves the provider-assigned sender identifier to the
// owning tenant account.
func (s *AccountStore) ByPhoneNumberID(ctx context.Context, phoneNumberID string) (*models.Account, error) {
	var account models.Account
	query := s.db.Rebind(`SELECT * FROM accounts WHERE phone_number_id = ?`)
	err := s.db.GetContext(ctx, &account, query, phoneNumberID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}
	return &account, nil
}

// ByTenantID returns the tenant's account, or nil when none is connected.
func (s *AccountStore) ByTenantID(ctx context.Context, tenantID string) (*models.Account, error) {
	var account models.Account
	query := s.db.Rebind(`SELECT * FROM accounts WHERE tenant_id = ?`)
	err := s.db.GetContext(ctx, &account, query, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}
	return &account, nil
}

// ExpiringWithin lists connected accounts whose token expires before
// now+window. Used by the credential refresher.
func (s *AccountStore) ExpiringWithin(ctx context.Context, now time.Time, window time.Duration) ([]models.Account, error) {
	var accounts []models.Account
	query := s.db.Rebind(`
		SELECT * FROM accounts
		WHERE token_expires_at IS NOT NULL
		  AND token_expires_at < ?
		  AND status = ?
		ORDER BY token_expires_at ASC`)
	err := s.db.SelectContext(ctx, &accounts, query, now.Add(window), models.AccountConnected)
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring accounts: %w", err)
	}
	return accounts, nil
}

// UpdateToken persists a refreshed access token and its new expiry.
func (s *AccountStore) UpdateToken(ctx context.Context, accountID, encryptedToken string, expiresAt time.Time) error {
	query := s.db.Rebind(`
		UPDATE accounts
		SET access_token = ?, token_expires_at = ?, updated_at = ?
		WHERE id = ?`)
	if _, err := s.db.ExecContext(ctx, query, encryptedToken, expiresAt.UTC(), time.Now().UTC(), accountID); err != nil {
		return fmt.Errorf("failed to update account token: %w", err)
	}
	return nil
}

// Create inserts a new account row. Used by the onboarding flow and tests.
func (s *AccountStore) Create(ctx context.Context, account *models.Account) error {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	if account.Status == "" {
		account.Status = models.AccountConnected
	}
	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now

	query := s.db.Rebind(`
		INSERT INTO accounts (id, tenant_id, phone_number_id, access_token, token_expires_at, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		account.ID, account.TenantID, account.PhoneNumberID, account.AccessToken,
		account.TokenExpiresAt, account.Status, account.CreatedAt, account.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}
