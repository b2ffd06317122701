// Copyright 2026 Semblance AI
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tokens is the gateway's OAuth token custody component.
//
// One live record exists per provider. The sqlite row holds metadata
// (expiry, scopes, identity); the secret material itself lives in the OS
// keychain when available, falling back to AES-encrypted columns. Adapters
// never persist tokens themselves.
package tokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/zalando/go-keyring"

	"github.com/semblance-ai/gateway/internal/store"
)

const keyringService = "semblance-gateway"

// keyringRef marks a secret column whose value lives in the OS keychain.
const keyringRef = "keyring:"

// ErrNoTokens is returned when no record exists for a provider.
var ErrNoTokens = errors.New("tokens: no tokens stored for provider")

// Record is the live token state for one provider.
type Record struct {
	Provider     string    `json:"provider"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Scopes       []string  `json:"scopes"`
	UserEmail    string    `json:"userEmail,omitempty"`
}

// Store owns the oauth_tokens table and the keychain entries behind it.
type Store struct {
	store  *store.Store
	logger *slog.Logger

	// keychain availability, probed once at construction
	keychainOK bool

	// refreshMu guards refreshLocks; each provider's refresh is serialized
	// so concurrent requests cannot race to write conflicting tokens.
	refreshMu    sync.Mutex
	refreshLocks map[string]*sync.Mutex
}

// NewStore creates the token store, probing keychain availability.
func NewStore(st *store.Store, logger *slog.Logger) *Store {
	s := &Store{
		store:        st,
		logger:       logger,
		keychainOK:   true,
		refreshLocks: make(map[string]*sync.Mutex),
	}

	_, err := keyring.Get(keyringService, "__availability_probe__")
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		s.keychainOK = false
		logger.Warn("os keychain unavailable, token secrets fall back to encrypted storage", "error", err)
	}

	return s
}

// providerLock returns the mutex serializing refresh for a provider.
func (s *Store) providerLock(provider string) *sync.Mutex {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	l, ok := s.refreshLocks[provider]
	if !ok {
		l = &sync.Mutex{}
		s.refreshLocks[provider] = l
	}
	return l
}

// putSecret stores secret material, preferring the keychain. Returns the
// column value: a keychain reference or the encrypted secret.
func (s *Store) putSecret(provider, kind, secret string) (string, error) {
	if secret == "" {
		return "", nil
	}
	if s.keychainOK {
		key := provider + "/" + kind
		if err := keyring.Set(keyringService, key, secret); err == nil {
			return keyringRef + key, nil
		}
		s.logger.Warn("keychain write failed, falling back to encrypted column", "provider", provider)
	}
	return s.store.EncryptSecret(secret)
}

// getSecret resolves a stored column value back to the secret.
func (s *Store) getSecret(stored string) (string, error) {
	if stored == "" {
		return "", nil
	}
	if strings.HasPrefix(stored, keyringRef) {
		return keyring.Get(keyringService, strings.TrimPrefix(stored, keyringRef))
	}
	return s.store.DecryptSecret(stored)
}

// deleteSecret removes keychain material referenced by a column value.
func (s *Store) deleteSecret(stored string) {
	if strings.HasPrefix(stored, keyringRef) {
		if err := keyring.Delete(keyringService, strings.TrimPrefix(stored, keyringRef)); err != nil &&
			!errors.Is(err, keyring.ErrNotFound) {
			s.logger.Warn("keychain delete failed", "error", err)
		}
	}
}

// StoreTokens creates or replaces the provider's record.
func (s *Store) StoreTokens(ctx context.Context, rec Record) error {
	if rec.Provider == "" {
		return fmt.Errorf("tokens: provider is required")
	}
	if rec.AccessToken == "" {
		return fmt.Errorf("tokens: access token is required")
	}

	access, err := s.putSecret(rec.Provider, "access", rec.AccessToken)
	if err != nil {
		return fmt.Errorf("storing access token: %w", err)
	}
	refresh, err := s.putSecret(rec.Provider, "refresh", rec.RefreshToken)
	if err != nil {
		return fmt.Errorf("storing refresh token: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.store.DB().ExecContext(ctx,
		`INSERT INTO oauth_tokens (provider, access_token, refresh_token, expires_at, scopes, user_email, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (provider) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			scopes = excluded.scopes,
			user_email = excluded.user_email,
			updated_at = excluded.updated_at`,
		rec.Provider, access, refresh,
		rec.ExpiresAt.UTC().Format(time.RFC3339),
		strings.Join(rec.Scopes, " "), rec.UserEmail, now)
	if err != nil {
		return fmt.Errorf("storing tokens for %s: %w", rec.Provider, err)
	}

	s.logger.Info("tokens stored", "provider", rec.Provider, "expires_at", rec.ExpiresAt)
	return nil
}

// GetTokens returns the provider's record with secrets resolved.
// Returns ErrNoTokens when no record exists.
func (s *Store) GetTokens(ctx context.Context, provider string) (Record, error) {
	row := s.store.DB().QueryRowContext(ctx,
		`SELECT access_token, refresh_token, expires_at, scopes, COALESCE(user_email, '')
		 FROM oauth_tokens WHERE provider = ?`, provider)

	var accessCol, expiresAt, scopes, userEmail string
	var refreshCol sql.NullString
	if err := row.Scan(&accessCol, &refreshCol, &expiresAt, &scopes, &userEmail); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, fmt.Errorf("%w: %s", ErrNoTokens, provider)
		}
		return Record{}, fmt.Errorf("reading tokens for %s: %w", provider, err)
	}

	rec := Record{Provider: provider, UserEmail: userEmail}
	if scopes != "" {
		rec.Scopes = strings.Fields(scopes)
	}

	var err error
	if rec.ExpiresAt, err = time.Parse(time.RFC3339, expiresAt); err != nil {
		return Record{}, fmt.Errorf("parsing expiry for %s: %w", provider, err)
	}
	if rec.AccessToken, err = s.getSecret(accessCol); err != nil {
		return Record{}, fmt.Errorf("resolving access token for %s: %w", provider, err)
	}
	if refreshCol.Valid {
		if rec.RefreshToken, err = s.getSecret(refreshCol.String); err != nil {
			return Record{}, fmt.Errorf("resolving refresh token for %s: %w", provider, err)
		}
	}

	return rec, nil
}

// GetAccessToken returns the provider's current access token, or ErrNoTokens.
func (s *Store) GetAccessToken(ctx context.Context, provider string) (string, error) {
	rec, err := s.GetTokens(ctx, provider)
	if err != nil {
		return "", err
	}
	return rec.AccessToken, nil
}

// HasValidTokens reports whether a record exists and is not yet expired.
func (s *Store) HasValidTokens(ctx context.Context, provider string) bool {
	rec, err := s.GetTokens(ctx, provider)
	if err != nil {
		return false
	}
	return time.Now().Before(rec.ExpiresAt)
}

// IsTokenExpired reports expiry only, ignoring existence: a missing record
// is not "expired", it is absent.
func (s *Store) IsTokenExpired(ctx context.Context, provider string) (bool, error) {
	rec, err := s.GetTokens(ctx, provider)
	if err != nil {
		return false, err
	}
	return !time.Now().Before(rec.ExpiresAt), nil
}

// RefreshAccessToken mutates the existing record in place with a newly
// minted access token. If no record exists this is a no-op: callers must
// StoreTokens first. newRefreshToken is optional; empty keeps the old one.
func (s *Store) RefreshAccessToken(ctx context.Context, provider, newAccessToken string, newExpiresAt time.Time, newRefreshToken string) error {
	lock := s.providerLock(provider)
	lock.Lock()
	defer lock.Unlock()

	return s.refreshLocked(ctx, provider, newAccessToken, newExpiresAt, newRefreshToken)
}

// refreshLocked performs the in-place update. Callers hold the provider lock.
func (s *Store) refreshLocked(ctx context.Context, provider, newAccessToken string, newExpiresAt time.Time, newRefreshToken string) error {
	if _, err := s.GetTokens(ctx, provider); err != nil {
		if errors.Is(err, ErrNoTokens) {
			return nil
		}
		return err
	}

	access, err := s.putSecret(provider, "access", newAccessToken)
	if err != nil {
		return fmt.Errorf("storing refreshed access token: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if newRefreshToken != "" {
		refresh, err := s.putSecret(provider, "refresh", newRefreshToken)
		if err != nil {
			return fmt.Errorf("storing rotated refresh token: %w", err)
		}
		_, err = s.store.DB().ExecContext(ctx,
			`UPDATE oauth_tokens SET access_token = ?, refresh_token = ?, expires_at = ?, updated_at = ? WHERE provider = ?`,
			access, refresh, newExpiresAt.UTC().Format(time.RFC3339), now, provider)
		if err != nil {
			return fmt.Errorf("refreshing tokens for %s: %w", provider, err)
		}
	} else {
		_, err = s.store.DB().ExecContext(ctx,
			`UPDATE oauth_tokens SET access_token = ?, expires_at = ?, updated_at = ? WHERE provider = ?`,
			access, newExpiresAt.UTC().Format(time.RFC3339), now, provider)
		if err != nil {
			return fmt.Errorf("refreshing tokens for %s: %w", provider, err)
		}
	}

	s.logger.Info("access token refreshed", "provider", provider, "expires_at", newExpiresAt)
	return nil
}

// RevokeTokens deletes the provider's record and its keychain material.
// Subsequent GetAccessToken calls return ErrNoTokens, never stale tokens.
func (s *Store) RevokeTokens(ctx context.Context, provider string) error {
	row := s.store.DB().QueryRowContext(ctx,
		`SELECT access_token, COALESCE(refresh_token, '') FROM oauth_tokens WHERE provider = ?`, provider)
	var accessCol, refreshCol string
	if err := row.Scan(&accessCol, &refreshCol); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("reading tokens for revocation: %w", err)
	}

	if _, err := s.store.DB().ExecContext(ctx,
		`DELETE FROM oauth_tokens WHERE provider = ?`, provider); err != nil {
		return fmt.Errorf("revoking tokens for %s: %w", provider, err)
	}

	s.deleteSecret(accessCol)
	s.deleteSecret(refreshCol)

	s.logger.Info("tokens revoked", "provider", provider)
	return nil
}

// Providers lists every provider with a live record.
func (s *Store) Providers(ctx context.Context) ([]string, error) {
	rows, err := s.store.DB().QueryContext(ctx, `SELECT provider FROM oauth_tokens ORDER BY provider`)
	if err != nil {
		return nil, fmt.Errorf("listing providers: %w", err)
	}
	defer rows.Close()

	var providers []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return providers, rows.Err()
}
