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

package tokens

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/zalando/go-keyring"

	"github.com/semblance-ai/gateway/internal/store"
)

func newTestTokenStore(t *testing.T) *Store {
	t.Helper()
	keyring.MockInit()

	key, err := store.GenerateEncryptionKey()
	if err != nil {
		t.Fatalf("generating encryption key: %v", err)
	}
	st, err := store.Open(store.Config{
		Path:          filepath.Join(t.TempDir(), "test.db"),
		EncryptionKey: key,
	})
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewStore(st, logger)
}

func TestStoreAndGetTokens(t *testing.T) {
	s := newTestTokenStore(t)
	ctx := context.Background()

	rec := Record{
		Provider:     "pocket",
		AccessToken:  "access-123",
		RefreshToken: "refresh-456",
		ExpiresAt:    time.Now().Add(time.Hour).UTC().Truncate(time.Second),
		Scopes:       []string{"read"},
		UserEmail:    "user@example.com",
	}
	if err := s.StoreTokens(ctx, rec); err != nil {
		t.Fatalf("StoreTokens() error = %v", err)
	}

	got, err := s.GetTokens(ctx, "pocket")
	if err != nil {
		t.Fatalf("GetTokens() error = %v", err)
	}
	if got.AccessToken != "access-123" || got.RefreshToken != "refresh-456" {
		t.Errorf("secrets not round-tripped: %+v", got)
	}
	if got.UserEmail != "user@example.com" {
		t.Errorf("user email = %s", got.UserEmail)
	}
	if !got.ExpiresAt.Equal(rec.ExpiresAt) {
		t.Errorf("expiry = %v, want %v", got.ExpiresAt, rec.ExpiresAt)
	}
}

func TestGetTokensMissingProvider(t *testing.T) {
	s := newTestTokenStore(t)

	_, err := s.GetTokens(context.Background(), "nonexistent")
	if !errors.Is(err, ErrNoTokens) {
		t.Errorf("GetTokens() error = %v, want ErrNoTokens", err)
	}
}

func TestHasValidTokens(t *testing.T) {
	s := newTestTokenStore(t)
	ctx := context.Background()

	if s.HasValidTokens(ctx, "slack") {
		t.Error("HasValidTokens() = true with no record")
	}

	if err := s.StoreTokens(ctx, Record{
		Provider:    "slack",
		AccessToken: "tok",
		ExpiresAt:   time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("StoreTokens() error = %v", err)
	}
	if !s.HasValidTokens(ctx, "slack") {
		t.Error("HasValidTokens() = false with a live record")
	}

	if err := s.StoreTokens(ctx, Record{
		Provider:    "slack",
		AccessToken: "tok",
		ExpiresAt:   time.Now().Add(-time.Hour),
	}); err != nil {
		t.Fatalf("StoreTokens() error = %v", err)
	}
	if s.HasValidTokens(ctx, "slack") {
		t.Error("HasValidTokens() = true with an expired record")
	}
}

func TestRefreshAccessToken(t *testing.T) {
	s := newTestTokenStore(t)
	ctx := context.Background()

	if err := s.StoreTokens(ctx, Record{
		Provider:     "box",
		AccessToken:  "old-access",
		RefreshToken: "old-refresh",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}); err != nil {
		t.Fatalf("StoreTokens() error = %v", err)
	}

	newExpiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	if err := s.RefreshAccessToken(ctx, "box", "new-access", newExpiry, "new-refresh"); err != nil {
		t.Fatalf("RefreshAccessToken() error = %v", err)
	}

	got, err := s.GetTokens(ctx, "box")
	if err != nil {
		t.Fatalf("GetTokens() error = %v", err)
	}
	if got.AccessToken != "new-access" {
		t.Errorf("access token = %s, want new-access", got.AccessToken)
	}
	if got.RefreshToken != "new-refresh" {
		t.Errorf("refresh token = %s, want new-refresh", got.RefreshToken)
	}
	if !got.ExpiresAt.Equal(newExpiry) {
		t.Errorf("expiry = %v, want %v", got.ExpiresAt, newExpiry)
	}
}

func TestRefreshWithoutRecordIsNoOp(t *testing.T) {
	s := newTestTokenStore(t)

	err := s.RefreshAccessToken(context.Background(), "nonexistent", "tok", time.Now().Add(time.Hour), "")
	if err != nil {
		t.Errorf("RefreshAccessToken() on absent provider error = %v, want nil", err)
	}
}

func TestRevokeTokens(t *testing.T) {
	s := newTestTokenStore(t)
	ctx := context.Background()

	if err := s.StoreTokens(ctx, Record{
		Provider:    "todoist",
		AccessToken: "tok",
		ExpiresAt:   time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("StoreTokens() error = %v", err)
	}
	if err := s.RevokeTokens(ctx, "todoist"); err != nil {
		t.Fatalf("RevokeTokens() error = %v", err)
	}

	if _, err := s.GetTokens(ctx, "todoist"); !errors.Is(err, ErrNoTokens) {
		t.Errorf("GetTokens() after revoke error = %v, want ErrNoTokens", err)
	}

	// Revoking again is not an error: local revocation is idempotent.
	if err := s.RevokeTokens(ctx, "todoist"); err != nil {
		t.Errorf("second RevokeTokens() error = %v", err)
	}
}

func TestProviders(t *testing.T) {
	s := newTestTokenStore(t)
	ctx := context.Background()

	for _, p := range []string{"pocket", "slack"} {
		if err := s.StoreTokens(ctx, Record{
			Provider:    p,
			AccessToken: "tok",
			ExpiresAt:   time.Now().Add(time.Hour),
		}); err != nil {
			t.Fatalf("StoreTokens(%s) error = %v", p, err)
		}
	}

	providers, err := s.Providers(ctx)
	if err != nil {
		t.Fatalf("Providers() error = %v", err)
	}
	if len(providers) != 2 {
		t.Errorf("Providers() = %v, want 2 entries", providers)
	}
}
