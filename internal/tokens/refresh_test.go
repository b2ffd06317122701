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
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func tokenEndpoint(t *testing.T, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if got := r.Form.Get("grant_type"); got != "refresh_token" {
			http.Error(w, "unexpected grant "+got, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"fresh-token","refresh_token":"rotated-refresh","token_type":"Bearer","expires_in":3600}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEnsureFreshReturnsStoredTokenWhileValid(t *testing.T) {
	s := newTestTokenStore(t)
	ctx := context.Background()

	var calls atomic.Int64
	srv := tokenEndpoint(t, &calls)

	rec := Record{
		Provider:     "harvest",
		AccessToken:  "live-token",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	if err := s.StoreTokens(ctx, rec); err != nil {
		t.Fatalf("StoreTokens() error = %v", err)
	}

	got, err := s.EnsureFresh(ctx, "harvest", RefreshConfig{TokenURL: srv.URL})
	if err != nil {
		t.Fatalf("EnsureFresh() error = %v", err)
	}
	if got != "live-token" {
		t.Errorf("token = %q, want stored token", got)
	}
	if calls.Load() != 0 {
		t.Errorf("token endpoint called %d times for a live token", calls.Load())
	}
}

func TestEnsureFreshRefreshesExpiredToken(t *testing.T) {
	s := newTestTokenStore(t)
	ctx := context.Background()

	var calls atomic.Int64
	srv := tokenEndpoint(t, &calls)

	rec := Record{
		Provider:     "harvest",
		AccessToken:  "stale-token",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}
	if err := s.StoreTokens(ctx, rec); err != nil {
		t.Fatalf("StoreTokens() error = %v", err)
	}

	got, err := s.EnsureFresh(ctx, "harvest", RefreshConfig{
		ClientID:     "cid",
		ClientSecret: "secret",
		TokenURL:     srv.URL,
	})
	if err != nil {
		t.Fatalf("EnsureFresh() error = %v", err)
	}
	if got != "fresh-token" {
		t.Errorf("token = %q, want refreshed token", got)
	}
	if calls.Load() != 1 {
		t.Errorf("token endpoint called %d times, want 1", calls.Load())
	}

	// The rotated refresh token must be persisted.
	stored, err := s.GetTokens(ctx, "harvest")
	if err != nil {
		t.Fatalf("GetTokens() error = %v", err)
	}
	if stored.AccessToken != "fresh-token" {
		t.Errorf("stored access token = %q", stored.AccessToken)
	}
	if stored.RefreshToken != "rotated-refresh" {
		t.Errorf("stored refresh token = %q", stored.RefreshToken)
	}
}

func TestEnsureFreshWithoutRefreshToken(t *testing.T) {
	s := newTestTokenStore(t)
	ctx := context.Background()

	rec := Record{
		Provider:    "pocket",
		AccessToken: "stale-token",
		ExpiresAt:   time.Now().Add(-time.Minute),
	}
	if err := s.StoreTokens(ctx, rec); err != nil {
		t.Fatalf("StoreTokens() error = %v", err)
	}

	if _, err := s.EnsureFresh(ctx, "pocket", RefreshConfig{TokenURL: "http://127.0.0.1:0"}); err == nil {
		t.Error("EnsureFresh() succeeded with no refresh token held")
	}
}
