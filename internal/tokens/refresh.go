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
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// RefreshConfig names a provider's token endpoint and client credentials
// for the standard refresh-token grant.
type RefreshConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

// EnsureFresh returns a currently valid access token for the provider,
// performing the refresh-token grant when the stored token has expired.
//
// Refresh is serialized per provider: whichever caller arrives first
// performs the grant, later callers block on the provider lock and then see
// the already-refreshed record, so no conflicting writes occur.
func (s *Store) EnsureFresh(ctx context.Context, provider string, cfg RefreshConfig) (string, error) {
	lock := s.providerLock(provider)
	lock.Lock()
	defer lock.Unlock()

	rec, err := s.GetTokens(ctx, provider)
	if err != nil {
		return "", err
	}

	// Small skew so a token expiring mid-request is refreshed now.
	if time.Now().Add(30 * time.Second).Before(rec.ExpiresAt) {
		return rec.AccessToken, nil
	}

	if rec.RefreshToken == "" {
		return "", fmt.Errorf("tokens: %s token expired and no refresh token held", provider)
	}

	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL},
		Scopes:       cfg.Scopes,
	}

	src := oc.TokenSource(ctx, &oauth2.Token{RefreshToken: rec.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return "", fmt.Errorf("refreshing %s token: %w", provider, err)
	}

	// Providers may rotate the refresh token on use.
	rotated := ""
	if tok.RefreshToken != "" && tok.RefreshToken != rec.RefreshToken {
		rotated = tok.RefreshToken
	}

	if err := s.refreshLocked(ctx, provider, tok.AccessToken, tok.Expiry, rotated); err != nil {
		return "", err
	}

	return tok.AccessToken, nil
}
