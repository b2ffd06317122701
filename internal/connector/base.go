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

package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/semblance-ai/gateway/internal/netguard"
	"github.com/semblance-ai/gateway/internal/protocol"
	"github.com/semblance-ai/gateway/internal/tokens"
)

// ErrNoAccount is returned by a Fetcher when the provider cannot resolve an
// account for the stored credentials. Structural: sync fails with NO_ACCOUNT.
var ErrNoAccount = errors.New("connector: no account resolvable")

// ErrMalformedResponse is returned by a Fetcher when the provider's
// response cannot be interpreted at all. Structural.
var ErrMalformedResponse = errors.New("connector: malformed provider response")

// rateLimitedError marks a provider 429 so sync can surface RATE_LIMITED.
type rateLimitedError struct{ host string }

func (e *rateLimitedError) Error() string { return "connector: rate limited by " + e.host }

// Fetcher is the provider-specific surface of an adapter. Everything else
// (auth custody, allowlisting, paging, partial-failure accounting) is
// shared.
type Fetcher interface {
	// ID returns the connector identifier.
	ID() string

	// Source categorizes this provider's items.
	Source() SourceType

	// FetchPage returns one page of mapped items, along with per-item
	// mapping errors. page starts at 0. A (nil, nil, err) return fails the
	// whole page.
	FetchPage(ctx context.Context, token string, page, pageSize int) ([]ImportedItem, []ItemError, error)

	// Revoke performs best-effort remote token revocation. Providers
	// without a revoke endpoint return nil.
	Revoke(ctx context.Context, token string) error
}

// Deps carries the collaborators injected into every adapter.
type Deps struct {
	Tokens  *tokens.Store
	Guard   *netguard.Monitor
	Client  *http.Client
	Logger  *slog.Logger
	Metrics *Metrics

	// Timeout bounds one adapter action.
	Timeout time.Duration

	// SyncPages and PageSize bound a sync run.
	SyncPages int
	PageSize  int

	// Refresh holds per-connector credentials for the refresh-token grant.
	// Connectors without an entry use their stored token until expiry.
	Refresh map[string]tokens.RefreshConfig
}

// ServiceAdapter wraps a Fetcher with the shared adapter behavior.
type ServiceAdapter struct {
	fetcher Fetcher
	deps    Deps
}

// NewServiceAdapter builds the full adapter for a provider.
func NewServiceAdapter(fetcher Fetcher, deps Deps) *ServiceAdapter {
	if deps.Timeout <= 0 {
		deps.Timeout = 30 * time.Second
	}
	if deps.SyncPages <= 0 {
		deps.SyncPages = 3
	}
	if deps.PageSize <= 0 {
		deps.PageSize = 50
	}
	return &ServiceAdapter{fetcher: fetcher, deps: deps}
}

// ID returns the connector identifier.
func (a *ServiceAdapter) ID() string {
	return a.fetcher.ID()
}

// Execute dispatches one of the closed adapter actions.
func (a *ServiceAdapter) Execute(ctx context.Context, action Action, payload json.RawMessage) *protocol.Response {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, a.deps.Timeout)
	defer cancel()

	var resp *protocol.Response
	switch action {
	case ActionAuth:
		resp = a.auth(ctx, payload)
	case ActionAuthStatus:
		resp = a.authStatus(ctx)
	case ActionDisconnect:
		resp = a.disconnect(ctx)
	case ActionSync:
		resp = a.sync(ctx, a.deps.SyncPages)
	case ActionListItems:
		resp = a.sync(ctx, 1)
	default:
		resp = protocol.Fail(protocol.CodeUnknownAction, "connector %s does not support action %q", a.ID(), action)
	}

	a.deps.Metrics.RecordExecution(a.ID(), action, resp.Success, time.Since(start))
	return resp
}

// auth takes custody of token material and seeds the allowlist.
func (a *ServiceAdapter) auth(ctx context.Context, payload json.RawMessage) *protocol.Response {
	var req AuthRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return protocol.Fail(protocol.CodeUnknownAction, "invalid auth payload: %v", err)
	}
	if req.AccessToken == "" {
		return protocol.Fail(protocol.CodeNotAuthenticated, "auth payload carries no access token")
	}

	rec := tokens.Record{
		Provider:     a.ID(),
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		ExpiresAt:    req.ExpiresAt,
		Scopes:       req.Scopes,
		UserEmail:    req.UserEmail,
	}
	if err := a.deps.Tokens.StoreTokens(ctx, rec); err != nil {
		return protocol.Fail(protocol.CodeNotAuthenticated, "storing tokens: %v", err)
	}

	if err := a.deps.Guard.Authorize(ctx, a.ID(), netguard.AddedByUser); err != nil {
		return protocol.Fail(protocol.CodeNetworkBlocked, "seeding allowlist: %v", err)
	}

	return protocol.OK(map[string]any{"connector": a.ID(), "authenticated": true})
}

// authStatus answers purely from the token store, without a network call.
func (a *ServiceAdapter) authStatus(ctx context.Context) *protocol.Response {
	rec, err := a.deps.Tokens.GetTokens(ctx, a.ID())
	if err != nil {
		if errors.Is(err, tokens.ErrNoTokens) {
			return protocol.OK(AuthStatus{Authenticated: false})
		}
		return protocol.Fail(protocol.CodeNotAuthenticated, "reading tokens: %v", err)
	}
	return protocol.OK(AuthStatus{
		Authenticated: time.Now().Before(rec.ExpiresAt),
		Identity:      rec.UserEmail,
	})
}

// disconnect revokes local custody, then best-effort remote revocation.
// Local revocation succeeding is success, whatever the remote call does.
func (a *ServiceAdapter) disconnect(ctx context.Context) *protocol.Response {
	token, err := a.deps.Tokens.GetAccessToken(ctx, a.ID())
	if err != nil && !errors.Is(err, tokens.ErrNoTokens) {
		return protocol.Fail(protocol.CodeNotAuthenticated, "reading tokens: %v", err)
	}

	if err := a.deps.Tokens.RevokeTokens(ctx, a.ID()); err != nil {
		return protocol.Fail(protocol.CodeNotAuthenticated, "revoking tokens: %v", err)
	}
	if err := a.deps.Guard.Remove(ctx, a.ID()); err != nil {
		a.deps.Logger.Warn("allowlist removal failed", "connector", a.ID(), "error", err)
	}

	if token != "" {
		if err := a.fetcher.Revoke(ctx, token); err != nil {
			a.deps.Logger.Warn("remote revocation failed, local revocation stands",
				"connector", a.ID(), "error", err)
		}
	}

	return protocol.OK(map[string]any{"connector": a.ID(), "disconnected": true})
}

// sync fetches up to maxPages pages, accumulating items and partial errors.
// Partial-failure rule: any items obtained means success with errors[]
// populated; zero items with a structural cause means failure.
func (a *ServiceAdapter) sync(ctx context.Context, maxPages int) *protocol.Response {
	token, err := a.accessToken(ctx)
	if err != nil {
		return protocol.Fail(protocol.CodeNotAuthenticated, "connector %s is not authenticated", a.ID())
	}

	data := SyncData{Items: []ImportedItem{}, Errors: []ItemError{}}
	var structural *protocol.Response

	for page := 0; page < maxPages; page++ {
		items, itemErrs, err := a.fetcher.FetchPage(ctx, token, page, a.deps.PageSize)
		if err != nil {
			if resp := a.classify(err); resp != nil {
				structural = resp
				break
			}
			data.Errors = append(data.Errors, ItemError{
				Message: fmt.Sprintf("page %d: %v", page, err),
			})
			continue
		}
		data.Items = append(data.Items, items...)
		data.Errors = append(data.Errors, itemErrs...)
		if len(items) < a.deps.PageSize {
			break
		}
	}

	if structural != nil {
		if len(data.Items) == 0 {
			return structural
		}
		// Items were obtained before the failure: the call succeeds, but
		// the stopped sync must show up in the error list.
		msg := "sync stopped early"
		if structural.Error != nil {
			msg = structural.Error.Message
		}
		data.Errors = append(data.Errors, ItemError{Message: msg})
	}
	return protocol.OK(data)
}

// accessToken returns the live access token, refreshing it first when the
// connector has refresh credentials configured.
func (a *ServiceAdapter) accessToken(ctx context.Context) (string, error) {
	if rc, ok := a.deps.Refresh[a.ID()]; ok {
		return a.deps.Tokens.EnsureFresh(ctx, a.ID(), rc)
	}
	return a.deps.Tokens.GetAccessToken(ctx, a.ID())
}

// classify maps a page error to a structural failure response, or nil when
// the error is transient and should be treated as partial.
func (a *ServiceAdapter) classify(err error) *protocol.Response {
	switch {
	case errors.Is(err, netguard.ErrBlocked):
		a.deps.Metrics.RecordBlocked(a.ID())
		return protocol.Fail(protocol.CodeNetworkBlocked, "%v", err)
	case errors.Is(err, ErrNoAccount):
		return protocol.Fail(protocol.CodeNoAccount, "no account resolvable for connector %s", a.ID())
	case errors.Is(err, ErrMalformedResponse):
		return protocol.Fail(protocol.CodeNoAccount, "connector %s returned an uninterpretable response", a.ID())
	}
	var rl *rateLimitedError
	if errors.As(err, &rl) {
		return protocol.Fail(protocol.CodeRateLimited, "%v", err)
	}
	return nil
}

// Client is the HTTP surface providers build requests on. Every request is
// checked against the allowlist before it leaves the process.
type Client struct {
	service string
	guard   *netguard.Monitor
	http    *http.Client
}

// NewClient builds the allowlist-guarded HTTP client for a provider.
func NewClient(service string, guard *netguard.Monitor, httpClient *http.Client) *Client {
	return &Client{service: service, guard: guard, http: httpClient}
}

// GetJSON performs an authorized GET and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, rawURL, bearer string, out any) error {
	return c.doJSON(ctx, http.MethodGet, rawURL, bearer, nil, out)
}

// PostJSON performs an authorized POST with a JSON body, decoding into out
// (out may be nil to discard).
func (c *Client) PostJSON(ctx context.Context, rawURL, bearer string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	return c.doJSON(ctx, http.MethodPost, rawURL, bearer, reader, out)
}

func (c *Client) doJSON(ctx context.Context, method, rawURL, bearer string, body io.Reader, out any) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parsing url: %w", err)
	}

	port := 443
	if p := u.Port(); p != "" {
		if port, err = strconv.Atoi(p); err != nil {
			return fmt.Errorf("parsing url port: %w", err)
		}
	} else if u.Scheme == "http" {
		port = 80
	}

	// Fail closed: the allowlist check precedes the dial.
	if err := c.guard.Check(ctx, c.service, u.Hostname(), port, u.Scheme); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", u.Hostname(), err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &rateLimitedError{host: u.Hostname()}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s returned %d", ErrNoAccount, u.Hostname(), resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%s returned %d", u.Hostname(), resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}
