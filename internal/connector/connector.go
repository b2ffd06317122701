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

// Package connector defines the uniform adapter contract for third-party
// integrations and the router that dispatches connector.* actions.
//
// Every adapter implements the same closed action set. Sync uses
// partial-failure semantics: a single item or page failing is recorded in
// the result's errors list while the call still succeeds with whatever was
// obtained; only structural failures (no tokens, no account, malformed
// response) fail the call.
package connector

import (
	"context"
	"encoding/json"
	"time"

	"github.com/semblance-ai/gateway/internal/protocol"
)

// Action is one of the closed set of operations every adapter supports.
type Action string

const (
	ActionAuth       Action = "connector.auth"
	ActionAuthStatus Action = "connector.auth_status"
	ActionDisconnect Action = "connector.disconnect"
	ActionSync       Action = "connector.sync"
	ActionListItems  Action = "connector.list_items"
)

// IsConnectorAction reports whether an action string belongs to the
// connector namespace.
func IsConnectorAction(action string) bool {
	switch Action(action) {
	case ActionAuth, ActionAuthStatus, ActionDisconnect, ActionSync, ActionListItems:
		return true
	}
	return false
}

// SourceType categorizes imported items for the UI.
type SourceType string

const (
	SourceResearch     SourceType = "research"
	SourceProductivity SourceType = "productivity"
	SourceMessaging    SourceType = "messaging"
)

// ImportedItem is the common shape every adapter maps remote items into.
// IDs are prefixed per provider (pkt_, tds_task_, slk_live_, box_file_, …)
// so they stay unique across sources.
type ImportedItem struct {
	ID         string         `json:"id"`
	Title      string         `json:"title"`
	URL        string         `json:"url,omitempty"`
	SourceType SourceType     `json:"sourceType"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata"`
}

// ItemError records one item or page that failed during sync without
// failing the overall call.
type ItemError struct {
	ItemID  string `json:"itemId,omitempty"`
	Message string `json:"message"`
}

// SyncData is the data payload of a successful sync or list_items call.
type SyncData struct {
	Items  []ImportedItem `json:"items"`
	Errors []ItemError    `json:"errors"`
}

// AuthStatus is the data payload of connector.auth_status. Computed purely
// from the token store, never from the network.
type AuthStatus struct {
	Authenticated bool   `json:"authenticated"`
	Identity      string `json:"identity,omitempty"`
}

// AuthRequest is the payload of connector.auth: the token material obtained
// by the UI's OAuth dance, handed to the gateway for custody.
type AuthRequest struct {
	Connector    string    `json:"connector"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Scopes       []string  `json:"scopes,omitempty"`
	UserEmail    string    `json:"userEmail,omitempty"`
}

// Adapter is the contract every integration implements.
type Adapter interface {
	// ID returns the connector identifier (e.g. "pocket").
	ID() string

	// Execute runs one action. It returns a protocol response, never a raw
	// error: failures are coded so the UI sees only the closed shape.
	Execute(ctx context.Context, action Action, payload json.RawMessage) *protocol.Response
}
