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
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/semblance-ai/gateway/internal/protocol"
)

// Router owns the adapter registry and dispatches connector actions to the
// adapter named in the request payload.
type Router struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRouter returns an empty registry.
func NewRouter() *Router {
	return &Router{adapters: make(map[string]Adapter)}
}

// Register adds an adapter. Registering the same ID twice is a wiring bug.
func (r *Router) Register(adapter Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := adapter.ID()
	if _, dup := r.adapters[id]; dup {
		return fmt.Errorf("connector %q registered twice", id)
	}
	r.adapters[id] = adapter
	return nil
}

// IDs returns the registered connector identifiers, sorted.
func (r *Router) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Dispatch routes one connector action. The payload names the target in its
// "connector" field.
func (r *Router) Dispatch(ctx context.Context, action string, payload json.RawMessage) *protocol.Response {
	if !IsConnectorAction(action) {
		return protocol.Fail(protocol.CodeUnknownAction, "unknown action %q", action)
	}

	var target struct {
		Connector string `json:"connector"`
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &target); err != nil {
			return protocol.Fail(protocol.CodeUnknownAction, "invalid payload: %v", err)
		}
	}
	if target.Connector == "" {
		return protocol.Fail(protocol.CodeUnknownAction, "payload names no connector")
	}

	r.mu.RLock()
	adapter, ok := r.adapters[target.Connector]
	r.mu.RUnlock()
	if !ok {
		return protocol.Fail(protocol.CodeUnknownAction, "no adapter registered for connector %q", target.Connector)
	}

	return adapter.Execute(ctx, Action(action), payload)
}
