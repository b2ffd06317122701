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

package signing

import (
	"strings"
	"testing"
)

func TestCanonicalJSONKeyOrder(t *testing.T) {
	a := map[string]any{"b": 1, "a": "x", "c": map[string]any{"z": true, "y": nil}}
	b := map[string]any{"c": map[string]any{"y": nil, "z": true}, "a": "x", "b": 1}

	rawA, err := CanonicalJSON(a)
	if err != nil {
		t.Fatalf("CanonicalJSON() error = %v", err)
	}
	rawB, err := CanonicalJSON(b)
	if err != nil {
		t.Fatalf("CanonicalJSON() error = %v", err)
	}

	if string(rawA) != string(rawB) {
		t.Errorf("canonical forms differ:\n%s\n%s", rawA, rawB)
	}
	if !strings.HasPrefix(string(rawA), `{"a":`) {
		t.Errorf("keys not sorted: %s", rawA)
	}
}

func TestSignAndVerify(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	payload := map[string]any{"connector": "pocket", "count": 10}

	sig, err := SignRequest(key, "req-1", "2026-09-01T10:00:00Z", "connector.sync", payload)
	if err != nil {
		t.Fatalf("SignRequest() error = %v", err)
	}

	if !VerifySignature(key, sig, "req-1", "2026-09-01T10:00:00Z", "connector.sync", payload) {
		t.Error("valid signature rejected")
	}
}

func TestVerifySignatureRejects(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	payload := map[string]any{"connector": "pocket"}
	sig, err := SignRequest(key, "req-1", "2026-09-01T10:00:00Z", "connector.sync", payload)
	if err != nil {
		t.Fatalf("SignRequest() error = %v", err)
	}

	tests := []struct {
		name      string
		key       []byte
		sig       string
		id        string
		timestamp string
		action    string
		payload   any
	}{
		{"wrong key", []byte("ffffffffffffffffffffffffffffffff"), sig, "req-1", "2026-09-01T10:00:00Z", "connector.sync", payload},
		{"empty signature", key, "", "req-1", "2026-09-01T10:00:00Z", "connector.sync", payload},
		{"garbage signature", key, "not-hex", "req-1", "2026-09-01T10:00:00Z", "connector.sync", payload},
		{"mutated id", key, sig, "req-2", "2026-09-01T10:00:00Z", "connector.sync", payload},
		{"mutated timestamp", key, sig, "req-1", "2026-09-01T10:00:01Z", "connector.sync", payload},
		{"mutated action", key, sig, "req-1", "2026-09-01T10:00:00Z", "connector.list_items", payload},
		{"mutated payload", key, sig, "req-1", "2026-09-01T10:00:00Z", "connector.sync", map[string]any{"connector": "slack"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if VerifySignature(tt.key, tt.sig, tt.id, tt.timestamp, tt.action, tt.payload) {
				t.Error("VerifySignature() = true, want false")
			}
		})
	}
}

func TestPayloadHashStable(t *testing.T) {
	h1, err := PayloadHash(map[string]any{"x": 1, "y": 2})
	if err != nil {
		t.Fatalf("PayloadHash() error = %v", err)
	}
	h2, err := PayloadHash(map[string]any{"y": 2, "x": 1})
	if err != nil {
		t.Fatalf("PayloadHash() error = %v", err)
	}
	if h1 != h2 {
		t.Errorf("hashes differ for equivalent payloads: %s vs %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("hash length = %d, want 64", len(h1))
	}
}
