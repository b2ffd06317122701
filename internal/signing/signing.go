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

// Package signing implements canonical payload hashing and HMAC request
// signing for the gateway's local action protocol.
//
// Every side-effecting request carries an HMAC-SHA256 signature over the
// canonical string "{id}|{timestamp}|{action}|{sha256(canonicalJSON(payload))}"
// under a process-local symmetric key. Verification is constant time and
// never panics on malformed input.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// SHA256Hex returns the hex-encoded SHA-256 digest of data.
// The result is always 64 lowercase hex characters.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// CanonicalJSON serializes v with a stable key ordering so the same logical
// payload always produces the same bytes. Object keys are sorted
// lexicographically at every nesting level; array order is preserved.
func CanonicalJSON(v any) ([]byte, error) {
	// Round-trip through the generic representation so struct field order
	// and map iteration order cannot leak into the output.
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("normalizing payload: %w", err)
	}

	var sb strings.Builder
	if err := writeCanonical(&sb, generic); err != nil {
		return nil, err
	}
	return []byte(sb.String()), nil
}

// writeCanonical writes the canonical form of a decoded JSON value.
func writeCanonical(sb *strings.Builder, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			keyJSON, err := json.Marshal(k)
			if err != nil {
				return err
			}
			sb.Write(keyJSON)
			sb.WriteByte(':')
			if err := writeCanonical(sb, val[k]); err != nil {
				return err
			}
		}
		sb.WriteByte('}')
	case []any:
		sb.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := writeCanonical(sb, item); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return err
		}
		sb.Write(raw)
	}
	return nil
}

// PayloadHash returns the hex SHA-256 digest of the canonical JSON form of
// payload. A nil payload hashes as JSON null.
func PayloadHash(payload any) (string, error) {
	canonical, err := CanonicalJSON(payload)
	if err != nil {
		return "", err
	}
	return SHA256Hex(canonical), nil
}

// BuildSigningPayload returns the canonical string that request signatures
// cover: "{id}|{timestamp}|{action}|{payloadHash}".
func BuildSigningPayload(id, timestamp, action string, payload any) (string, error) {
	payloadHash, err := PayloadHash(payload)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s|%s|%s|%s", id, timestamp, action, payloadHash), nil
}

// SignRequest computes the hex HMAC-SHA256 signature for a request under key.
// The output is always 64 lowercase hex characters.
func SignRequest(key []byte, id, timestamp, action string, payload any) (string, error) {
	signingPayload, err := BuildSigningPayload(id, timestamp, action, payload)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(signingPayload))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifySignature recomputes the request signature and compares it against
// signature in constant time. Any mismatch in any field, an empty signature,
// or a malformed payload returns false; it never returns an error.
func VerifySignature(key []byte, signature, id, timestamp, action string, payload any) bool {
	if signature == "" {
		return false
	}
	expected, err := SignRequest(key, id, timestamp, action, payload)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(signature))
}
