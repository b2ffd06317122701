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

// Package protocol defines the signed action protocol spoken over the
// gateway's IPC channel: the request envelope, the closed result shape,
// and the closed error-code set. The UI never sees anything else.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Error codes form a closed set; callers switch on them.
const (
	CodeUnknownAction    = "UNKNOWN_ACTION"
	CodeSignatureInvalid = "SIGNATURE_INVALID"
	CodeNotAuthenticated = "NOT_AUTHENTICATED"
	CodeNetworkBlocked   = "NETWORK_BLOCKED"
	CodeRateLimited      = "RATE_LIMITED"
	CodeNoAccount        = "NO_ACCOUNT"
)

// ErrMalformedEnvelope is returned when a request cannot be parsed at all.
var ErrMalformedEnvelope = errors.New("protocol: malformed request envelope")

// RequestEnvelope is a signed action request. Immutable once constructed:
// the signature covers id, timestamp, action, and the payload hash.
type RequestEnvelope struct {
	// ID is an opaque caller-generated identifier, unique per request.
	ID string `json:"id"`

	// Timestamp is the caller's ISO-8601 request time.
	Timestamp string `json:"timestamp"`

	// Action names the operation from the closed vocabulary,
	// e.g. "connector.sync".
	Action string `json:"action"`

	// Payload is arbitrary structured data for the action.
	Payload json.RawMessage `json:"payload"`

	// Signature is the hex HMAC-SHA256 over
	// "{id}|{timestamp}|{action}|{sha256(canonicalJSON(payload))}".
	Signature string `json:"signature"`
}

// Validate checks the envelope's required fields. Signature verification is
// separate: a structurally valid envelope can still be unsigned garbage.
func (r *RequestEnvelope) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: missing id", ErrMalformedEnvelope)
	}
	if r.Timestamp == "" {
		return fmt.Errorf("%w: missing timestamp", ErrMalformedEnvelope)
	}
	if r.Action == "" {
		return fmt.Errorf("%w: missing action", ErrMalformedEnvelope)
	}
	return nil
}

// DecodedPayload unmarshals the payload into a generic value for hashing
// and signing. A nil payload decodes as nil.
func (r *RequestEnvelope) DecodedPayload() (any, error) {
	if len(r.Payload) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(r.Payload, &v); err != nil {
		return nil, fmt.Errorf("%w: invalid payload JSON", ErrMalformedEnvelope)
	}
	return v, nil
}

// Error is the structured error carried in a failed response.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Response is the uniform result shape for every action.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// OK builds a success response.
func OK(data any) *Response {
	return &Response{Success: true, Data: data}
}

// Fail builds a failure response with a coded error.
func Fail(code, format string, args ...any) *Response {
	return &Response{Success: false, Error: &Error{Code: code, Message: fmt.Sprintf(format, args...)}}
}
