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

// Package client is the in-process caller used by gatewayctl: it signs an
// envelope, writes it as one line, and reads one response line back.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/semblance-ai/gateway/internal/ipc"
	"github.com/semblance-ai/gateway/internal/protocol"
	"github.com/semblance-ai/gateway/internal/signing"
)

// Client signs and submits requests to a running gateway.
type Client struct {
	endpoint   string
	signingKey []byte
}

// New builds a client for the given endpoint.
func New(endpoint string, signingKey []byte) *Client {
	return &Client{endpoint: endpoint, signingKey: signingKey}
}

// Do submits one action and returns the gateway's response. A transport
// failure is an error; a gateway-level failure is a response with
// Success=false.
func (c *Client) Do(ctx context.Context, action string, payload any) (*protocol.Response, error) {
	if payload == nil {
		payload = map[string]any{}
	}

	id := uuid.NewString()
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	sig, err := signing.SignRequest(c.signingKey, id, timestamp, action, payload)
	if err != nil {
		return nil, fmt.Errorf("signing request: %w", err)
	}

	rawPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	env := protocol.RequestEnvelope{
		ID:        id,
		Timestamp: timestamp,
		Action:    action,
		Payload:   rawPayload,
		Signature: sig,
	}
	line, err := json.Marshal(&env)
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}

	conn, err := ipc.Dial(c.endpoint)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if _, err := conn.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}

	reader := bufio.NewReader(conn)
	respLine, err := reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	var resp protocol.Response
	if err := json.Unmarshal(respLine, &resp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &resp, nil
}
