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

package autonomy

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrPendingNotFound is returned when resolving an unknown pending action.
var ErrPendingNotFound = errors.New("autonomy: pending action not found")

// Pending action statuses.
const (
	PendingOpen     = "pending"
	PendingApproved = "approved"
	PendingRejected = "rejected"
)

// PendingAction holds a request the current tier would not auto-execute,
// awaiting explicit user approval.
type PendingAction struct {
	ID         string          `json:"id"`
	Envelope   json.RawMessage `json:"envelope"`
	Reasoning  string          `json:"reasoning"`
	Domain     string          `json:"domain"`
	ActionType string          `json:"actionType"`
	CreatedAt  time.Time       `json:"createdAt"`
	Status     string          `json:"status"`
}

// CreatePending parks a request for approval. The id is the signed request
// envelope's id, so approve/reject calls reference it directly.
func (e *Engine) CreatePending(ctx context.Context, id string, envelope json.RawMessage, reasoning, domain, actionType string) error {
	_, err := e.store.DB().ExecContext(ctx,
		`INSERT INTO pending_actions (id, envelope, reasoning, domain, action_type, created_at, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		id, string(envelope), reasoning, domain, actionType,
		time.Now().UTC().Format(time.RFC3339), PendingOpen)
	if err != nil {
		return fmt.Errorf("creating pending action: %w", err)
	}
	e.logger.Info("action pending approval", "request_id", id, "domain", domain, "action_type", actionType)
	return nil
}

// ListPending returns open pending actions, oldest first.
func (e *Engine) ListPending(ctx context.Context) ([]PendingAction, error) {
	rows, err := e.store.DB().QueryContext(ctx,
		`SELECT id, envelope, reasoning, domain, action_type, created_at, status
		 FROM pending_actions WHERE status = ? ORDER BY created_at`, PendingOpen)
	if err != nil {
		return nil, fmt.Errorf("reading pending actions: %w", err)
	}
	defer rows.Close()

	var actions []PendingAction
	for rows.Next() {
		a, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// ResolvePending marks a pending action approved or rejected and returns it.
// The caller executes the envelope on approval and feeds the audit log and
// the escalation counter either way.
func (e *Engine) ResolvePending(ctx context.Context, id string, approved bool) (PendingAction, error) {
	row := e.store.DB().QueryRowContext(ctx,
		`SELECT id, envelope, reasoning, domain, action_type, created_at, status
		 FROM pending_actions WHERE id = ?`, id)
	a, err := scanPending(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PendingAction{}, fmt.Errorf("%w: %s", ErrPendingNotFound, id)
		}
		return PendingAction{}, err
	}
	if a.Status != PendingOpen {
		return PendingAction{}, fmt.Errorf("autonomy: pending action %s already resolved (%s)", id, a.Status)
	}

	status := PendingRejected
	if approved {
		status = PendingApproved
	}
	if _, err := e.store.DB().ExecContext(ctx,
		`UPDATE pending_actions SET status = ? WHERE id = ?`, status, id); err != nil {
		return PendingAction{}, fmt.Errorf("resolving pending action: %w", err)
	}
	a.Status = status

	e.logger.Info("pending action resolved", "request_id", id, "approved", approved)
	return a, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPending(row rowScanner) (PendingAction, error) {
	var a PendingAction
	var envelope, createdAt string
	if err := row.Scan(&a.ID, &envelope, &a.Reasoning, &a.Domain, &a.ActionType, &createdAt, &a.Status); err != nil {
		return PendingAction{}, err
	}
	a.Envelope = json.RawMessage(envelope)
	var err error
	if a.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return PendingAction{}, fmt.Errorf("parsing pending action timestamp: %w", err)
	}
	return a, nil
}
