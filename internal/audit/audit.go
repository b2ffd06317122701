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

// Package audit maintains the gateway's append-only, hash-chained record of
// every signed, authorized action.
//
// Each entry's audit_ref is sha256(prev_ref + payload_hash + timestamp), so
// a verifier can walk the log in sequence order and detect any tampering.
// Entries are never edited or deleted; Append is the only mutation and is
// serialized, since each ref depends on the previous one.
package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/semblance-ai/gateway/internal/signing"
	"github.com/semblance-ai/gateway/internal/store"
)

// Status is the terminal outcome recorded for a request.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusError    Status = "error"
	StatusPending  Status = "pending"
	StatusRejected Status = "rejected"
)

// genesisRef seeds the chain before the first entry.
var genesisRef = signing.SHA256Hex([]byte("semblance.gateway.audit.genesis.v1"))

// ErrChainBroken is returned by Verify when recomputation does not match a
// stored ref.
var ErrChainBroken = errors.New("audit: chain broken")

// Entry is one immutable audit record.
type Entry struct {
	Seq          int64  `json:"seq"`
	ID           string `json:"id"`
	Timestamp    string `json:"timestamp"`
	Action       string `json:"action"`
	Status       Status `json:"status"`
	Description  string `json:"description"`
	AutonomyTier string `json:"autonomyTier"`
	PayloadHash  string `json:"payloadHash"`
	PrevRef      string `json:"prevRef"`
	AuditRef     string `json:"auditRef"`
}

// Log is the append-only audit chain over the state database.
type Log struct {
	store *store.Store

	// mu serializes appends: each audit_ref depends on the previous one.
	mu      sync.Mutex
	lastRef string
}

// NewLog opens the audit chain, recovering the tip ref from storage.
func NewLog(st *store.Store) (*Log, error) {
	l := &Log{store: st, lastRef: genesisRef}

	row := st.DB().QueryRow(`SELECT audit_ref FROM audit_log ORDER BY seq DESC LIMIT 1`)
	var ref string
	switch err := row.Scan(&ref); {
	case err == nil:
		l.lastRef = ref
	case errors.Is(err, sql.ErrNoRows):
		// Empty chain, keep genesis.
	default:
		return nil, fmt.Errorf("loading audit chain tip: %w", err)
	}

	return l, nil
}

// chainRef computes an entry's ref from its predecessor's ref.
func chainRef(prevRef, payloadHash, timestamp string) string {
	return signing.SHA256Hex([]byte(prevRef + payloadHash + timestamp))
}

// Append records the terminal outcome of a request, extending the chain.
// The entry's timestamp is set here if empty (RFC3339, UTC).
func (l *Log) Append(ctx context.Context, e Entry) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e.Timestamp == "" {
		e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	e.PrevRef = l.lastRef
	e.AuditRef = chainRef(e.PrevRef, e.PayloadHash, e.Timestamp)

	res, err := l.store.DB().ExecContext(ctx,
		`INSERT INTO audit_log (id, timestamp, action, status, description, autonomy_tier, payload_hash, prev_ref, audit_ref)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp, e.Action, string(e.Status), e.Description, e.AutonomyTier, e.PayloadHash, e.PrevRef, e.AuditRef)
	if err != nil {
		return Entry{}, fmt.Errorf("appending audit entry: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return Entry{}, fmt.Errorf("reading audit sequence: %w", err)
	}
	e.Seq = seq
	l.lastRef = e.AuditRef

	return e, nil
}

// Tail returns entries in reverse-chronological order, paginated for the UI.
func (l *Log) Tail(ctx context.Context, limit, offset int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.store.DB().QueryContext(ctx,
		`SELECT seq, id, timestamp, action, status, description, autonomy_tier, payload_hash, prev_ref, audit_ref
		 FROM audit_log ORDER BY seq DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("reading audit tail: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var status string
		if err := rows.Scan(&e.Seq, &e.ID, &e.Timestamp, &e.Action, &status, &e.Description,
			&e.AutonomyTier, &e.PayloadHash, &e.PrevRef, &e.AuditRef); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		e.Status = Status(status)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of entries in the chain.
func (l *Log) Count(ctx context.Context) (int64, error) {
	var n int64
	err := l.store.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_log`).Scan(&n)
	return n, err
}

// VerifyResult reports the outcome of a chain integrity check.
type VerifyResult struct {
	Intact   bool  `json:"intact"`
	Entries  int64 `json:"entries"`
	BrokenAt int64 `json:"brokenAt,omitempty"` // seq of the first broken entry
}

// Verify walks the full chain in sequence order, recomputing every ref.
// A mismatch reports the seq of the first broken entry.
func (l *Log) Verify(ctx context.Context) (VerifyResult, error) {
	rows, err := l.store.DB().QueryContext(ctx,
		`SELECT seq, timestamp, payload_hash, prev_ref, audit_ref FROM audit_log ORDER BY seq ASC`)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("reading audit chain: %w", err)
	}
	defer rows.Close()

	result := VerifyResult{Intact: true}
	prev := genesisRef
	for rows.Next() {
		var seq int64
		var timestamp, payloadHash, prevRef, auditRef string
		if err := rows.Scan(&seq, &timestamp, &payloadHash, &prevRef, &auditRef); err != nil {
			return VerifyResult{}, fmt.Errorf("scanning audit entry: %w", err)
		}
		result.Entries++

		if prevRef != prev || chainRef(prev, payloadHash, timestamp) != auditRef {
			result.Intact = false
			result.BrokenAt = seq
			return result, nil
		}
		prev = auditRef
	}
	return result, rows.Err()
}
