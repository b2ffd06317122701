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

// Package store provides SQLite-backed persistence for the gateway's state:
// the allowlist, unauthorized attempts, the audit chain, OAuth token
// records, autonomy configuration, escalation prompts, and pending actions.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the gateway state database.
type Store struct {
	db            *sql.DB
	encryptionKey *EncryptionKey
}

// Config contains store configuration.
type Config struct {
	// Path is the filesystem path to the SQLite database file.
	// Special value ":memory:" creates an in-memory database.
	Path string

	// MaxOpenConns sets the maximum number of open connections.
	MaxOpenConns int

	// EncryptionKey, when non-nil, encrypts token secret columns at rest.
	EncryptionKey *EncryptionKey
}

// Open opens (creating if necessary) the gateway state database and runs
// migrations.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// WAL mode so UI polling reads do not contend with writes.
	connStr := cfg.Path
	if cfg.Path != ":memory:" {
		connStr += "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxConns := cfg.MaxOpenConns
	if maxConns == 0 {
		maxConns = 5
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{db: db, encryptionKey: cfg.EncryptionKey}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// migrate creates the database schema.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	migrations := []string{
		// Append-only audit chain. seq is the primary index; prev_ref is
		// stored explicitly so out-of-order replay during recovery cannot
		// silently corrupt the chain.
		`CREATE TABLE IF NOT EXISTS audit_log (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			action TEXT NOT NULL,
			status TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			autonomy_tier TEXT NOT NULL DEFAULT '',
			payload_hash TEXT NOT NULL,
			prev_ref TEXT NOT NULL,
			audit_ref TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_timestamp ON audit_log(timestamp)`,

		// Network allowlist, seeded per connector at authorization time.
		`CREATE TABLE IF NOT EXISTS allowlist (
			domain TEXT NOT NULL,
			service TEXT NOT NULL,
			added_at TEXT NOT NULL,
			added_by TEXT NOT NULL,
			connection_count INTEGER NOT NULL DEFAULT 0,
			last_used_at TEXT,
			PRIMARY KEY (domain, service)
		)`,

		`CREATE TABLE IF NOT EXISTS unauthorized_attempts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			host TEXT NOT NULL,
			port INTEGER NOT NULL,
			protocol TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			reason TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_unauthorized_timestamp ON unauthorized_attempts(timestamp)`,

		// One live token row per provider. Secret columns hold either a
		// keychain reference or an encrypted value, never plaintext.
		`CREATE TABLE IF NOT EXISTS oauth_tokens (
			provider TEXT PRIMARY KEY,
			access_token TEXT NOT NULL,
			refresh_token TEXT,
			expires_at TEXT NOT NULL,
			scopes TEXT NOT NULL DEFAULT '',
			user_email TEXT,
			updated_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS autonomy_tiers (
			domain TEXT PRIMARY KEY,
			tier TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS approval_counters (
			domain TEXT NOT NULL,
			action_type TEXT NOT NULL,
			consecutive_approvals INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (domain, action_type)
		)`,

		`CREATE TABLE IF NOT EXISTS escalation_prompts (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			domain TEXT NOT NULL,
			action_type TEXT NOT NULL,
			consecutive_approvals INTEGER NOT NULL,
			preview TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TEXT NOT NULL,
			expires_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_escalation_status ON escalation_prompts(status)`,

		`CREATE TABLE IF NOT EXISTS pending_actions (
			id TEXT PRIMARY KEY,
			envelope TEXT NOT NULL,
			reasoning TEXT NOT NULL DEFAULT '',
			domain TEXT NOT NULL,
			action_type TEXT NOT NULL,
			created_at TEXT NOT NULL,
			status TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_status ON pending_actions(status)`,

		// Completed request results kept for the dedupe window so client
		// retries are idempotent.
		`CREATE TABLE IF NOT EXISTS request_results (
			request_id TEXT PRIMARY KEY,
			result TEXT NOT NULL,
			completed_at TEXT NOT NULL
		)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// DB exposes the underlying database to the domain packages that own their
// table's queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// EncryptSecret encrypts a secret column value when an encryption key is
// configured; otherwise it returns the value unchanged.
func (s *Store) EncryptSecret(plaintext string) (string, error) {
	if s.encryptionKey == nil {
		return plaintext, nil
	}
	return s.encryptionKey.Encrypt([]byte(plaintext))
}

// DecryptSecret reverses EncryptSecret.
func (s *Store) DecryptSecret(stored string) (string, error) {
	if s.encryptionKey == nil {
		return stored, nil
	}
	plaintext, err := s.encryptionKey.Decrypt(stored)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
