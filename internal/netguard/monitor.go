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

// Package netguard enforces the gateway's outbound network policy.
//
// Every adapter call names its target host before connecting; if the host is
// not in the connector's allowlist the call is refused and an unauthorized
// attempt is recorded. Fail-closed: an error checking the allowlist blocks
// the call.
package netguard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/semblance-ai/gateway/internal/store"
)

// ErrBlocked is returned when an outbound target is not allowlisted.
var ErrBlocked = errors.New("netguard: target not allowlisted")

// ErrUnknownConnector is returned when authorizing a connector with no seed
// domain set.
var ErrUnknownConnector = errors.New("netguard: unknown connector")

// AddedBy records who placed an entry on the allowlist.
const (
	AddedByOnboarding = "onboarding"
	AddedByUser       = "user"
)

// Entry is one allowlisted (domain, service) pair.
type Entry struct {
	Domain          string `json:"domain"`
	Service         string `json:"service"`
	AddedAt         string `json:"addedAt"`
	AddedBy         string `json:"addedBy"`
	ConnectionCount int64  `json:"connectionCount"`
	LastUsedAt      string `json:"lastUsedAt,omitempty"`
}

// Attempt is one refused outbound call. Read-only once written.
type Attempt struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Protocol  string `json:"protocol"`
	Timestamp string `json:"timestamp"`
	Reason    string `json:"reason"`
}

// TrustStatus aggregates the trust indicator the UI polls.
type TrustStatus struct {
	Clean              bool  `json:"clean"`
	UnauthorizedCount  int64 `json:"unauthorizedCount"`
	ActiveServiceCount int64 `json:"activeServiceCount"`
}

// Monitor owns the allowlist and unauthorized-attempt tables.
type Monitor struct {
	store  *store.Store
	logger *slog.Logger

	// Window for the trust indicator's "current reporting window".
	window time.Duration

	// Connection counters are read-modify-write; one lock per domain
	// avoids lost updates without serializing unrelated connectors.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewMonitor creates a Monitor with the given reporting window
// (zero means 24h).
func NewMonitor(st *store.Store, logger *slog.Logger, window time.Duration) *Monitor {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &Monitor{
		store:  st,
		logger: logger,
		window: window,
		locks:  make(map[string]*sync.Mutex),
	}
}

// domainLock returns the lock guarding a domain's counters.
func (m *Monitor) domainLock(domain string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[domain]
	if !ok {
		l = &sync.Mutex{}
		m.locks[domain] = l
	}
	return l
}

// Authorize seeds the allowlist for a connector with its fixed domain set.
// Called when a connector is first authorized, or at onboarding with
// addedBy AddedByOnboarding. Re-authorizing is a no-op for existing rows.
func (m *Monitor) Authorize(ctx context.Context, service, addedBy string) error {
	domains := DomainsForConnector(service)
	if domains == nil {
		return fmt.Errorf("%w: %s", ErrUnknownConnector, service)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for _, domain := range domains {
		_, err := m.store.DB().ExecContext(ctx,
			`INSERT INTO allowlist (domain, service, added_at, added_by, connection_count)
			 VALUES (?, ?, ?, ?, 0)
			 ON CONFLICT (domain, service) DO NOTHING`,
			domain, service, now, addedBy)
		if err != nil {
			return fmt.Errorf("seeding allowlist for %s: %w", service, err)
		}
	}

	m.logger.Info("connector allowlisted", "service", service, "domains", len(domains), "added_by", addedBy)
	return nil
}

// Remove deletes a connector's allowlist entries. Only explicit user action
// (disconnect) reaches this; entries are never silently removed.
func (m *Monitor) Remove(ctx context.Context, service string) error {
	if _, err := m.store.DB().ExecContext(ctx,
		`DELETE FROM allowlist WHERE service = ?`, service); err != nil {
		return fmt.Errorf("removing allowlist for %s: %w", service, err)
	}
	m.logger.Info("connector allowlist removed", "service", service)
	return nil
}

// Check authorizes one outbound connection for a connector. If the host is
// allowlisted for the service its counter is incremented and nil is
// returned; otherwise the attempt is recorded and ErrBlocked returned.
// Fail-closed: storage errors block the call.
func (m *Monitor) Check(ctx context.Context, service, host string, port int, protocol string) error {
	lock := m.domainLock(host)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)

	res, err := m.store.DB().ExecContext(ctx,
		`UPDATE allowlist SET connection_count = connection_count + 1, last_used_at = ?
		 WHERE domain = ? AND service = ?`, now, host, service)
	if err != nil {
		return fmt.Errorf("checking allowlist: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking allowlist: %w", err)
	}
	if n > 0 {
		return nil
	}

	reason := fmt.Sprintf("host not allowlisted for connector %q", service)
	if _, err := m.store.DB().ExecContext(ctx,
		`INSERT INTO unauthorized_attempts (host, port, protocol, timestamp, reason)
		 VALUES (?, ?, ?, ?, ?)`, host, port, protocol, now, reason); err != nil {
		m.logger.Error("failed to record unauthorized attempt", "host", host, "error", err)
	}
	m.logger.Warn("outbound call blocked", "service", service, "host", host, "port", port)

	return fmt.Errorf("%w: %s for %s", ErrBlocked, host, service)
}

// Status computes the trust indicator. Cheap: two aggregate reads, no
// network. Polled by the UI every ~15s.
func (m *Monitor) Status(ctx context.Context) (TrustStatus, error) {
	since := time.Now().Add(-m.window).UTC().Format(time.RFC3339)

	var status TrustStatus
	err := m.store.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM unauthorized_attempts WHERE timestamp >= ?`, since).
		Scan(&status.UnauthorizedCount)
	if err != nil {
		return TrustStatus{}, fmt.Errorf("counting unauthorized attempts: %w", err)
	}

	err = m.store.DB().QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT service) FROM allowlist`).
		Scan(&status.ActiveServiceCount)
	if err != nil {
		return TrustStatus{}, fmt.Errorf("counting active services: %w", err)
	}

	status.Clean = status.UnauthorizedCount == 0
	return status, nil
}

// Allowlist returns every allowlist entry.
func (m *Monitor) Allowlist(ctx context.Context) ([]Entry, error) {
	rows, err := m.store.DB().QueryContext(ctx,
		`SELECT domain, service, added_at, added_by, connection_count, COALESCE(last_used_at, '')
		 FROM allowlist ORDER BY service, domain`)
	if err != nil {
		return nil, fmt.Errorf("reading allowlist: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Domain, &e.Service, &e.AddedAt, &e.AddedBy, &e.ConnectionCount, &e.LastUsedAt); err != nil {
			return nil, fmt.Errorf("scanning allowlist entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// UnauthorizedAttempts returns refused calls since the given time
// (zero time means the full table), newest first.
func (m *Monitor) UnauthorizedAttempts(ctx context.Context, since time.Time) ([]Attempt, error) {
	var cutoff string
	if !since.IsZero() {
		cutoff = since.UTC().Format(time.RFC3339)
	}

	rows, err := m.store.DB().QueryContext(ctx,
		`SELECT host, port, protocol, timestamp, reason FROM unauthorized_attempts
		 WHERE timestamp >= ? ORDER BY timestamp DESC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("reading unauthorized attempts: %w", err)
	}
	defer rows.Close()

	var attempts []Attempt
	for rows.Next() {
		var a Attempt
		if err := rows.Scan(&a.Host, &a.Port, &a.Protocol, &a.Timestamp, &a.Reason); err != nil {
			return nil, fmt.Errorf("scanning attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// History returns recently used allowlist entries, most recent first.
// Backs the UI's connection-history view.
func (m *Monitor) History(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := m.store.DB().QueryContext(ctx,
		`SELECT domain, service, added_at, added_by, connection_count, COALESCE(last_used_at, '')
		 FROM allowlist WHERE last_used_at IS NOT NULL
		 ORDER BY last_used_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("reading connection history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Domain, &e.Service, &e.AddedAt, &e.AddedBy, &e.ConnectionCount, &e.LastUsedAt); err != nil {
			return nil, fmt.Errorf("scanning history entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
