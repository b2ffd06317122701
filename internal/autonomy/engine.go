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

// Package autonomy tracks per-domain autonomy tiers, decides whether an
// action may auto-execute, and escalates tiers after sustained runs of
// user approvals.
package autonomy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/semblance-ai/gateway/internal/store"
)

// PromptStatus tracks an escalation prompt's lifecycle.
type PromptStatus string

const (
	PromptPending   PromptStatus = "pending"
	PromptAccepted  PromptStatus = "accepted"
	PromptDismissed PromptStatus = "dismissed"
	PromptExpired   PromptStatus = "expired"
)

// Escalation prompt types, named by the transition they propose.
const (
	PromptGuardianToPartner = "guardian_to_partner"
	PromptPartnerToAlterEgo = "partner_to_alterego"
)

// ErrPromptNotFound is returned when responding to an unknown prompt.
var ErrPromptNotFound = errors.New("autonomy: escalation prompt not found")

// ErrPromptExpired is returned when responding to a prompt past its window.
var ErrPromptExpired = errors.New("autonomy: escalation prompt expired")

// EscalationPrompt proposes moving a domain one tier up.
type EscalationPrompt struct {
	ID                   string       `json:"id"`
	Type                 string       `json:"type"`
	Domain               string       `json:"domain"`
	ActionType           string       `json:"actionType"`
	ConsecutiveApprovals int          `json:"consecutiveApprovals"`
	Preview              string       `json:"preview"`
	Status               PromptStatus `json:"status"`
	ExpiresAt            time.Time    `json:"expiresAt"`
}

// Config tunes the engine.
type Config struct {
	// DefaultTier applies to domains with no stored tier.
	DefaultTier Tier

	// EscalationThreshold is the consecutive-approval count that triggers
	// a prompt.
	EscalationThreshold int

	// EscalationTTL is how long a prompt stays actionable.
	EscalationTTL time.Duration
}

// Engine is the autonomy decision and escalation engine.
type Engine struct {
	store  *store.Store
	logger *slog.Logger
	cfg    Config
}

// NewEngine creates the engine.
func NewEngine(st *store.Store, logger *slog.Logger, cfg Config) *Engine {
	if cfg.DefaultTier == "" {
		cfg.DefaultTier = TierGuardian
	}
	if cfg.EscalationThreshold <= 0 {
		cfg.EscalationThreshold = 5
	}
	// Only the unset case defaults: a negative TTL means prompts are born
	// expired, which tests use to exercise expiry.
	if cfg.EscalationTTL == 0 {
		cfg.EscalationTTL = 72 * time.Hour
	}
	return &Engine{store: st, logger: logger, cfg: cfg}
}

// SetConfig swaps the tunables, used by live config reload.
func (e *Engine) SetConfig(cfg Config) {
	if cfg.DefaultTier != "" {
		e.cfg.DefaultTier = cfg.DefaultTier
	}
	if cfg.EscalationThreshold > 0 {
		e.cfg.EscalationThreshold = cfg.EscalationThreshold
	}
	if cfg.EscalationTTL > 0 {
		e.cfg.EscalationTTL = cfg.EscalationTTL
	}
}

// Tier returns the domain's current tier, falling back to the default.
func (e *Engine) Tier(ctx context.Context, domain string) (Tier, error) {
	var s string
	err := e.store.DB().QueryRowContext(ctx,
		`SELECT tier FROM autonomy_tiers WHERE domain = ?`, domain).Scan(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return e.cfg.DefaultTier, nil
	}
	if err != nil {
		return "", fmt.Errorf("reading tier for %s: %w", domain, err)
	}
	return ParseTier(s)
}

// SetTier records an explicit tier for a domain.
func (e *Engine) SetTier(ctx context.Context, domain string, tier Tier) error {
	if _, err := ParseTier(string(tier)); err != nil {
		return err
	}
	_, err := e.store.DB().ExecContext(ctx,
		`INSERT INTO autonomy_tiers (domain, tier) VALUES (?, ?)
		 ON CONFLICT (domain) DO UPDATE SET tier = excluded.tier`, domain, string(tier))
	if err != nil {
		return fmt.Errorf("setting tier for %s: %w", domain, err)
	}
	e.logger.Info("autonomy tier set", "domain", domain, "tier", tier)
	return nil
}

// Tiers returns the full domain→tier mapping for domains with stored tiers.
func (e *Engine) Tiers(ctx context.Context) (map[string]Tier, error) {
	rows, err := e.store.DB().QueryContext(ctx, `SELECT domain, tier FROM autonomy_tiers`)
	if err != nil {
		return nil, fmt.Errorf("reading tiers: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Tier)
	for rows.Next() {
		var domain, tier string
		if err := rows.Scan(&domain, &tier); err != nil {
			return nil, err
		}
		out[domain] = Tier(tier)
	}
	return out, rows.Err()
}

// Authorize decides the fate of an incoming action for a domain.
func (e *Engine) Authorize(ctx context.Context, domain string, sensitivity Sensitivity) (Decision, Tier, error) {
	tier, err := e.Tier(ctx, domain)
	if err != nil {
		return DecisionDeny, "", err
	}
	return Decide(tier, sensitivity), tier, nil
}

// ConsecutiveApprovals returns the rolling counter for a (domain, action
// type) pair.
func (e *Engine) ConsecutiveApprovals(ctx context.Context, domain, actionType string) (int, error) {
	var n int
	err := e.store.DB().QueryRowContext(ctx,
		`SELECT consecutive_approvals FROM approval_counters WHERE domain = ? AND action_type = ?`,
		domain, actionType).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading approval counter: %w", err)
	}
	return n, nil
}

// RecordApproval increments the (domain, actionType) counter after the user
// approves a gated action. Crossing the threshold emits exactly one pending
// escalation prompt for the pair; further approvals while that prompt is
// open do not emit another.
func (e *Engine) RecordApproval(ctx context.Context, domain, actionType string) (*EscalationPrompt, error) {
	_, err := e.store.DB().ExecContext(ctx,
		`INSERT INTO approval_counters (domain, action_type, consecutive_approvals)
		 VALUES (?, ?, 1)
		 ON CONFLICT (domain, action_type) DO UPDATE SET
			consecutive_approvals = consecutive_approvals + 1`, domain, actionType)
	if err != nil {
		return nil, fmt.Errorf("recording approval: %w", err)
	}

	count, err := e.ConsecutiveApprovals(ctx, domain, actionType)
	if err != nil {
		return nil, err
	}
	if count < e.cfg.EscalationThreshold {
		return nil, nil
	}

	tier, err := e.Tier(ctx, domain)
	if err != nil {
		return nil, err
	}

	var promptType string
	switch tier {
	case TierGuardian:
		promptType = PromptGuardianToPartner
	case TierPartner:
		promptType = PromptPartnerToAlterEgo
	default:
		// Observer escalates only by explicit user action; alter-ego has
		// nowhere to go.
		return nil, nil
	}

	open, err := e.hasOpenPrompt(ctx, domain, actionType)
	if err != nil {
		return nil, err
	}
	if open {
		return nil, nil
	}

	prompt := EscalationPrompt{
		ID:                   uuid.New().String(),
		Type:                 promptType,
		Domain:               domain,
		ActionType:           actionType,
		ConsecutiveApprovals: count,
		Preview:              escalationPreview(tier, domain, actionType),
		Status:               PromptPending,
		ExpiresAt:            time.Now().Add(e.cfg.EscalationTTL),
	}

	_, err = e.store.DB().ExecContext(ctx,
		`INSERT INTO escalation_prompts (id, type, domain, action_type, consecutive_approvals, preview, status, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		prompt.ID, prompt.Type, prompt.Domain, prompt.ActionType, prompt.ConsecutiveApprovals,
		prompt.Preview, string(prompt.Status),
		time.Now().UTC().Format(time.RFC3339),
		prompt.ExpiresAt.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("creating escalation prompt: %w", err)
	}

	e.logger.Info("escalation prompt created",
		"domain", domain, "action_type", actionType, "type", promptType, "approvals", count)
	return &prompt, nil
}

// RecordRejection resets the (domain, actionType) counter to zero.
func (e *Engine) RecordRejection(ctx context.Context, domain, actionType string) error {
	_, err := e.store.DB().ExecContext(ctx,
		`INSERT INTO approval_counters (domain, action_type, consecutive_approvals)
		 VALUES (?, ?, 0)
		 ON CONFLICT (domain, action_type) DO UPDATE SET consecutive_approvals = 0`,
		domain, actionType)
	if err != nil {
		return fmt.Errorf("resetting approval counter: %w", err)
	}
	return nil
}

// hasOpenPrompt reports whether a pending, unexpired prompt exists for the
// pair.
func (e *Engine) hasOpenPrompt(ctx context.Context, domain, actionType string) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	var one int
	err := e.store.DB().QueryRowContext(ctx,
		`SELECT 1 FROM escalation_prompts
		 WHERE domain = ? AND action_type = ? AND status = ? AND expires_at > ?`,
		domain, actionType, string(PromptPending), now).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// expireStale lazily marks pending prompts past their window as expired.
func (e *Engine) expireStale(ctx context.Context) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := e.store.DB().ExecContext(ctx,
		`UPDATE escalation_prompts SET status = ? WHERE status = ? AND expires_at <= ?`,
		string(PromptExpired), string(PromptPending), now)
	return err
}

// ActivePrompts returns pending, unexpired prompts.
func (e *Engine) ActivePrompts(ctx context.Context) ([]EscalationPrompt, error) {
	if err := e.expireStale(ctx); err != nil {
		return nil, fmt.Errorf("expiring stale prompts: %w", err)
	}

	rows, err := e.store.DB().QueryContext(ctx,
		`SELECT id, type, domain, action_type, consecutive_approvals, preview, status, expires_at
		 FROM escalation_prompts WHERE status = ? ORDER BY created_at`, string(PromptPending))
	if err != nil {
		return nil, fmt.Errorf("reading escalation prompts: %w", err)
	}
	defer rows.Close()

	var prompts []EscalationPrompt
	for rows.Next() {
		var p EscalationPrompt
		var status, expiresAt string
		if err := rows.Scan(&p.ID, &p.Type, &p.Domain, &p.ActionType, &p.ConsecutiveApprovals,
			&p.Preview, &status, &expiresAt); err != nil {
			return nil, err
		}
		p.Status = PromptStatus(status)
		if p.ExpiresAt, err = time.Parse(time.RFC3339, expiresAt); err != nil {
			return nil, fmt.Errorf("parsing prompt expiry: %w", err)
		}
		prompts = append(prompts, p)
	}
	return prompts, rows.Err()
}

// RespondToEscalation resolves a prompt. Accepting bumps the domain one
// tier up and resets the pair's counter; dismissing resets the counter so
// the prompt does not refire immediately.
func (e *Engine) RespondToEscalation(ctx context.Context, promptID string, accepted bool) error {
	if err := e.expireStale(ctx); err != nil {
		return fmt.Errorf("expiring stale prompts: %w", err)
	}

	row := e.store.DB().QueryRowContext(ctx,
		`SELECT domain, action_type, status FROM escalation_prompts WHERE id = ?`, promptID)
	var domain, actionType, status string
	if err := row.Scan(&domain, &actionType, &status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrPromptNotFound, promptID)
		}
		return fmt.Errorf("reading escalation prompt: %w", err)
	}

	switch PromptStatus(status) {
	case PromptPending:
	case PromptExpired:
		return fmt.Errorf("%w: %s", ErrPromptExpired, promptID)
	default:
		return fmt.Errorf("autonomy: prompt %s already resolved (%s)", promptID, status)
	}

	newStatus := PromptDismissed
	if accepted {
		newStatus = PromptAccepted
	}
	if _, err := e.store.DB().ExecContext(ctx,
		`UPDATE escalation_prompts SET status = ? WHERE id = ?`, string(newStatus), promptID); err != nil {
		return fmt.Errorf("resolving escalation prompt: %w", err)
	}

	if accepted {
		tier, err := e.Tier(ctx, domain)
		if err != nil {
			return err
		}
		if err := e.SetTier(ctx, domain, tier.Next()); err != nil {
			return err
		}
	}

	if err := e.RecordRejection(ctx, domain, actionType); err != nil {
		return err
	}

	e.logger.Info("escalation prompt resolved", "prompt", promptID, "accepted", accepted, "domain", domain)
	return nil
}

// escalationPreview describes which approval-gated behavior would become
// automatic if the user accepts.
func escalationPreview(current Tier, domain, actionType string) string {
	switch current {
	case TierGuardian:
		return fmt.Sprintf(
			"Moving %s from guardian to partner: %s actions you have been approving will run automatically; only high-sensitivity actions will still ask first.",
			domain, actionType)
	case TierPartner:
		return fmt.Sprintf(
			"Moving %s from partner to alter-ego: all %s actions, including high-sensitivity ones, will run without asking.",
			domain, actionType)
	default:
		return ""
	}
}
