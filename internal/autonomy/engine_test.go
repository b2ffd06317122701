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
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/semblance-ai/gateway/internal/store"
)

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if cfg.DefaultTier == "" {
		cfg.DefaultTier = TierGuardian
	}
	if cfg.EscalationThreshold == 0 {
		cfg.EscalationThreshold = 5
	}
	if cfg.EscalationTTL == 0 {
		cfg.EscalationTTL = 72 * time.Hour
	}
	return NewEngine(st, logger, cfg)
}

func TestDecideMatrix(t *testing.T) {
	tests := []struct {
		tier        Tier
		sensitivity Sensitivity
		want        Decision
	}{
		{TierObserver, SensitivityLow, DecisionDeny},
		{TierObserver, SensitivityHigh, DecisionDeny},
		{TierGuardian, SensitivityLow, DecisionAutoExecute},
		{TierGuardian, SensitivityMedium, DecisionRequireApproval},
		{TierGuardian, SensitivityHigh, DecisionRequireApproval},
		{TierPartner, SensitivityLow, DecisionAutoExecute},
		{TierPartner, SensitivityMedium, DecisionAutoExecute},
		{TierPartner, SensitivityHigh, DecisionRequireApproval},
		{TierAlterEgo, SensitivityLow, DecisionAutoExecute},
		{TierAlterEgo, SensitivityHigh, DecisionAutoExecute},
	}

	for _, tt := range tests {
		t.Run(string(tt.tier)+"/"+string(tt.sensitivity), func(t *testing.T) {
			if got := Decide(tt.tier, tt.sensitivity); got != tt.want {
				t.Errorf("Decide(%s, %s) = %s, want %s", tt.tier, tt.sensitivity, got, tt.want)
			}
		})
	}
}

func TestTierDefaultsAndOverride(t *testing.T) {
	e := newTestEngine(t, Config{})
	ctx := context.Background()

	tier, err := e.Tier(ctx, "pocket")
	if err != nil {
		t.Fatalf("Tier() error = %v", err)
	}
	if tier != TierGuardian {
		t.Errorf("default tier = %s, want guardian", tier)
	}

	if err := e.SetTier(ctx, "pocket", TierAlterEgo); err != nil {
		t.Fatalf("SetTier() error = %v", err)
	}
	tier, err = e.Tier(ctx, "pocket")
	if err != nil {
		t.Fatalf("Tier() error = %v", err)
	}
	if tier != TierAlterEgo {
		t.Errorf("tier after override = %s, want alter-ego", tier)
	}
}

func TestEscalationAfterConsecutiveApprovals(t *testing.T) {
	e := newTestEngine(t, Config{EscalationThreshold: 3})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		prompt, err := e.RecordApproval(ctx, "slack", "connector.sync")
		if err != nil {
			t.Fatalf("RecordApproval() error = %v", err)
		}
		if prompt != nil {
			t.Fatalf("prompt emitted after %d approvals, threshold is 3", i+1)
		}
	}

	prompt, err := e.RecordApproval(ctx, "slack", "connector.sync")
	if err != nil {
		t.Fatalf("RecordApproval() error = %v", err)
	}
	if prompt == nil {
		t.Fatal("no prompt after crossing threshold")
	}
	if prompt.Domain != "slack" || prompt.ActionType != "connector.sync" {
		t.Errorf("prompt = %+v", prompt)
	}
	if prompt.ConsecutiveApprovals != 3 {
		t.Errorf("prompt approvals = %d, want 3", prompt.ConsecutiveApprovals)
	}

	// Exactly one open prompt per (domain, actionType): further approvals
	// must not stack prompts.
	again, err := e.RecordApproval(ctx, "slack", "connector.sync")
	if err != nil {
		t.Fatalf("RecordApproval() error = %v", err)
	}
	if again != nil {
		t.Error("second prompt emitted while one is already open")
	}

	active, err := e.ActivePrompts(ctx)
	if err != nil {
		t.Fatalf("ActivePrompts() error = %v", err)
	}
	if len(active) != 1 {
		t.Errorf("active prompts = %d, want 1", len(active))
	}
}

func TestRejectionResetsCounter(t *testing.T) {
	e := newTestEngine(t, Config{EscalationThreshold: 3})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := e.RecordApproval(ctx, "box", "connector.sync"); err != nil {
			t.Fatalf("RecordApproval() error = %v", err)
		}
	}
	if err := e.RecordRejection(ctx, "box", "connector.sync"); err != nil {
		t.Fatalf("RecordRejection() error = %v", err)
	}

	n, err := e.ConsecutiveApprovals(ctx, "box", "connector.sync")
	if err != nil {
		t.Fatalf("ConsecutiveApprovals() error = %v", err)
	}
	if n != 0 {
		t.Errorf("counter after rejection = %d, want 0", n)
	}

	// The streak starts over: two more approvals stay under the threshold.
	for i := 0; i < 2; i++ {
		prompt, err := e.RecordApproval(ctx, "box", "connector.sync")
		if err != nil {
			t.Fatalf("RecordApproval() error = %v", err)
		}
		if prompt != nil {
			t.Error("prompt emitted before new streak crossed threshold")
		}
	}
}

func TestAcceptEscalationRaisesTier(t *testing.T) {
	e := newTestEngine(t, Config{EscalationThreshold: 2})
	ctx := context.Background()

	var prompt *EscalationPrompt
	for i := 0; i < 2; i++ {
		p, err := e.RecordApproval(ctx, "todoist", "connector.sync")
		if err != nil {
			t.Fatalf("RecordApproval() error = %v", err)
		}
		if p != nil {
			prompt = p
		}
	}
	if prompt == nil {
		t.Fatal("no prompt emitted")
	}

	if err := e.RespondToEscalation(ctx, prompt.ID, true); err != nil {
		t.Fatalf("RespondToEscalation() error = %v", err)
	}

	tier, err := e.Tier(ctx, "todoist")
	if err != nil {
		t.Fatalf("Tier() error = %v", err)
	}
	if tier != TierPartner {
		t.Errorf("tier after acceptance = %s, want partner", tier)
	}

	n, err := e.ConsecutiveApprovals(ctx, "todoist", "connector.sync")
	if err != nil {
		t.Fatalf("ConsecutiveApprovals() error = %v", err)
	}
	if n != 0 {
		t.Errorf("counter after acceptance = %d, want 0", n)
	}
}

func TestDismissEscalationKeepsTier(t *testing.T) {
	e := newTestEngine(t, Config{EscalationThreshold: 2})
	ctx := context.Background()

	var prompt *EscalationPrompt
	for i := 0; i < 2; i++ {
		p, err := e.RecordApproval(ctx, "harvest", "connector.sync")
		if err != nil {
			t.Fatalf("RecordApproval() error = %v", err)
		}
		if p != nil {
			prompt = p
		}
	}
	if prompt == nil {
		t.Fatal("no prompt emitted")
	}

	if err := e.RespondToEscalation(ctx, prompt.ID, false); err != nil {
		t.Fatalf("RespondToEscalation() error = %v", err)
	}

	tier, err := e.Tier(ctx, "harvest")
	if err != nil {
		t.Fatalf("Tier() error = %v", err)
	}
	if tier != TierGuardian {
		t.Errorf("tier after dismissal = %s, want guardian", tier)
	}

	active, err := e.ActivePrompts(ctx)
	if err != nil {
		t.Fatalf("ActivePrompts() error = %v", err)
	}
	if len(active) != 0 {
		t.Errorf("active prompts after dismissal = %d, want 0", len(active))
	}
}

func TestExpiredPromptNotActionable(t *testing.T) {
	e := newTestEngine(t, Config{EscalationThreshold: 1, EscalationTTL: -time.Hour})
	ctx := context.Background()

	prompt, err := e.RecordApproval(ctx, "lastfm", "connector.sync")
	if err != nil {
		t.Fatalf("RecordApproval() error = %v", err)
	}
	if prompt == nil {
		t.Fatal("no prompt emitted")
	}

	// TTL already elapsed: the prompt must be expired, not actionable.
	active, err := e.ActivePrompts(ctx)
	if err != nil {
		t.Fatalf("ActivePrompts() error = %v", err)
	}
	if len(active) != 0 {
		t.Errorf("active prompts = %d, want 0 after expiry", len(active))
	}

	err = e.RespondToEscalation(ctx, prompt.ID, true)
	if err == nil {
		t.Fatal("RespondToEscalation() succeeded on an expired prompt")
	}
}

func TestAlterEgoNeverEscalates(t *testing.T) {
	e := newTestEngine(t, Config{EscalationThreshold: 1})
	ctx := context.Background()

	if err := e.SetTier(ctx, "mendeley", TierAlterEgo); err != nil {
		t.Fatalf("SetTier() error = %v", err)
	}
	prompt, err := e.RecordApproval(ctx, "mendeley", "connector.sync")
	if err != nil {
		t.Fatalf("RecordApproval() error = %v", err)
	}
	if prompt != nil {
		t.Error("prompt emitted for alter-ego domain, which has no next tier")
	}
}
