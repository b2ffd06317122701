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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Autonomy.DefaultTier != "guardian" {
		t.Errorf("default tier = %s, want guardian", cfg.Autonomy.DefaultTier)
	}
	if cfg.Autonomy.EscalationThreshold != 5 {
		t.Errorf("escalation threshold = %d, want 5", cfg.Autonomy.EscalationThreshold)
	}
	if cfg.Autonomy.EscalationTTL != 72*time.Hour {
		t.Errorf("escalation ttl = %v, want 72h", cfg.Autonomy.EscalationTTL)
	}
	if cfg.Listen.DedupeWindow != 10*time.Minute {
		t.Errorf("dedupe window = %v, want 10m", cfg.Listen.DedupeWindow)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default() does not validate: %v", err)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Autonomy.DefaultTier != "guardian" {
		t.Errorf("tier = %s, want defaults", cfg.Autonomy.DefaultTier)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	content := `
autonomy:
  default_tier: partner
  escalation_threshold: 3
  escalation_ttl: 24h
connectors:
  timeout: 10s
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Autonomy.DefaultTier != "partner" {
		t.Errorf("tier = %s, want partner", cfg.Autonomy.DefaultTier)
	}
	if cfg.Autonomy.EscalationThreshold != 3 {
		t.Errorf("threshold = %d, want 3", cfg.Autonomy.EscalationThreshold)
	}
	if cfg.Autonomy.EscalationTTL != 24*time.Hour {
		t.Errorf("ttl = %v, want 24h", cfg.Autonomy.EscalationTTL)
	}
	if cfg.Connectors.Timeout != 10*time.Second {
		t.Errorf("timeout = %v, want 10s", cfg.Connectors.Timeout)
	}
	// Unset keys keep their defaults.
	if cfg.Listen.DedupeWindow != 10*time.Minute {
		t.Errorf("dedupe window = %v, want default 10m", cfg.Listen.DedupeWindow)
	}
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	if err := os.WriteFile(path, []byte("autonomy: ["), 0600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() accepted invalid YAML")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown tier", func(c *Config) { c.Autonomy.DefaultTier = "overlord" }},
		{"zero threshold", func(c *Config) { c.Autonomy.EscalationThreshold = 0 }},
		{"negative ttl", func(c *Config) { c.Autonomy.EscalationTTL = -time.Hour }},
		{"zero timeout", func(c *Config) { c.Connectors.Timeout = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() accepted a bad config")
			}
		})
	}
}

func TestPipeNamesPerUser(t *testing.T) {
	alice := PipeNameForUser("alice")
	bob := PipeNameForUser("bob")

	if alice == bob {
		t.Error("pipe names for distinct users collide")
	}
	if !strings.HasPrefix(alice, `\\.\pipe\`) {
		t.Errorf("pipe name %q lacks the pipe namespace prefix", alice)
	}
	if !strings.Contains(alice, "alice") {
		t.Errorf("pipe name %q does not embed the user id", alice)
	}
}
