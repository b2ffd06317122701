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

// Package config loads and watches the gateway configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root gateway configuration.
type Config struct {
	// Listen configures the IPC transport.
	Listen ListenConfig `yaml:"listen"`

	// Autonomy configures the autonomy engine.
	Autonomy AutonomyConfig `yaml:"autonomy"`

	// Connectors configures the adapter framework.
	Connectors ConnectorConfig `yaml:"connectors"`

	// Database overrides the state database path (default: XDG data dir).
	Database string `yaml:"database,omitempty"`
}

// ListenConfig configures the IPC listener.
type ListenConfig struct {
	// SocketPath overrides the Unix socket path (default: XDG runtime dir).
	SocketPath string `yaml:"socket_path,omitempty"`

	// DedupeWindow is how long a completed request id is remembered so
	// client retries return the prior result instead of re-executing.
	DedupeWindow time.Duration `yaml:"dedupe_window"`

	// BadSignatureRate throttles requests from a connection after failed
	// signature verifications (events per second).
	BadSignatureRate float64 `yaml:"bad_signature_rate"`

	// BadSignatureBurst is the throttle burst size.
	BadSignatureBurst int `yaml:"bad_signature_burst"`
}

// AutonomyConfig configures tiers and escalation.
type AutonomyConfig struct {
	// DefaultTier is applied to domains with no stored tier.
	DefaultTier string `yaml:"default_tier"`

	// EscalationThreshold is the consecutive-approval count that triggers
	// an escalation prompt for a (domain, action type) pair.
	EscalationThreshold int `yaml:"escalation_threshold"`

	// EscalationTTL is how long an escalation prompt stays actionable
	// before it expires.
	EscalationTTL time.Duration `yaml:"escalation_ttl"`
}

// ConnectorConfig configures adapter execution.
type ConnectorConfig struct {
	// Timeout bounds a single adapter call. A call exceeding it is treated
	// as a failure, not a hang.
	Timeout time.Duration `yaml:"timeout"`

	// RetryAttempts bounds transient-failure retries per outbound request.
	RetryAttempts int `yaml:"retry_attempts"`

	// OAuth holds per-connector client credentials for the refresh-token
	// grant. Connectors without an entry never refresh; their tokens are
	// used as stored until they expire.
	OAuth map[string]OAuthConfig `yaml:"oauth,omitempty"`
}

// OAuthConfig names one provider's token endpoint and client credentials.
type OAuthConfig struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	TokenURL     string   `yaml:"token_url"`
	Scopes       []string `yaml:"scopes,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{
			DedupeWindow:      10 * time.Minute,
			BadSignatureRate:  1,
			BadSignatureBurst: 5,
		},
		Autonomy: AutonomyConfig{
			DefaultTier:         "guardian",
			EscalationThreshold: 5,
			EscalationTTL:       72 * time.Hour,
		},
		Connectors: ConnectorConfig{
			Timeout:       30 * time.Second,
			RetryAttempts: 3,
		},
	}
}

// Load reads the config file at path, overlaying it on defaults.
// A missing file is not an error: defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the gateway cannot run with.
func (c *Config) Validate() error {
	if c.Autonomy.EscalationThreshold < 1 {
		return fmt.Errorf("autonomy.escalation_threshold must be at least 1, got %d", c.Autonomy.EscalationThreshold)
	}
	if c.Autonomy.EscalationTTL <= 0 {
		return fmt.Errorf("autonomy.escalation_ttl must be positive")
	}
	switch c.Autonomy.DefaultTier {
	case "observer", "guardian", "partner", "alter-ego":
	default:
		return fmt.Errorf("autonomy.default_tier %q is not a known tier", c.Autonomy.DefaultTier)
	}
	if c.Connectors.Timeout <= 0 {
		return fmt.Errorf("connectors.timeout must be positive")
	}
	if c.Connectors.RetryAttempts < 0 {
		return fmt.Errorf("connectors.retry_attempts cannot be negative")
	}
	for provider, oc := range c.Connectors.OAuth {
		if oc.TokenURL == "" {
			return fmt.Errorf("connectors.oauth.%s.token_url is required", provider)
		}
	}
	if c.Listen.DedupeWindow <= 0 {
		return fmt.Errorf("listen.dedupe_window must be positive")
	}
	return nil
}
