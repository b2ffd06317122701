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
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
)

// ConfigDir returns the XDG config directory for the gateway.
// On Unix and macOS: ~/.config/semblance
// Respects the XDG_CONFIG_HOME environment variable.
func ConfigDir() (string, error) {
	var base string

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		base = xdg
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}

	dir := filepath.Join(base, "semblance")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}

// DataDir returns the XDG data directory for the gateway's persisted state
// (sqlite database). Respects XDG_DATA_HOME.
func DataDir() (string, error) {
	var base string

	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		base = xdg
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".local", "share")
	}

	dir := filepath.Join(base, "semblance")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}

// RuntimeDir returns the directory holding the gateway's IPC socket.
// Prefers XDG_RUNTIME_DIR (tmpfs, per-user on modern Linux) and falls back
// to the config directory.
func RuntimeDir() (string, error) {
	if xdg := os.Getenv("XDG_RUNTIME_DIR"); xdg != "" {
		dir := filepath.Join(xdg, "semblance")
		if err := os.MkdirAll(dir, 0700); err != nil {
			return "", err
		}
		return dir, nil
	}
	return ConfigDir()
}

// SocketPath returns the Unix socket path for the gateway's IPC channel.
func SocketPath() (string, error) {
	dir, err := RuntimeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "gateway.sock"), nil
}

// PipeName returns the Windows named-pipe name for the gateway's IPC
// channel. The name embeds the current OS user identifier so two local
// accounts cannot collide or snoop on each other's channel.
func PipeName() string {
	return PipeNameForUser(currentUserID())
}

// PipeNameForUser builds the pipe name for an explicit user identifier.
// Split out so the per-user isolation property is testable without
// impersonation.
func PipeNameForUser(userID string) string {
	return fmt.Sprintf(`\\.\pipe\semblance-gateway-%s`, userID)
}

// currentUserID resolves a stable identifier for the current OS user.
func currentUserID() string {
	if u, err := user.Current(); err == nil {
		if u.Uid != "" {
			return u.Uid
		}
		if u.Username != "" {
			return u.Username
		}
	}
	// Last resort: environment, then pid-independent constant
	if runtime.GOOS == "windows" {
		if name := os.Getenv("USERNAME"); name != "" {
			return name
		}
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}

// ConfigPath returns the full path to the gateway config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "gateway.yaml"), nil
}

// DatabasePath returns the full path to the gateway state database.
func DatabasePath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "gateway.db"), nil
}
