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

// Package keys provisions the gateway's two root secrets: the HMAC signing
// key shared with the UI shell, and the database encryption key. Both live
// in the OS keychain, with a file fallback for headless systems.
package keys

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zalando/go-keyring"
)

const keyringService = "semblance-gateway"

const (
	signingKeyAccount    = "signing-key"
	encryptionKeyAccount = "encryption-key"
)

// SigningKey returns the request-signing key, generating and persisting one
// on first run. The UI shell reads the same keychain entry.
func SigningKey(dataDir string) ([]byte, error) {
	return loadOrCreate(dataDir, signingKeyAccount, "signing.key")
}

// EncryptionKey returns the 32-byte database encryption key, generating and
// persisting one on first run.
func EncryptionKey(dataDir string) ([]byte, error) {
	return loadOrCreate(dataDir, encryptionKeyAccount, "encryption.key")
}

func loadOrCreate(dataDir, account, filename string) ([]byte, error) {
	if stored, err := keyring.Get(keyringService, account); err == nil {
		return decode(stored)
	} else if err != keyring.ErrNotFound {
		// Keychain unavailable: fall back to a key file.
		return loadOrCreateFile(dataDir, filename)
	}

	key, err := generate()
	if err != nil {
		return nil, err
	}
	if err := keyring.Set(keyringService, account, hex.EncodeToString(key)); err != nil {
		return loadOrCreateFile(dataDir, filename)
	}
	return key, nil
}

func loadOrCreateFile(dataDir, filename string) ([]byte, error) {
	path := filepath.Join(dataDir, filename)
	if raw, err := os.ReadFile(path); err == nil {
		return decode(string(raw))
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading key file: %w", err)
	}

	key, err := generate()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(key)), 0600); err != nil {
		return nil, fmt.Errorf("writing key file: %w", err)
	}
	return key, nil
}

func generate() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	return key, nil
}

func decode(stored string) ([]byte, error) {
	key, err := hex.DecodeString(stored)
	if err != nil {
		return nil, fmt.Errorf("stored key is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("stored key has %d bytes, want 32", len(key))
	}
	return key, nil
}
