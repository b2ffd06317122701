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

package store

import (
	"strings"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, err := GenerateEncryptionKey()
	if err != nil {
		t.Fatalf("GenerateEncryptionKey() error = %v", err)
	}

	plaintext := "oauth-refresh-token-value"
	encrypted, err := key.Encrypt([]byte(plaintext))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if strings.Contains(encrypted, plaintext) {
		t.Error("ciphertext contains plaintext")
	}

	decrypted, err := key.Decrypt(encrypted)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if string(decrypted) != plaintext {
		t.Errorf("Decrypt() = %q, want %q", decrypted, plaintext)
	}
}

func TestEncryptProducesUniqueCiphertexts(t *testing.T) {
	key, err := GenerateEncryptionKey()
	if err != nil {
		t.Fatalf("GenerateEncryptionKey() error = %v", err)
	}

	a, err := key.Encrypt([]byte("same"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	b, err := key.Encrypt([]byte("same"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if a == b {
		t.Error("two encryptions of the same plaintext are identical: nonce reuse")
	}
}

func TestDecryptWrongKeyFails(t *testing.T) {
	key1, _ := GenerateEncryptionKey()
	key2, _ := GenerateEncryptionKey()

	encrypted, err := key1.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if _, err := key2.Decrypt(encrypted); err == nil {
		t.Error("Decrypt() with wrong key succeeded")
	}
}

func TestNewEncryptionKeyLength(t *testing.T) {
	if _, err := NewEncryptionKey(make([]byte, 16)); err == nil {
		t.Error("NewEncryptionKey() accepted a 16-byte key")
	}
	if _, err := NewEncryptionKey(make([]byte, 32)); err != nil {
		t.Errorf("NewEncryptionKey() rejected a 32-byte key: %v", err)
	}
}
