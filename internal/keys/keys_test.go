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

package keys

import (
	"bytes"
	"testing"

	"github.com/zalando/go-keyring"
)

func TestSigningKeyStableAcrossCalls(t *testing.T) {
	keyring.MockInit()
	dir := t.TempDir()

	first, err := SigningKey(dir)
	if err != nil {
		t.Fatalf("SigningKey() error = %v", err)
	}
	if len(first) != 32 {
		t.Fatalf("key length = %d, want 32", len(first))
	}

	second, err := SigningKey(dir)
	if err != nil {
		t.Fatalf("SigningKey() error = %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("SigningKey() regenerated on second call")
	}
}

func TestSigningAndEncryptionKeysDiffer(t *testing.T) {
	keyring.MockInit()
	dir := t.TempDir()

	signing, err := SigningKey(dir)
	if err != nil {
		t.Fatalf("SigningKey() error = %v", err)
	}
	encryption, err := EncryptionKey(dir)
	if err != nil {
		t.Fatalf("EncryptionKey() error = %v", err)
	}
	if bytes.Equal(signing, encryption) {
		t.Error("signing and encryption keys are identical")
	}
}
