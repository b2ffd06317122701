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

import "testing"

func TestParseTier(t *testing.T) {
	for _, valid := range []string{"observer", "guardian", "partner", "alter-ego"} {
		if _, err := ParseTier(valid); err != nil {
			t.Errorf("ParseTier(%q) error = %v", valid, err)
		}
	}
	for _, invalid := range []string{"", "root", "ALTER-EGO", "guardian "} {
		if _, err := ParseTier(invalid); err == nil {
			t.Errorf("ParseTier(%q) succeeded", invalid)
		}
	}
}

func TestTierNext(t *testing.T) {
	tests := []struct {
		tier Tier
		want Tier
	}{
		{TierObserver, TierGuardian},
		{TierGuardian, TierPartner},
		{TierPartner, TierAlterEgo},
		{TierAlterEgo, TierAlterEgo},
	}
	for _, tt := range tests {
		if got := tt.tier.Next(); got != tt.want {
			t.Errorf("%s.Next() = %s, want %s", tt.tier, got, tt.want)
		}
	}
}

func TestTierAtLeast(t *testing.T) {
	if !TierPartner.AtLeast(TierGuardian) {
		t.Error("partner should be at least guardian")
	}
	if TierObserver.AtLeast(TierGuardian) {
		t.Error("observer should not be at least guardian")
	}
	if !TierGuardian.AtLeast(TierGuardian) {
		t.Error("a tier should be at least itself")
	}
}
