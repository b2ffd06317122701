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

import "fmt"

// Tier is the autonomy level granted to a domain.
type Tier string

const (
	// TierObserver proposes only, never executes.
	TierObserver Tier = "observer"
	// TierGuardian executes low-risk actions, requires approval for the rest.
	TierGuardian Tier = "guardian"
	// TierPartner executes most actions, requires approval for sensitive ones.
	TierPartner Tier = "partner"
	// TierAlterEgo executes everything.
	TierAlterEgo Tier = "alter-ego"
)

// tierRank orders tiers for comparison and escalation.
var tierRank = map[Tier]int{
	TierObserver: 0,
	TierGuardian: 1,
	TierPartner:  2,
	TierAlterEgo: 3,
}

// ParseTier validates a tier string.
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if _, ok := tierRank[t]; !ok {
		return "", fmt.Errorf("autonomy: unknown tier %q", s)
	}
	return t, nil
}

// Next returns the tier one step up, or the same tier at the top.
func (t Tier) Next() Tier {
	switch t {
	case TierObserver:
		return TierGuardian
	case TierGuardian:
		return TierPartner
	case TierPartner:
		return TierAlterEgo
	default:
		return t
	}
}

// AtLeast reports whether t grants at least as much autonomy as other.
func (t Tier) AtLeast(other Tier) bool {
	return tierRank[t] >= tierRank[other]
}

// Sensitivity is an action's declared risk category.
type Sensitivity string

const (
	SensitivityLow    Sensitivity = "low"
	SensitivityMedium Sensitivity = "medium"
	SensitivityHigh   Sensitivity = "high"
)

// Decision is the engine's ruling on an incoming action.
type Decision string

const (
	// DecisionAutoExecute permits execution without user involvement.
	DecisionAutoExecute Decision = "auto_execute"
	// DecisionRequireApproval parks the action pending explicit approval.
	DecisionRequireApproval Decision = "require_approval"
	// DecisionDeny refuses execution outright.
	DecisionDeny Decision = "deny"
)

// Decide applies the tier/sensitivity matrix. This is a heuristic policy,
// not a proof system: the matrix is configuration, thresholds included.
func Decide(tier Tier, sensitivity Sensitivity) Decision {
	switch tier {
	case TierObserver:
		// Propose only: the gateway never executes for an observer domain.
		return DecisionDeny
	case TierGuardian:
		if sensitivity == SensitivityLow {
			return DecisionAutoExecute
		}
		return DecisionRequireApproval
	case TierPartner:
		if sensitivity == SensitivityHigh {
			return DecisionRequireApproval
		}
		return DecisionAutoExecute
	case TierAlterEgo:
		return DecisionAutoExecute
	default:
		return DecisionDeny
	}
}
