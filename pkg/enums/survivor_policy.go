package enums

import (
	"fmt"
	"strings"
)

// SurvivorPolicyName selects which backed up variant stays alive while the
// others are recreated.
type SurvivorPolicyName string

const (
	SurvivorPolicyFirst SurvivorPolicyName = "first"
	SurvivorPolicyLast  SurvivorPolicyName = "last"
)

var validSurvivorPolicies = []SurvivorPolicyName{
	SurvivorPolicyFirst,
	SurvivorPolicyLast,
}

// String implements fmt.Stringer.
func (p SurvivorPolicyName) String() string {
	return string(p)
}

// IsValid reports whether the value is a known SurvivorPolicyName.
func (p SurvivorPolicyName) IsValid() bool {
	for _, candidate := range validSurvivorPolicies {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParseSurvivorPolicyName converts raw input into a SurvivorPolicyName.
// Matching ignores case and surrounding spaces.
func ParseSurvivorPolicyName(value string) (SurvivorPolicyName, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validSurvivorPolicies {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid survivor policy %q", value)
}
