package enums

import "fmt"

// ResetState is a step of the per-product variant reset. Steps run strictly
// in declaration order.
type ResetState string

const (
	ResetStateFetch                ResetState = "fetch"
	ResetStateBackup               ResetState = "backup"
	ResetStateDesignateSurvivor    ResetState = "designate_survivor"
	ResetStateDeleteNonSurvivors   ResetState = "delete_non_survivors"
	ResetStateRecreateNonSurvivors ResetState = "recreate_non_survivors"
	ResetStateDeleteSurvivor       ResetState = "delete_survivor"
	ResetStateRecreateSurvivor     ResetState = "recreate_survivor"
	ResetStateRestoreInventory     ResetState = "restore_inventory"
	ResetStateCleanupLocations     ResetState = "cleanup_extra_locations"
	ResetStateDone                 ResetState = "done"
)

var validResetStates = []ResetState{
	ResetStateFetch,
	ResetStateBackup,
	ResetStateDesignateSurvivor,
	ResetStateDeleteNonSurvivors,
	ResetStateRecreateNonSurvivors,
	ResetStateDeleteSurvivor,
	ResetStateRecreateSurvivor,
	ResetStateRestoreInventory,
	ResetStateCleanupLocations,
	ResetStateDone,
}

// String implements fmt.Stringer.
func (s ResetState) String() string {
	return string(s)
}

// IsValid reports whether the value is a known ResetState.
func (s ResetState) IsValid() bool {
	return s.Ordinal() >= 0
}

// Ordinal is the zero-based step index, or -1 for unknown values.
func (s ResetState) Ordinal() int {
	for i, candidate := range validResetStates {
		if candidate == s {
			return i
		}
	}
	return -1
}

// Next returns the following step. DONE and unknown values have no successor.
func (s ResetState) Next() (ResetState, bool) {
	idx := s.Ordinal()
	if idx < 0 || idx+1 >= len(validResetStates) {
		return "", false
	}
	return validResetStates[idx+1], true
}

// ResetStates lists every step in execution order.
func ResetStates() []ResetState {
	out := make([]ResetState, len(validResetStates))
	copy(out, validResetStates)
	return out
}

// ParseResetState converts raw input into a ResetState.
func ParseResetState(value string) (ResetState, error) {
	for _, candidate := range validResetStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid reset state %q", value)
}
