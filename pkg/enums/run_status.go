package enums

import "fmt"

// RunStatus is the terminal or in-flight status of one product reset run.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusDone    RunStatus = "done"
	RunStatusSkipped RunStatus = "skipped"
	RunStatusFailed  RunStatus = "failed"
)

var validRunStatuses = []RunStatus{
	RunStatusRunning,
	RunStatusDone,
	RunStatusSkipped,
	RunStatusFailed,
}

// String implements fmt.Stringer.
func (s RunStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known RunStatus.
func (s RunStatus) IsValid() bool {
	for _, candidate := range validRunStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the run has finished one way or another.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusDone || s == RunStatusSkipped || s == RunStatusFailed
}

// ParseRunStatus converts raw input into a RunStatus.
func ParseRunStatus(value string) (RunStatus, error) {
	for _, candidate := range validRunStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid run status %q", value)
}
