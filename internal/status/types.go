package status

import (
	"time"

	"github.com/charmbracelet/lipgloss"
)

// StepStatus is the last known result of a step.
type StepStatus string

const (
	StatusPending StepStatus = "pending"
	StatusRunning StepStatus = "running"
	StatusSuccess StepStatus = "success"
	StatusAborted StepStatus = "aborted"
	StatusFailed  StepStatus = "failed"
)

// Icon returns the Unicode icon for the status
func (s StepStatus) Icon() string {
	switch s {
	case StatusSuccess:
		return "🟢"
	case StatusAborted:
		return "🟡"
	case StatusFailed:
		return "🔴"
	case StatusRunning:
		return "🔵"
	default:
		return "⚪"
	}
}

// IconFallback returns ASCII fallback when Unicode is not supported
func (s StepStatus) IconFallback() string {
	switch s {
	case StatusSuccess:
		return "[OK]"
	case StatusAborted:
		return "[--]"
	case StatusFailed:
		return "[XX]"
	case StatusRunning:
		return "[..]"
	default:
		return "[  ]"
	}
}

// Color returns the Lipgloss color for the status
func (s StepStatus) Color() lipgloss.Color {
	switch s {
	case StatusSuccess:
		return lipgloss.Color("42") // green
	case StatusAborted:
		return lipgloss.Color("226") // yellow
	case StatusFailed:
		return lipgloss.Color("196") // red
	case StatusRunning:
		return lipgloss.Color("39") // blue
	default:
		return lipgloss.Color("250") // light gray
	}
}

// String returns the string representation of the status
func (s StepStatus) String() string {
	return string(s)
}

// StepState is the persisted record of one step, keyed by its filename.
type StepState struct {
	Status    StepStatus    `json:"status"`
	LastRun   time.Time     `json:"last_run"`
	Duration  time.Duration `json:"duration"`
	ErrorType string        `json:"error_type,omitempty"`
	Message   string        `json:"message,omitempty"`
	// Dirty marks a step whose source changed after its last run. It stays
	// set until the step runs again.
	Dirty bool `json:"dirty"`
}

// StateFile is the JSON file format for a project's run state
type StateFile struct {
	Version string               `json:"version"`
	Project string               `json:"project"`
	Steps   map[string]StepState `json:"steps"`
}
