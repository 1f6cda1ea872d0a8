package engine

import "time"

// State is a step runner state.
type State string

const (
	StateIdle      State = "idle"
	StateLoading   State = "loading"
	StateCompiling State = "compiling"
	StateExecuting State = "executing"
	StateCompleted State = "completed"
	StateAborted   State = "aborted"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transition can happen from s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateAborted || s == StateFailed
}

// Outcome is the uniform result of one step invocation. Error, Failure,
// Message and HTMLMessage are only set for rendered failures.
type Outcome struct {
	Success     bool           `json:"success"`
	State       State          `json:"state"`
	Error       error          `json:"-"`
	Failure     *FailureRecord `json:"error,omitempty"`
	Message     string         `json:"message,omitempty"`
	HTMLMessage string         `json:"html_message,omitempty"`
	Duration    time.Duration  `json:"duration"`
}
