package tui

import (
	"time"

	"github.com/alexisbeaulieu97/kettle/internal/status"
)

// StepStartMsg indicates a step has started executing.
type StepStartMsg struct {
	Step string
}

// StepDoneMsg reports that a step reached a terminal state.
type StepDoneMsg struct {
	Step     string
	Status   status.StepStatus
	Duration time.Duration
	Detail   string
}

// RunDoneMsg ends the program once the project run returns.
type RunDoneMsg struct {
	Success bool
	Err     error
}
