package notebook

import (
	"time"

	"github.com/alexisbeaulieu97/kettle/internal/domain/project"
	"github.com/alexisbeaulieu97/kettle/internal/engine"
	"github.com/alexisbeaulieu97/kettle/internal/status"
)

// StepResult is the result of one step within a project run. Exactly one of
// Outcome, Err or Skipped describes it.
type StepResult struct {
	Step    *project.Step
	Outcome *engine.Outcome
	Err     error
	Skipped bool
}

// Succeeded reports whether the step ran and finished successfully.
func (r StepResult) Succeeded() bool {
	return r.Err == nil && !r.Skipped && r.Outcome != nil && r.Outcome.Success
}

// Status maps the result onto a persisted step status.
func (r StepResult) Status() status.StepStatus {
	switch {
	case r.Skipped:
		return status.StatusPending
	case r.Err != nil || r.Outcome == nil:
		return status.StatusFailed
	default:
		return StatusOf(r.Outcome.State)
	}
}

// StatusOf maps a terminal runner state onto a step status.
func StatusOf(state engine.State) status.StepStatus {
	switch state {
	case engine.StateCompleted:
		return status.StatusSuccess
	case engine.StateAborted:
		return status.StatusAborted
	case engine.StateFailed:
		return status.StatusFailed
	case engine.StateIdle:
		return status.StatusPending
	default:
		return status.StatusRunning
	}
}

// Counts tallies step results by kind.
type Counts struct {
	Completed int
	Failed    int
	Aborted   int
	Skipped   int
}

// Result summarizes a project run.
type Result struct {
	Project  *project.Project
	Steps    []StepResult
	Success  bool
	Duration time.Duration
}

// Counts tallies the run's step results.
func (r *Result) Counts() Counts {
	var c Counts
	for _, sr := range r.Steps {
		switch sr.Status() {
		case status.StatusSuccess:
			c.Completed++
		case status.StatusAborted:
			c.Aborted++
		case status.StatusPending:
			c.Skipped++
		default:
			c.Failed++
		}
	}
	return c
}

// Failures returns the steps that failed to load, compile or run.
func (r *Result) Failures() []StepResult {
	var out []StepResult
	for _, sr := range r.Steps {
		if sr.Status() == status.StatusFailed {
			out = append(out, sr)
		}
	}
	return out
}

func (r *Result) add(req Request, sr StepResult) {
	r.Steps = append(r.Steps, sr)
	if req.OnStepResult != nil {
		req.OnStepResult(sr)
	}
}
