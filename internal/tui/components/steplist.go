package components

import (
	"time"

	"github.com/alexisbeaulieu97/kettle/internal/status"
)

// StepEntry is one step row.
type StepEntry struct {
	Name     string
	Status   status.StepStatus
	Duration time.Duration
	// Detail is a one-line summary of a failure, e.g. "ValueError: boom".
	Detail string
}

// Finished reports whether the step reached a terminal status.
func (e StepEntry) Finished() bool {
	switch e.Status {
	case status.StatusSuccess, status.StatusAborted, status.StatusFailed:
		return true
	default:
		return false
	}
}

// StepList keeps step rows in run order.
type StepList struct {
	entries []StepEntry
}

// NewStepList constructs a step list component.
func NewStepList(order []string, steps map[string]StepEntry) StepList {
	entries := make([]StepEntry, 0, len(order))
	for _, name := range order {
		entry := steps[name]
		entry.Name = name
		if entry.Status == "" {
			entry.Status = status.StatusPending
		}
		entries = append(entries, entry)
	}
	return StepList{entries: entries}
}

// Entries returns the ordered step entries.
func (s StepList) Entries() []StepEntry {
	clone := make([]StepEntry, len(s.entries))
	copy(clone, s.entries)
	return clone
}
