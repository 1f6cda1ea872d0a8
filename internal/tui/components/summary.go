package components

import (
	"fmt"
	"strings"
)

// SummaryData aggregates counts for rendering summaries.
type SummaryData struct {
	Total     int
	Completed int
	Failed    int
	Aborted   int
	Finished  bool
	// Interrupted is set once the user asked the running step to stop.
	Interrupted bool
}

// Summary renders a textual run summary.
type Summary struct {
	data SummaryData
}

// NewSummary creates a new Summary component.
func NewSummary(data SummaryData) Summary {
	return Summary{data: data}
}

// View renders the summary.
func (s Summary) View() string {
	d := s.data
	var lines []string
	if d.Total > 0 {
		counts := fmt.Sprintf("Steps: %d/%d completed", d.Completed, d.Total)
		if d.Failed > 0 {
			counts += fmt.Sprintf(", %d failed", d.Failed)
		}
		if d.Aborted > 0 {
			counts += fmt.Sprintf(", %d aborted", d.Aborted)
		}
		lines = append(lines, counts)
	}

	switch {
	case d.Interrupted && !d.Finished:
		lines = append(lines, "Abort requested, waiting for the step to stop (ctrl+c again to force)")
	case !d.Finished || d.Total == 0:
	case d.Completed == d.Total:
		lines = append(lines, "Run finished successfully")
	case d.Aborted > 0:
		lines = append(lines, "Run aborted")
	case d.Failed > 0:
		lines = append(lines, "Run finished with failures")
	default:
		lines = append(lines, "Run finished with pending steps")
	}

	return strings.Join(lines, "\n")
}
