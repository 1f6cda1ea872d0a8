package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/alexisbeaulieu97/kettle/internal/status"
	"github.com/alexisbeaulieu97/kettle/internal/tui/components"
)

// View renders the current state of the model.
func (m Model) View() string {
	var sections []string

	sections = append(sections, titleStyle.Render(fmt.Sprintf("kettle • %s", m.title)))

	progress := components.NewProgress(m.total).View(m.finished)
	sections = append(sections, sectionStyle.Render("Progress"), progress)

	entries := components.NewStepList(m.order, m.steps).Entries()
	if len(entries) > 0 {
		var lines []string
		for _, entry := range entries {
			icon := StatusIcon(entry.Status)
			if entry.Status == status.StatusRunning {
				icon = m.spinner.View()
			}
			lines = append(lines, " "+icon+" "+describe(entry))
		}
		sections = append(sections, sectionStyle.Render("Steps"), strings.Join(lines, "\n"))
	}

	completed, failed, aborted := m.counts()
	summary := components.NewSummary(components.SummaryData{
		Total:       m.total,
		Completed:   completed,
		Failed:      failed,
		Aborted:     aborted,
		Finished:    m.done,
		Interrupted: m.interrupted,
	}).View()
	if m.runErr != nil {
		summary = strings.TrimSpace(summary + "\n" + failureStyle.Render(m.runErr.Error()))
	}
	if strings.TrimSpace(summary) != "" {
		sections = append(sections, sectionStyle.Render("Summary"), summaryStyle.Render(summary))
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...) + "\n"
}

// FormatEntry renders a step row the way the plain, non-interactive output
// prints it.
func FormatEntry(entry components.StepEntry) string {
	return StatusIcon(entry.Status) + " " + describe(entry)
}

func describe(entry components.StepEntry) string {
	line := entry.Name
	if strings.TrimSpace(entry.Detail) != "" {
		line = fmt.Sprintf("%s: %s", line, entry.Detail)
	}
	if entry.Duration > 0 {
		line = fmt.Sprintf("%s (%s)", line, entry.Duration.Truncate(10*time.Millisecond))
	}
	return line
}

// StatusIcon returns the glyph representing a step status.
func StatusIcon(s status.StepStatus) string {
	switch s {
	case status.StatusSuccess:
		return successStyle.Render("✓")
	case status.StatusRunning:
		return runningStyle.Render("⏳")
	case status.StatusFailed:
		return failureStyle.Render("✗")
	case status.StatusAborted:
		return abortedStyle.Render("⊘")
	default:
		return pendingStyle.Render("…")
	}
}

func entryFromDone(msg StepDoneMsg) components.StepEntry {
	return components.StepEntry{
		Name:     msg.Step,
		Status:   msg.Status,
		Duration: msg.Duration,
		Detail:   msg.Detail,
	}
}
