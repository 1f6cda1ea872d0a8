// Package tui renders a project run as a live step list.
package tui

import (
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/alexisbeaulieu97/kettle/internal/domain/project"
	"github.com/alexisbeaulieu97/kettle/internal/status"
	"github.com/alexisbeaulieu97/kettle/internal/tui/components"
)

// Controls connects key presses to the run. Abort asks the running step to
// stop at its next checkpoint; Cancel terminates it.
type Controls struct {
	Abort  func()
	Cancel func()
}

// Model contains the Bubbletea state for a project run.
type Model struct {
	title       string
	steps       map[string]components.StepEntry
	order       []string
	spinner     spinner.Model
	controls    Controls
	total       int
	finished    int
	done        bool
	interrupted bool
	runErr      error
}

// NewModel constructs a model listing steps in run order.
func NewModel(p *project.Project, steps []*project.Step, controls Controls) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = runningStyle

	m := Model{
		title:    "Run",
		steps:    make(map[string]components.StepEntry),
		order:    make([]string, 0, len(steps)),
		spinner:  s,
		controls: controls,
	}
	if p != nil && p.Name != "" {
		m.title = p.Name
	} else if p != nil {
		m.title = p.ID
	}
	for _, step := range steps {
		m.ensureStep(status.Key(step))
	}
	return m
}

// Init starts the spinner.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// TotalSteps returns the total number of steps tracked by the model.
func (m Model) TotalSteps() int {
	return m.total
}

// FinishedSteps returns the number of steps in a terminal state.
func (m Model) FinishedSteps() int {
	return m.finished
}

// IsDone reports whether the run has returned.
func (m Model) IsDone() bool {
	return m.done
}

// Entry returns the current row for step.
func (m Model) Entry(step string) components.StepEntry {
	entry := m.steps[step]
	entry.Name = step
	return entry
}

func (m *Model) ensureStep(name string) {
	if name == "" {
		return
	}
	if _, exists := m.steps[name]; !exists {
		m.steps[name] = components.StepEntry{Name: name, Status: status.StatusPending}
		m.order = append(m.order, name)
		m.total++
	}
}

func (m Model) counts() (completed, failed, aborted int) {
	for _, entry := range m.steps {
		switch entry.Status {
		case status.StatusSuccess:
			completed++
		case status.StatusFailed:
			failed++
		case status.StatusAborted:
			aborted++
		}
	}
	return completed, failed, aborted
}
