package tui

import (
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/alexisbeaulieu97/kettle/internal/status"
)

// Update handles Bubbletea messages and updates model state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case StepStartMsg:
		m.ensureStep(msg.Step)
		entry := m.steps[msg.Step]
		entry.Status = status.StatusRunning
		m.steps[msg.Step] = entry
		return m, nil
	case StepDoneMsg:
		if msg.Step == "" {
			return m, nil
		}
		m.ensureStep(msg.Step)
		if !m.steps[msg.Step].Finished() {
			m.finished++
		}
		m.steps[msg.Step] = entryFromDone(msg)
		return m, nil
	case RunDoneMsg:
		m.done = true
		m.runErr = msg.Err
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m.interrupt()
		}
	}

	return m, nil
}

// interrupt requests a cooperative abort first and cancels on the second
// press.
func (m Model) interrupt() (tea.Model, tea.Cmd) {
	if !m.interrupted {
		m.interrupted = true
		abort := m.controls.Abort
		if abort == nil {
			return m, nil
		}
		return m, func() tea.Msg {
			abort()
			return nil
		}
	}
	cancel := m.controls.Cancel
	if cancel == nil {
		return m, tea.Quit
	}
	return m, func() tea.Msg {
		cancel()
		return nil
	}
}
