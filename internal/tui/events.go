package tui

import (
	"context"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/alexisbeaulieu97/kettle/internal/ports"
	"github.com/alexisbeaulieu97/kettle/internal/status"
)

// Forward delivers the step events published during a run to send, usually
// a tea.Program's Send method.
func Forward(publisher ports.EventPublisher, send func(tea.Msg)) (ports.Subscription, error) {
	return publisher.Subscribe(ports.AllEvents, func(_ context.Context, event ports.DomainEvent) error {
		if msg, ok := MessageFor(event); ok {
			send(msg)
		}
		return nil
	})
}

// MessageFor translates a step event into a model message.
func MessageFor(event ports.DomainEvent) (tea.Msg, bool) {
	fields, _ := event.Payload().(map[string]interface{})
	step, _ := fields["step"].(string)
	if step == "" {
		return nil, false
	}
	step = filepath.ToSlash(filepath.Clean(step))

	var st status.StepStatus
	switch event.EventType() {
	case ports.EventStepStarted:
		return StepStartMsg{Step: step}, true
	case ports.EventStepCompleted:
		st = status.StatusSuccess
	case ports.EventStepAborted:
		st = status.StatusAborted
	case ports.EventStepFailed:
		st = status.StatusFailed
	default:
		return nil, false
	}

	msg := StepDoneMsg{Step: step, Status: st}
	if ms, ok := fields["duration_ms"].(int64); ok {
		msg.Duration = time.Duration(ms) * time.Millisecond
	}
	errorType, _ := fields["error_type"].(string)
	message, _ := fields["error"].(string)
	switch {
	case errorType != "" && message != "":
		msg.Detail = errorType + ": " + message
	case errorType != "":
		msg.Detail = errorType
	default:
		msg.Detail = message
	}
	return msg, true
}
