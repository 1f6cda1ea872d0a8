package ports

import "context"

const (
	// EventProjectStarted is emitted when a project run begins.
	EventProjectStarted = "project.started"
	// EventProjectCompleted is emitted after every step of a run succeeded.
	EventProjectCompleted = "project.completed"
	// EventProjectFailed is emitted when a run stops on a failed or aborted step.
	EventProjectFailed = "project.failed"
	// EventStepStarted is emitted before a step's source is loaded.
	EventStepStarted = "step.started"
	// EventStepCompleted is emitted when a step finishes or stops itself.
	EventStepCompleted = "step.completed"
	// EventStepAborted is emitted when a step halts on a cooperative abort.
	EventStepAborted = "step.aborted"
	// EventStepFailed is emitted when a step fails to load, compile or run.
	EventStepFailed = "step.failed"
)

// DomainEvent represents a significant occurrence within the engine or
// application layer. Events carry structured payloads that downstream
// subscribers can use for logging, UI updates, or integrations.
type DomainEvent interface {
	EventType() string
	Payload() interface{}
}

// EventPublisher distributes events to interested subscribers. Dispatch is
// synchronous: Publish blocks until all handlers run, so observability
// signals appear before the process exits. Implementations must be
// thread-safe.
type EventPublisher interface {
	Publish(ctx context.Context, event DomainEvent) error
	Subscribe(eventType string, handler EventHandler) (Subscription, error)
}

// EventHandler processes an event of a specific type. Failures should be
// surfaced via returned errors so publishers can log diagnostics and continue
// delivering to remaining subscribers.
type EventHandler func(context.Context, DomainEvent) error

// Subscription represents a registered handler. Callers must invoke
// Unsubscribe to stop receiving events and release resources.
type Subscription interface {
	Unsubscribe()
}

// AllEvents subscribes a handler to every event type.
const AllEvents = "*"

// Event is the DomainEvent published by the step runner and the project
// runner.
type Event struct {
	Type   string
	Fields map[string]interface{}
}

// EventType implements DomainEvent.
func (e Event) EventType() string { return e.Type }

// Payload implements DomainEvent.
func (e Event) Payload() interface{} { return e.Fields }
