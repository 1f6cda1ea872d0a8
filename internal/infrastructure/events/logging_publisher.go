package events

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/alexisbeaulieu97/kettle/internal/ports"
)

// LoggingPublisher emits domain events using the structured logger and fans
// them out to subscribers synchronously.
type LoggingPublisher struct {
	logger ports.Logger
	subs   map[string][]subscriptionEntry
	nextID int
	mu     sync.RWMutex
}

// NewLoggingPublisher creates an event publisher that writes each event as a structured log entry.
func NewLoggingPublisher(logger ports.Logger) *LoggingPublisher {
	return &LoggingPublisher{
		logger: logger,
		subs:   make(map[string][]subscriptionEntry),
	}
}

// Publish logs the event and delivers it to handlers registered for its type
// and to wildcard handlers, in subscription order.
func (p *LoggingPublisher) Publish(ctx context.Context, event ports.DomainEvent) error {
	if p == nil || event == nil {
		return nil
	}

	p.mu.RLock()
	handlers := append([]subscriptionEntry(nil), p.subs[event.EventType()]...)
	handlers = append(handlers, p.subs[ports.AllEvents]...)
	p.mu.RUnlock()
	sort.SliceStable(handlers, func(i, j int) bool { return handlers[i].id < handlers[j].id })

	if p.logger != nil {
		p.log(ctx, event)
	}

	for _, entry := range handlers {
		if entry.handler == nil {
			continue
		}
		if err := entry.handler(ctx, event); err != nil && p.logger != nil {
			p.logger.Warn(ctx, "event handler failed", "event_type", event.EventType(), "error", err)
		}
	}

	return nil
}

func (p *LoggingPublisher) log(ctx context.Context, event ports.DomainEvent) {
	fields := []interface{}{"event_type", event.EventType()}
	switch payload := event.Payload().(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(payload))
		for key := range payload {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fields = append(fields, key, payload[key])
		}
	case nil:
	default:
		fields = append(fields, "payload", payload)
	}

	// Step starts are chatty; everything else is a state change worth keeping.
	if strings.HasSuffix(event.EventType(), ".started") && strings.HasPrefix(event.EventType(), "step.") {
		p.logger.Debug(ctx, "domain event", fields...)
		return
	}
	p.logger.Info(ctx, "domain event", fields...)
}

// Subscribe registers a handler for the provided event type, or for every
// event when eventType is ports.AllEvents.
func (p *LoggingPublisher) Subscribe(eventType string, handler ports.EventHandler) (ports.Subscription, error) {
	if p == nil || handler == nil {
		return noopSubscription{}, nil
	}
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.subs[eventType] = append(p.subs[eventType], subscriptionEntry{id: id, handler: handler})
	p.mu.Unlock()

	return subscription{
		cancel: func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			handlers := p.subs[eventType]
			for i, entry := range handlers {
				if entry.id == id {
					p.subs[eventType] = append(handlers[:i], handlers[i+1:]...)
					break
				}
			}
		},
	}, nil
}

type noopSubscription struct{}

func (noopSubscription) Unsubscribe() {}

type subscription struct {
	cancel func()
}

func (s subscription) Unsubscribe() {
	if s.cancel != nil {
		s.cancel()
	}
}

type subscriptionEntry struct {
	id      int
	handler ports.EventHandler
}
