package registry

import "sync"

// Event represents a registry lifecycle notification: the outcome of a
// load, reload or retire operation. Generalized from a single
// current-model field to a model name since this registry tracks many
// models at once.
type Event struct {
	Name      string
	ModelName string
	Fields    map[string]any
}

// EventPublisher receives registry events. Implementations must be
// lightweight and must not panic; Publish is called synchronously from
// inside the lifecycle operation that produced the event.
type EventPublisher interface {
	Publish(Event)
}

type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// MemoryPublisher accumulates events in-memory; used by tests. It is not
// installed by default: a ModelManager built without WithEventPublisher
// discards its events.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (p *MemoryPublisher) Publish(e Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}
