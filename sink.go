package match

import "sync"

// EventSink receives a symbol's book events in the exact order the
// mutations occurred.
//
// IMPORTANT: implementations must either process events synchronously
// before returning or clone them first. The book recycles BookEvent objects
// to a sync.Pool after Publish returns, so asynchronous consumers must work
// with cloned data.
type EventSink interface {
	Publish(events ...*BookEvent)
}

// MemorySink stores events in memory, useful for testing.
type MemorySink struct {
	mu     sync.RWMutex
	events []*BookEvent
}

// NewMemorySink creates a new MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{
		events: make([]*BookEvent, 0),
	}
}

// Publish appends copies of the events to the in-memory slice.
func (m *MemorySink) Publish(events ...*BookEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range events {
		m.events = append(m.events, ev.Clone())
	}
}

// Count returns the number of events stored.
func (m *MemorySink) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

// Get returns the event at the specified index.
func (m *MemorySink) Get(index int) *BookEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.events[index]
}

// Events returns a copy of all stored events.
func (m *MemorySink) Events() []*BookEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*BookEvent, len(m.events))
	copy(events, m.events)
	return events
}

// DiscardSink drops all events, useful for benchmarking the hot path.
type DiscardSink struct{}

// NewDiscardSink creates a new DiscardSink.
func NewDiscardSink() *DiscardSink {
	return &DiscardSink{}
}

// Publish does nothing.
func (s *DiscardSink) Publish(events ...*BookEvent) {
}
