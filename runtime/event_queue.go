package runtime

import (
	"sync"

	"lan-chat/domain/event"
)

// EventQueue decouples producers (network loops, facade calls) from the single
// goroutine delivering events to sinks. Publish never blocks; order is kept.
type EventQueue struct {
	mu     sync.Mutex
	events []event.DomainEvent
	ready  chan struct{}
}

func NewEventQueue() *EventQueue {
	return &EventQueue{ready: make(chan struct{}, 1)}
}

func (q *EventQueue) Publish(e event.DomainEvent) {
	q.mu.Lock()
	q.events = append(q.events, e)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Ready is signalled at least once after any Publish.
func (q *EventQueue) Ready() <-chan struct{} {
	return q.ready
}

// FlushEvents hands over every queued event in publication order.
func (q *EventQueue) FlushEvents() []event.DomainEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	events := q.events
	q.events = nil
	return events
}
