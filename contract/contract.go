//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"net/netip"
	"reflect"
	"time"

	"lan-chat/domain/event"
	"lan-chat/transport"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink is a collaborator consuming core events (GUI, console, history).
// Consume is always called from the same goroutine.
type EventSink interface {
	Consume(ctx context.Context, e event.DomainEvent) error
}

type EventPublisher interface {
	Publish(e event.DomainEvent)
}

// EventSource hands queued events to a single consumer.
type EventSource interface {
	Ready() <-chan struct{}
	FlushEvents() []event.DomainEvent
}

// Multicast is the datagram side of the network: heartbeats, broadcasts, renames.
type Multicast interface {
	Send(ctx context.Context, payload []byte) error
	Receive(ctx context.Context, buf []byte) (int, netip.AddrPort, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, endpoint netip.AddrPort) (*transport.Conn, error)
}

// PeerTable is what the liveness reaper needs from the registry.
type PeerTable interface {
	StaleNames(timeout time.Duration) []string
	// RemoveIfStale evicts name unless it heartbeated since being listed.
	RemoveIfStale(name string, timeout time.Duration) bool
}

type Pruner interface {
	Prune() int
}
