package runtime

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"

	"lan-chat/domain/event"
)

type fakeConn struct {
	mu       sync.Mutex
	frames   [][]byte
	closed   atomic.Bool
	outbound bool
}

func (c *fakeConn) WriteFrame(payload []byte) error {
	if c.closed.Load() {
		return net.ErrClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, payload)
	return nil
}

func (c *fakeConn) IsClosed() bool { return c.closed.Load() }

func (c *fakeConn) Outbound() bool { return c.outbound }

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

// recordingSink keeps every consumed event.
type recordingSink struct {
	mu     sync.Mutex
	events []event.DomainEvent
}

func (s *recordingSink) Consume(_ context.Context, e event.DomainEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) Events() []event.DomainEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event.DomainEvent(nil), s.events...)
}

func ofKind[T event.DomainEvent](events []event.DomainEvent) []T {
	var res []T
	for _, e := range events {
		if t, ok := e.(T); ok {
			res = append(res, t)
		}
	}
	return res
}

type datagram struct {
	payload []byte
	from    netip.AddrPort
}

// bus is an in-memory multicast group: every datagram reaches every member,
// the sender included, as with multicast loopback.
type bus struct {
	mu      sync.Mutex
	members []*busMember
}

func (b *bus) join(from netip.AddrPort) *busMember {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := &busMember{bus: b, addr: from, inbox: make(chan datagram, 256), closed: make(chan struct{})}
	b.members = append(b.members, m)
	return m
}

type busMember struct {
	bus       *bus
	addr      netip.AddrPort
	inbox     chan datagram
	closed    chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	sent []string
}

func (m *busMember) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.sent = append(m.sent, string(payload))
	m.mu.Unlock()

	m.bus.mu.Lock()
	defer m.bus.mu.Unlock()
	for _, member := range m.bus.members {
		member.deliver(payload, m.addr)
	}
	return nil
}

// deliver injects a datagram as if it came from the network.
func (m *busMember) deliver(payload []byte, from netip.AddrPort) {
	select {
	case m.inbox <- datagram{payload: append([]byte(nil), payload...), from: from}:
	default:
	}
}

func (m *busMember) Receive(ctx context.Context, buf []byte) (int, netip.AddrPort, error) {
	select {
	case <-ctx.Done():
		return 0, netip.AddrPort{}, ctx.Err()
	case <-m.closed:
		return 0, netip.AddrPort{}, net.ErrClosed
	case d := <-m.inbox:
		return copy(buf, d.payload), d.from, nil
	}
}

func (m *busMember) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

func (m *busMember) Sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}
