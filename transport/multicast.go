package transport

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"lan-chat/errors"

	"golang.org/x/net/ipv4"
)

const defaultReadPoll = time.Second

// MulticastChannel is the UDP socket joined to the multicast group.
// Its lifecycle is independent of the service: a send or receive that fails
// invalidates exactly the socket that failed, and the next operation re-joins the
// group. All (re)creation goes through ensure under mu, so two loops never
// recreate the socket concurrently.
type MulticastChannel struct {
	log      *slog.Logger
	group    *net.UDPAddr
	iface    *net.Interface
	readPoll time.Duration
	listen   func() (*net.UDPConn, error)

	mu     sync.Mutex
	conn   *net.UDPConn
	closed bool
}

func NewMulticastChannel(log *slog.Logger, group netip.AddrPort, iface *net.Interface) *MulticastChannel {
	m := &MulticastChannel{
		log:      log,
		group:    net.UDPAddrFromAddrPort(group),
		iface:    iface,
		readPoll: defaultReadPoll,
	}
	m.listen = m.join
	return m
}

// Open joins the group eagerly so bind failures surface at start-up.
func (m *MulticastChannel) Open() error {
	_, err := m.ensure()
	return err
}

func (m *MulticastChannel) ensure() (*net.UDPConn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, net.ErrClosed
	}
	if m.conn != nil {
		return m.conn, nil
	}
	conn, err := m.listen()
	if err != nil {
		return nil, fmt.Errorf("%w: join %s: %v", errors.ErrMulticastUnavailable, m.group, err)
	}
	m.log.Debug("Joined multicast group", "group", m.group.String())
	m.conn = conn
	return conn, nil
}

func (m *MulticastChannel) join() (*net.UDPConn, error) {
	conn, err := net.ListenMulticastUDP("udp4", m.iface, m.group)
	if err != nil {
		return nil, err
	}
	// ListenMulticastUDP disables loopback; instances sharing a host must hear each other.
	if err = ipv4.NewPacketConn(conn).SetMulticastLoopback(true); err != nil {
		m.log.Debug("Multicast loopback not enabled", "error", err)
	}
	return conn, nil
}

func (m *MulticastChannel) invalidate(conn *net.UDPConn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != conn {
		return
	}
	_ = conn.Close()
	m.conn = nil
	if !m.closed {
		m.log.Warn("Multicast socket invalidated, will re-join", "group", m.group.String())
	}
}

// Send writes one datagram to the group.
func (m *MulticastChannel) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	conn, err := m.ensure()
	if err != nil {
		return err
	}
	if _, err = conn.WriteToUDP(payload, m.group); err != nil {
		m.invalidate(conn)
		return fmt.Errorf("multicast send to %s: %w", m.group, err)
	}
	return nil
}

// Receive blocks until a datagram arrives or ctx is done. The read deadline is
// polled so cancellation is observed without closing the socket.
func (m *MulticastChannel) Receive(ctx context.Context, buf []byte) (int, netip.AddrPort, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, netip.AddrPort{}, err
		}
		conn, err := m.ensure()
		if err != nil {
			return 0, netip.AddrPort{}, err
		}
		_ = conn.SetReadDeadline(time.Now().Add(m.readPoll))
		n, from, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			var netErr net.Error
			if stderrors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			m.invalidate(conn)
			return 0, netip.AddrPort{}, fmt.Errorf("multicast receive: %w", err)
		}
		return n, netip.AddrPortFrom(from.Addr().Unmap(), from.Port()), nil
	}
}

// Close leaves the group for good; later operations fail with net.ErrClosed.
func (m *MulticastChannel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	if m.conn == nil {
		return nil
	}
	err := m.conn.Close()
	m.conn = nil
	return err
}
