// Package transport owns the sockets: the TCP listener and peer connections, and the
// multicast channel. It knows nothing about peers or commands beyond raw frames.
package transport

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"lan-chat/protocol"
)

// Conn is a peer TCP connection with serialized frame writes and an observable
// closed state. Only one goroutine may read from it.
type Conn struct {
	net.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
	closed       atomic.Bool
	closeOnce    sync.Once
	closeErr     error
	outbound     bool
}

func NewConn(c net.Conn, writeTimeout time.Duration) *Conn {
	if tcp, ok := c.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	return &Conn{Conn: c, writeTimeout: writeTimeout}
}

// WriteFrame writes one length-prefixed frame. Concurrent callers never interleave.
func (c *Conn) WriteFrame(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed.Load() {
		return net.ErrClosed
	}
	if c.writeTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return protocol.WriteFrame(c.Conn, payload)
}

func (c *Conn) ReadFrame(maxSize int) ([]byte, error) {
	return protocol.ReadFrame(c.Conn, maxSize)
}

// Close is idempotent.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.Conn.Close()
	})
	return c.closeErr
}

func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// Outbound reports whether the connection was opened by Dialer.
func (c *Conn) Outbound() bool {
	return c.outbound
}

// RemoteAddrPort returns the unmapped remote address, or the zero value.
func (c *Conn) RemoteAddrPort() netip.AddrPort {
	if tcp, ok := c.Conn.RemoteAddr().(*net.TCPAddr); ok {
		ap := tcp.AddrPort()
		return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
	}
	return netip.AddrPort{}
}

// Listen binds the TCP listener on the preferred port and falls back once to an
// ephemeral port when the preferred one is already in use.
func Listen(ctx context.Context, log *slog.Logger, host string, port int) (net.Listener, int, error) {
	var lc net.ListenConfig
	address := net.JoinHostPort(host, fmt.Sprint(port))
	listener, err := lc.Listen(ctx, "tcp4", address)
	if err != nil && stderrors.Is(err, syscall.EADDRINUSE) && port != 0 {
		log.Warn("TCP port in use, falling back to an ephemeral port", "port", port)
		listener, err = lc.Listen(ctx, "tcp4", net.JoinHostPort(host, "0"))
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	return listener, listener.Addr().(*net.TCPAddr).Port, nil
}

// Dialer opens outbound peer connections with a bounded connect timeout.
type Dialer struct {
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
}

func (d Dialer) Dial(ctx context.Context, endpoint netip.AddrPort) (*Conn, error) {
	dialer := net.Dialer{Timeout: d.ConnectTimeout}
	c, err := dialer.DialContext(ctx, "tcp4", endpoint.String())
	if err != nil {
		return nil, err
	}
	conn := NewConn(c, d.WriteTimeout)
	conn.outbound = true
	return conn, nil
}
