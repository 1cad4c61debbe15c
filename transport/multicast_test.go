package transport

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"sync/atomic"
	"testing"
	"time"

	"lan-chat/errors"

	"github.com/stretchr/testify/require"
)

// loopbackChannel stands a MulticastChannel on plain loopback sockets. Datagrams
// go to sink and every (re)join is counted.
func loopbackChannel(t *testing.T) (*MulticastChannel, *net.UDPConn, *atomic.Int32) {
	t.Helper()
	sink, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })

	joins := &atomic.Int32{}
	m := NewMulticastChannel(slog.Default(), sink.LocalAddr().(*net.UDPAddr).AddrPort(), nil)
	m.readPoll = 20 * time.Millisecond
	m.listen = func() (*net.UDPConn, error) {
		joins.Add(1)
		return net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	}
	t.Cleanup(func() { _ = m.Close() })
	return m, sink, joins
}

func readFrom(t *testing.T, conn *net.UDPConn) string {
	t.Helper()
	buf := make([]byte, 512)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := conn.ReadFromUDPAddrPort(buf)
	require.NoError(t, err)
	return string(buf[:n])
}

func TestMulticastChannel_Rejoins_Once_After_Failed_Send(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	m, sink, joins := loopbackChannel(t)

	// Given a joined channel
	req.NoError(m.Open())
	req.NoError(m.Send(ctx, []byte("HEARTBEAT:Alice:5000")))
	req.Equal("HEARTBEAT:Alice:5000", readFrom(t, sink))

	// When its socket dies underneath and a send fails
	_ = m.conn.Close()
	req.Error(m.Send(ctx, []byte("lost")))

	// Then the socket is dropped and the next send re-joins exactly once
	req.Nil(m.conn)
	req.NoError(m.Send(ctx, []byte("HEARTBEAT:Alice:5000")))
	req.NoError(m.Send(ctx, []byte("BROADCAST:Alice:hi")))
	req.Equal("HEARTBEAT:Alice:5000", readFrom(t, sink))
	req.Equal("BROADCAST:Alice:hi", readFrom(t, sink))
	req.Equal(int32(2), joins.Load())
}

func TestMulticastChannel_Rejoins_After_Failed_Receive(t *testing.T) {
	req := require.New(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m, _, joins := loopbackChannel(t)
	req.NoError(m.Open())

	// When the receiving socket fails
	_ = m.conn.Close()
	_, _, err := m.Receive(ctx, make([]byte, 512))
	req.Error(err)
	req.Nil(m.conn)

	// Then the next receive runs on a fresh socket
	rejoined, err := m.ensure()
	req.NoError(err)
	sender, err := net.DialUDP("udp4", nil, rejoined.LocalAddr().(*net.UDPAddr))
	req.NoError(err)
	defer sender.Close()
	_, err = sender.Write([]byte("TYPING:Bob:true"))
	req.NoError(err)

	buf := make([]byte, 512)
	n, from, err := m.Receive(ctx, buf)
	req.NoError(err)
	req.Equal("TYPING:Bob:true", string(buf[:n]))
	req.True(from.Addr().Is4())
	req.Equal(int32(2), joins.Load())
}

func TestMulticastChannel_Invalidate_Ignores_Replaced_Socket(t *testing.T) {
	req := require.New(t)
	m, sink, joins := loopbackChannel(t)

	// Given a socket replaced after a failure
	first, err := m.ensure()
	req.NoError(err)
	m.invalidate(first)
	second, err := m.ensure()
	req.NoError(err)
	req.NotSame(first, second)

	// When a late loop reports the first socket failing again
	m.invalidate(first)

	// Then the current socket survives and keeps sending
	req.Same(second, m.conn)
	req.NoError(m.Send(context.Background(), []byte("HEARTBEAT:Alice:5000")))
	req.Equal("HEARTBEAT:Alice:5000", readFrom(t, sink))
	req.Equal(int32(2), joins.Load())
}

func TestMulticastChannel_Receive_Observes_Cancellation(t *testing.T) {
	req := require.New(t)
	m, _, _ := loopbackChannel(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// When nothing arrives before the context ends
	_, _, err := m.Receive(ctx, make([]byte, 512))

	// Then the deadline polling returns the context error and keeps the socket
	req.ErrorIs(err, context.DeadlineExceeded)
	req.NotNil(m.conn)
}

func TestMulticastChannel_Close_Is_Final(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	m, _, joins := loopbackChannel(t)
	req.NoError(m.Open())

	// When closed
	req.NoError(m.Close())

	// Then every later operation fails without re-joining
	req.ErrorIs(m.Open(), net.ErrClosed)
	req.ErrorIs(m.Send(ctx, []byte("lost")), net.ErrClosed)
	_, _, err := m.Receive(ctx, make([]byte, 512))
	req.ErrorIs(err, net.ErrClosed)
	req.NoError(m.Close())
	req.Equal(int32(1), joins.Load())
}

func TestMulticastChannel_Join_Failure_Is_Reported(t *testing.T) {
	req := require.New(t)
	group := netip.MustParseAddrPort("239.255.0.1:14001")
	m := NewMulticastChannel(slog.Default(), group, nil)
	m.listen = func() (*net.UDPConn, error) { return nil, net.UnknownNetworkError("udp4") }

	err := m.Open()

	req.ErrorIs(err, errors.ErrMulticastUnavailable)
	req.Contains(err.Error(), "239.255.0.1:14001")
	req.Nil(m.conn)
}
