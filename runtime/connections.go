package runtime

import (
	"context"
	"fmt"
	"net"

	"lan-chat/domain"
	"lan-chat/errors"
	"lan-chat/protocol"
	"lan-chat/transport"

	"go.uber.org/multierr"
)

// accept wraps an inbound socket and serves it. The peer is unknown until its
// first HELLO, CHAT or TYPING frame.
func (o *Orchestrator) accept(ctx context.Context, c net.Conn) {
	o.stats.IncrConnectionsIn()
	o.serve(ctx, transport.NewConn(c, o.opts.WriteTimeout), "")
}

// serve runs the reader loop of one connection in its own goroutine. A short
// read ends the loop; the peer owning conn, under whatever name it now has, is
// then removed. A replaced socket owns no peer.
func (o *Orchestrator) serve(ctx context.Context, conn *transport.Conn, peer string) {
	if !o.track(conn) {
		_ = conn.Close()
		return
	}
	go func() {
		defer o.untrack(conn)
		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		defer stop()

		remote := conn.RemoteAddrPort()
		for {
			payload, err := conn.ReadFrame(o.opts.MaxFrameSize)
			if err != nil {
				if !conn.IsClosed() && ctx.Err() == nil {
					o.log.Debug("Peer stream ended", "remote", remote.String(), "peer", peer, "error", err)
				}
				break
			}
			o.stats.IncrFramesIn()
			if name := o.dispatcher.HandleFrame(payload, conn, remote.Addr()); name != "" {
				peer = name
			}
		}
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		if owner, ok := o.registry.RemoveConnection(conn); ok {
			o.log.Info("Peer disconnected", "name", owner)
		}
	}()
}

// connect returns the live connection of a peer, dialing it lazily.
// Concurrent sends to the same peer share one dial.
func (o *Orchestrator) connect(ctx context.Context, name string) (domain.Connection, error) {
	info, ok := o.registry.TryGet(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrPeerNotFound, name)
	}
	if info.HasLiveConnection() {
		return info.Connection, nil
	}
	v, err, _ := o.connects.Do(name, func() (any, error) {
		return o.dial(ctx, info)
	})
	if err != nil {
		return nil, err
	}
	return v.(domain.Connection), nil
}

func (o *Orchestrator) dial(ctx context.Context, info domain.PeerInfo) (domain.Connection, error) {
	if info.EndPoint.Port() == 0 {
		return nil, fmt.Errorf("%w: %s: TCP port not advertised yet", errors.ErrPeerUnreachable, info.UserName)
	}
	dialCtx, cancel := context.WithTimeout(ctx, o.opts.ConnectTimeout)
	defer cancel()

	conn, err := o.opts.Dialer.Dial(dialCtx, info.EndPoint)
	if err != nil {
		return nil, o.unreachable(info.UserName, nil, err)
	}
	// Attached before its HELLO is sent, so a crossed socket the peer closes in
	// return never owns the entry here.
	self := o.self.Name()
	inUse, ok := o.registry.ReplaceConnection(info.UserName, conn, keepCurrent(self, info.UserName, conn))
	if !ok {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %s", errors.ErrPeerNotFound, info.UserName)
	}
	if inUse != conn {
		_ = conn.Close()
		o.log.Debug("Dropping crossed connection", "name", info.UserName)
		return inUse, nil
	}
	if err = conn.WriteFrame([]byte(protocol.Hello{Name: self}.Encode())); err != nil {
		o.registry.ClearConnection(info.UserName, conn)
		return nil, o.unreachable(info.UserName, nil, err)
	}
	o.stats.IncrConnectionsOut()
	o.log.Debug("Connected to peer", "name", info.UserName, "endpoint", info.EndPoint.String())
	o.serve(o.runCtx, conn, info.UserName)
	return conn, nil
}

// write sends one frame to the peer. When conn fails because it was replaced
// meanwhile, the frame is retried once on the peer's current connection.
func (o *Orchestrator) write(name string, conn domain.Connection, payload []byte) error {
	err := conn.WriteFrame(payload)
	if err != nil {
		if info, ok := o.registry.TryGet(name); ok && info.HasLiveConnection() && info.Connection != conn {
			conn = info.Connection
			err = conn.WriteFrame(payload)
		}
	}
	if err != nil {
		return o.unreachable(name, conn, err)
	}
	o.stats.IncrFramesOut()
	return nil
}

// unreachable marks the peer gone so later sends fail fast until it is
// rediscovered. conn is the socket that failed, nil for a failed dial; the peer
// is kept when another live connection took over.
func (o *Orchestrator) unreachable(name string, conn domain.Connection, cause error) error {
	o.stats.IncrConnectFailures()
	if conn != nil {
		_ = conn.Close()
	}
	if o.registry.RemoveIfConnection(name, conn) {
		o.log.Warn("Peer unreachable", "name", name, "error", cause)
	}
	return fmt.Errorf("%w: %s: %v", errors.ErrPeerUnreachable, name, cause)
}

// keepCurrent settles crossed connects: both ends keep the socket dialled by
// the smaller user name, whichever arrived first.
func keepCurrent(self, remote string, candidate domain.Connection) func(current domain.Connection) bool {
	preferred := func(c domain.Connection) bool { return c.Outbound() == (self < remote) }
	return func(current domain.Connection) bool {
		return preferred(current) && !preferred(candidate)
	}
}

// track registers a socket and its goroutine with the shutdown bookkeeping.
// It refuses once shutdown began, so no goroutine is added after Stop waits.
func (o *Orchestrator) track(conn *transport.Conn) bool {
	o.connsMu.Lock()
	defer o.connsMu.Unlock()
	if o.closing {
		return false
	}
	o.conns[conn] = struct{}{}
	o.inflight.Add(1)
	return true
}

func (o *Orchestrator) untrack(conn *transport.Conn) {
	o.connsMu.Lock()
	delete(o.conns, conn)
	o.connsMu.Unlock()
	o.inflight.Done()
}

// spawn runs fn in a goroutine Stop waits for.
func (o *Orchestrator) spawn(fn func(ctx context.Context)) bool {
	o.connsMu.Lock()
	if o.closing {
		o.connsMu.Unlock()
		return false
	}
	o.inflight.Add(1)
	o.connsMu.Unlock()
	go func() {
		defer o.inflight.Done()
		fn(o.runCtx)
	}()
	return true
}

func (o *Orchestrator) closeTracked() error {
	o.connsMu.Lock()
	conns := make([]*transport.Conn, 0, len(o.conns))
	for conn := range o.conns {
		conns = append(conns, conn)
	}
	o.connsMu.Unlock()

	var err error
	for _, conn := range conns {
		err = multierr.Append(err, ignoreClosed(conn.Close()))
	}
	return err
}
