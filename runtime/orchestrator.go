// Package runtime runs the peer discovery and messaging core: the peer table,
// the network loops and the facade the GUI collaborator talks to.
// It owns every goroutine and socket of the core and releases them on Stop.
package runtime

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"lan-chat/contract"
	"lan-chat/domain"
	"lan-chat/domain/event"
	"lan-chat/errors"
	"lan-chat/observability"
	"lan-chat/protocol"
	"lan-chat/runtime/workers"
	"lan-chat/transport"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"
)

// PeerStatus is a registry snapshot with its liveness state.
type PeerStatus struct {
	domain.PeerInfo
	State domain.PeerState
}

type Orchestrator struct {
	mu         sync.Mutex
	renameMu   sync.Mutex
	log        *slog.Logger
	opts       Options
	clock      clock.Clock
	stats      *observability.NetworkStats
	self       *identity
	queue      *EventQueue
	registry   *Registry
	broadcasts *DedupeWindow
	directs    *DedupeWindow
	dispatcher *Dispatcher
	supervisor *workers.Supervisor
	sinks      []contract.EventSink
	connects   singleflight.Group

	multicast contract.Multicast
	listener  net.Listener
	tcpPort   atomic.Int32
	runCtx    context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	started   bool
	stopped   bool

	connsMu  sync.Mutex
	conns    map[*transport.Conn]struct{}
	closing  bool
	inflight sync.WaitGroup
}

func NewOrchestrator(log *slog.Logger, opts Options, sinks ...contract.EventSink) (*Orchestrator, error) {
	name, err := domain.NormalizeUserName(opts.UserName)
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	opts.UserName = name

	queue := NewEventQueue()
	self := newIdentity(name)
	registry := NewRegistry(opts.Clock, queue)
	broadcasts := NewDedupeWindow(opts.Clock, opts.DedupeTTL)
	directs := NewDedupeWindow(opts.Clock, opts.DedupeTTL)
	return &Orchestrator{
		log:        log,
		opts:       opts,
		clock:      opts.Clock,
		stats:      opts.Stats,
		self:       self,
		queue:      queue,
		registry:   registry,
		broadcasts: broadcasts,
		directs:    directs,
		dispatcher: NewDispatcher(log, opts.Clock, registry, queue, self, broadcasts, directs, opts.Stats, opts.RenameGrace),
		supervisor: workers.NewSupervisor(log),
		sinks:      sinks,
		done:       make(chan struct{}),
		conns:      make(map[*transport.Conn]struct{}),
	}, nil
}

// Add registers sinks. It must be called before Start.
func (o *Orchestrator) Add(sinks ...contract.EventSink) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sinks = append(o.sinks, sinks...)
}

// Start binds the sockets and launches every loop. ctx bounds the lifetime of
// the service. Calling Start again is a no-op; after Stop it fails.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return errors.ErrServiceStopped
	}
	if o.started {
		return nil
	}

	listener, port, err := transport.Listen(ctx, o.log, o.opts.TCPHost, o.opts.TCPPort)
	if err != nil {
		return err
	}
	multicast := o.opts.Multicast
	if multicast == nil {
		channel := transport.NewMulticastChannel(o.log, o.opts.MulticastGroup, o.opts.MulticastInterface)
		if err = channel.Open(); err != nil {
			_ = listener.Close()
			return err
		}
		multicast = channel
	}
	o.listener = listener
	o.multicast = multicast
	o.tcpPort.Store(int32(port))
	o.registry.Upsert(o.self.Name(), netip.AddrPortFrom(netip.IPv4Unspecified(), uint16(port)), true)

	o.runCtx, o.cancel = context.WithCancel(ctx)
	o.supervisor.Add(
		workers.NewEventFanout(o.log, o.queue, o.sinks, o.opts.SinkTimeout),
		workers.NewHeartbeatWorker(o.log, o.clock, multicast, o.opts.HeartbeatInterval, o.heartbeat, o.stats),
		workers.NewUDPReceiverWorker(o.log, multicast, o.dispatcher.HandleDatagram, o.opts.ReceiveBackoff, o.stats),
		workers.NewTCPAcceptorWorker(o.log, listener, o.accept),
		workers.NewReaperWorker(o.log, o.clock, o.registry, o.opts.SweepInterval, o.opts.PeerTimeout, o.stats,
			o.broadcasts, o.directs),
	)
	if o.opts.MetricInterval > 0 {
		o.supervisor.Add(workers.NewHealthMonitoringWorker(o.log, o.clock, o.opts.MetricInterval, o.stats.Snapshot))
	}
	runCtx := o.runCtx
	go func() {
		o.supervisor.Run(runCtx)
		close(o.done)
	}()
	o.started = true
	o.log.Info("Network service started", "user", o.self.Name(), "tcp_port", port,
		"multicast", o.opts.MulticastGroup.String())
	return nil
}

// Stop cancels every loop, closes the listener and the multicast socket, waits
// at most the shutdown grace, then force-releases all peer connections.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	started := o.started
	o.mu.Unlock()
	if !started {
		return
	}

	o.log.Info("Requesting network service shutdown")
	o.cancel()
	o.supervisor.Stop()
	err := multierr.Combine(ignoreClosed(o.listener.Close()), ignoreClosed(o.multicast.Close()))

	o.connsMu.Lock()
	o.closing = true
	o.connsMu.Unlock()

	finished := make(chan struct{})
	go func() {
		<-o.done
		o.inflight.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(o.opts.ShutdownGrace):
		o.log.Warn("Shutdown grace elapsed, forcing connections closed", "grace", o.opts.ShutdownGrace)
	}

	err = multierr.Append(err, o.registry.CloseAll())
	err = multierr.Append(err, o.closeTracked())
	if err != nil {
		o.log.Warn("Errors while releasing sockets", "error", err)
	}
	o.log.Info("Network service stopped")
}

func (o *Orchestrator) running() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch {
	case o.stopped:
		return errors.ErrServiceStopped
	case !o.started:
		return errors.ErrNotStarted
	}
	return nil
}

func (o *Orchestrator) heartbeat() []byte {
	return []byte(protocol.Heartbeat{Name: o.self.Name(), TCPPort: uint16(o.tcpPort.Load())}.Encode())
}

// SendMessageToPeer sends a directed chat over TCP. A name absent from the
// registry fails before any network I/O.
func (o *Orchestrator) SendMessageToPeer(ctx context.Context, name, text string) error {
	if err := o.running(); err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	sender := o.self.Name()
	if name == sender {
		return errors.ErrLocalPeer
	}
	conn, err := o.connect(ctx, name)
	if err != nil {
		return err
	}
	msg := domain.NewChatMessage(uuid.New(), sender, text, o.clock.Now())
	msg.IsLocal, msg.Target = true, name
	payload := protocol.Chat{Name: sender, MessageID: msg.ID, Content: text}.Encode()
	if err = o.write(name, conn, []byte(payload)); err != nil {
		return err
	}
	o.queue.Publish(event.NewMessageReceived(msg))
	return nil
}

// SendMulticastMessage sends a chat to every peer of the group.
func (o *Orchestrator) SendMulticastMessage(ctx context.Context, text string) error {
	if err := o.running(); err != nil {
		return err
	}
	msg := domain.NewChatMessage(uuid.New(), o.self.Name(), text, o.clock.Now())
	msg.IsLocal, msg.Broadcast = true, true
	o.broadcasts.Observe(msg.ID)
	payload := protocol.Broadcast{Name: msg.SenderName, MessageID: msg.ID, Content: text}.Encode()
	if err := o.multicast.Send(ctx, []byte(payload)); err != nil {
		return fmt.Errorf("failed to broadcast message: %w", err)
	}
	o.stats.IncrDatagramsOut()
	o.queue.Publish(event.NewMessageReceived(msg))
	return nil
}

// SendTypingStatus announces typing to the group or, when isBroadcast is false,
// to target over its TCP connection. An empty sender means the local user.
func (o *Orchestrator) SendTypingStatus(ctx context.Context, sender string, isTyping, isBroadcast bool, target string) error {
	if err := o.running(); err != nil {
		return err
	}
	if sender == "" {
		sender = o.self.Name()
	}
	payload := []byte(protocol.Typing{Name: sender, IsTyping: isTyping}.Encode())
	if isBroadcast {
		if err := o.multicast.Send(ctx, payload); err != nil {
			return fmt.Errorf("failed to broadcast typing status: %w", err)
		}
		o.stats.IncrDatagramsOut()
		return nil
	}
	target = strings.TrimSpace(target)
	conn, err := o.connect(ctx, target)
	if err != nil {
		return err
	}
	return o.write(target, conn, payload)
}

// SendNameUpdate announces a rename to the group.
func (o *Orchestrator) SendNameUpdate(ctx context.Context, oldName, newName string) error {
	if err := o.running(); err != nil {
		return err
	}
	payload := protocol.NameUpdate{OldName: oldName, NewName: newName}.Encode()
	if err := o.multicast.Send(ctx, []byte(payload)); err != nil {
		return fmt.Errorf("failed to send name update %s -> %s: %w", oldName, newName, err)
	}
	o.stats.IncrDatagramsOut()
	return nil
}

// UpdateLocalUserName renames the local user. Validation and the uniqueness
// check happen before any state changes; NAME_UPDATE is sent asynchronously.
func (o *Orchestrator) UpdateLocalUserName(ctx context.Context, newName string) error {
	name, err := domain.NormalizeUserName(newName)
	if err != nil {
		return err
	}
	o.renameMu.Lock()
	defer o.renameMu.Unlock()

	oldName := o.self.Name()
	if name == oldName {
		return nil
	}
	if info, ok := o.registry.TryGet(name); ok && !info.IsLocal {
		return fmt.Errorf("%w: %s", errors.ErrUserNameTaken, name)
	}
	if _, err = o.registry.Rename(oldName, name); err != nil && !stderrors.Is(err, errors.ErrPeerNotFound) {
		return fmt.Errorf("%w: %s", err, name)
	}
	o.self.rename(name, o.clock.Now())
	o.broadcasts.Clear()
	o.log.Info("Local user renamed", "old", oldName, "new", name)

	if o.running() != nil {
		return nil
	}
	o.spawn(func(runCtx context.Context) {
		if err := o.SendNameUpdate(runCtx, oldName, name); err != nil && runCtx.Err() == nil {
			o.log.Warn("Name update not announced", "error", err)
		}
	})
	return nil
}

// GetActivePeerNames returns the known remote peers, sorted.
func (o *Orchestrator) GetActivePeerNames() []string {
	return o.registry.AllNames()
}

func (o *Orchestrator) LocalUserName() string {
	return o.self.Name()
}

// TCPPort is the bound listening port, 0 before Start.
func (o *Orchestrator) TCPPort() int {
	return int(o.tcpPort.Load())
}

func (o *Orchestrator) Peers() []PeerStatus {
	now := o.clock.Now()
	peers := o.registry.Peers()
	res := make([]PeerStatus, 0, len(peers))
	for _, p := range peers {
		res = append(res, PeerStatus{PeerInfo: p, State: p.State(now, o.opts.PeerTimeout)})
	}
	return res
}

func (o *Orchestrator) Stats() observability.NetworkSnapshot {
	return o.stats.Snapshot()
}

func ignoreClosed(err error) error {
	if stderrors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
