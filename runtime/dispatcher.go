package runtime

import (
	stderrors "errors"
	"log/slog"
	"net/netip"
	"time"

	"lan-chat/contract"
	"lan-chat/domain"
	"lan-chat/domain/event"
	"lan-chat/errors"
	"lan-chat/observability"
	"lan-chat/protocol"

	"github.com/benbjohnson/clock"
)

// Dispatcher applies decoded commands to the registry and publishes the
// resulting events. Bad input is logged and counted, never returned.
type Dispatcher struct {
	log         *slog.Logger
	clock       clock.Clock
	registry    *Registry
	events      contract.EventPublisher
	self        *identity
	broadcasts  *DedupeWindow
	directs     *DedupeWindow
	stats       *observability.NetworkStats
	renameGrace time.Duration
}

func NewDispatcher(log *slog.Logger, clk clock.Clock, registry *Registry, events contract.EventPublisher,
	self *identity, broadcasts, directs *DedupeWindow, stats *observability.NetworkStats,
	renameGrace time.Duration) *Dispatcher {
	return &Dispatcher{
		log:         log,
		clock:       clk,
		registry:    registry,
		events:      events,
		self:        self,
		broadcasts:  broadcasts,
		directs:     directs,
		stats:       stats,
		renameGrace: renameGrace,
	}
}

// HandleDatagram processes one multicast datagram received from addr.
func (d *Dispatcher) HandleDatagram(payload []byte, from netip.AddrPort) {
	cmd, ok := d.decode(payload, "datagram", from)
	if !ok {
		return
	}
	switch c := cmd.(type) {
	case protocol.Heartbeat:
		d.registry.Upsert(c.Name, netip.AddrPortFrom(from.Addr(), c.TCPPort), false)
	case protocol.Broadcast:
		d.observe(c.Name, from.Addr())
		if !d.broadcasts.Observe(c.MessageID) {
			d.stats.IncrDuplicatesDropped()
			d.log.Debug("Duplicate broadcast dropped", "id", c.MessageID, "sender", c.Name)
			return
		}
		d.events.Publish(event.MessageReceived{
			ID:        c.MessageID,
			Sender:    c.Name,
			Content:   c.Content,
			At:        d.clock.Now(),
			Broadcast: true,
		})
	case protocol.Typing:
		d.observe(c.Name, from.Addr())
		d.events.Publish(event.TypingStatusChanged{Sender: c.Name, IsTyping: c.IsTyping})
	case protocol.NameUpdate:
		d.renamePeer(c, from.Addr())
	default:
		d.log.Debug("Stream command received as datagram, dropped", "verb", cmd.Verb(), "from", from.String())
	}
}

// HandleFrame processes one TCP frame read from conn and returns the peer the
// connection belongs to, or "" when the frame identified nobody.
func (d *Dispatcher) HandleFrame(payload []byte, conn domain.Connection, remote netip.Addr) string {
	cmd, ok := d.decode(payload, "frame", netip.AddrPortFrom(remote, 0))
	if !ok {
		return ""
	}
	switch c := cmd.(type) {
	case protocol.Hello:
		d.associate(c.Name, conn, remote)
	case protocol.Chat:
		d.associate(c.Name, conn, remote)
		if !d.directs.Observe(c.MessageID) {
			d.stats.IncrDuplicatesDropped()
			d.log.Debug("Duplicate chat dropped", "id", c.MessageID, "sender", c.Name)
			return c.Name
		}
		d.events.Publish(event.MessageReceived{
			ID:      c.MessageID,
			Sender:  c.Name,
			Content: c.Content,
			At:      d.clock.Now(),
			Target:  d.self.Name(),
		})
	case protocol.Typing:
		d.associate(c.Name, conn, remote)
		d.events.Publish(event.TypingStatusChanged{Sender: c.Name, IsTyping: c.IsTyping})
	default:
		d.log.Debug("Datagram command received on stream, dropped", "verb", cmd.Verb(), "from", remote.String())
		return ""
	}
	return cmd.Sender()
}

func (d *Dispatcher) decode(payload []byte, channel string, from netip.AddrPort) (protocol.Command, bool) {
	cmd, err := protocol.Parse(string(protocol.TrimPadding(payload)))
	if err != nil {
		d.stats.IncrMalformedDropped()
		d.log.Debug("Dropping malformed "+channel, "from", from.String(), "error", err)
		return nil, false
	}
	if d.ignored(cmd) {
		d.stats.IncrIgnoredSelf()
		return nil, false
	}
	return cmd, true
}

// ignored filters our own traffic and the name retired by a recent rename.
func (d *Dispatcher) ignored(cmd protocol.Command) bool {
	now := d.clock.Now()
	if update, ok := cmd.(protocol.NameUpdate); ok {
		return d.self.ignores(update.OldName, now, d.renameGrace) ||
			d.self.ignores(update.NewName, now, d.renameGrace)
	}
	return d.self.ignores(cmd.Sender(), now, d.renameGrace)
}

// observe refreshes liveness, creating the peer when traffic comes from an
// unknown sender. Its TCP port stays unknown until the next heartbeat.
func (d *Dispatcher) observe(name string, addr netip.Addr) {
	if !d.registry.Touch(name) {
		d.registry.Upsert(name, netip.AddrPortFrom(addr, 0), false)
	}
}

// associate attaches the stream a peer spoke on. A crossed connect leaves the
// losing socket readable but detached.
func (d *Dispatcher) associate(name string, conn domain.Connection, addr netip.Addr) {
	info, _ := d.registry.Upsert(name, netip.AddrPortFrom(addr, 0), false)
	if info.Connection != conn {
		d.registry.ReplaceConnection(name, conn, keepCurrent(d.self.Name(), name, conn))
	}
}

func (d *Dispatcher) renamePeer(update protocol.NameUpdate, addr netip.Addr) {
	_, err := d.registry.Rename(update.OldName, update.NewName)
	switch {
	case err == nil:
		d.registry.Touch(update.NewName)
		d.log.Info("Peer renamed", "old", update.OldName, "new", update.NewName)
	case stderrors.Is(err, errors.ErrPeerNotFound):
		d.observe(update.NewName, addr)
	case stderrors.Is(err, errors.ErrUserNameTaken):
		// The new name announced itself first, the old entry is obsolete.
		d.registry.Remove(update.OldName)
		d.registry.Touch(update.NewName)
	}
}
