package runtime

import (
	"net"
	"net/netip"
	"time"

	"lan-chat/contract"
	"lan-chat/observability"
	"lan-chat/protocol"
	"lan-chat/transport"

	"github.com/benbjohnson/clock"
)

const (
	DefaultTCPPort           = 14000
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultSweepInterval     = 10 * time.Second
	DefaultPeerTimeout       = 90 * time.Second
	DefaultConnectTimeout    = 3 * time.Second
	DefaultWriteTimeout      = 5 * time.Second
	DefaultRenameGrace       = 15 * time.Second
	DefaultShutdownGrace     = 5 * time.Second
	DefaultReceiveBackoff    = time.Second
	DefaultSinkTimeout       = 2 * time.Second
)

var DefaultMulticastGroup = netip.MustParseAddrPort("224.0.0.1:14001")

// Options configures an Orchestrator. Zero durations take the defaults above.
// A zero TCPPort asks for an ephemeral port.
type Options struct {
	UserName           string
	TCPHost            string
	TCPPort            int
	MulticastGroup     netip.AddrPort
	MulticastInterface *net.Interface
	HeartbeatInterval  time.Duration
	SweepInterval      time.Duration
	PeerTimeout        time.Duration
	ConnectTimeout     time.Duration
	WriteTimeout       time.Duration
	RenameGrace        time.Duration
	DedupeTTL          time.Duration
	ShutdownGrace      time.Duration
	ReceiveBackoff     time.Duration
	SinkTimeout        time.Duration
	MaxFrameSize       int
	// MetricInterval enables a periodic health log when positive.
	MetricInterval time.Duration

	// Collaborators, replaced in tests.
	Clock     clock.Clock
	Multicast contract.Multicast
	Dialer    contract.Dialer
	Stats     *observability.NetworkStats
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

func (o Options) withDefaults() Options {
	if !o.MulticastGroup.IsValid() {
		o.MulticastGroup = DefaultMulticastGroup
	}
	o.HeartbeatInterval = orDefault(o.HeartbeatInterval, DefaultHeartbeatInterval)
	o.SweepInterval = orDefault(o.SweepInterval, DefaultSweepInterval)
	o.PeerTimeout = orDefault(o.PeerTimeout, DefaultPeerTimeout)
	o.ConnectTimeout = orDefault(o.ConnectTimeout, DefaultConnectTimeout)
	o.WriteTimeout = orDefault(o.WriteTimeout, DefaultWriteTimeout)
	o.RenameGrace = orDefault(o.RenameGrace, DefaultRenameGrace)
	o.DedupeTTL = orDefault(o.DedupeTTL, DefaultDedupeTTL)
	o.ShutdownGrace = orDefault(o.ShutdownGrace, DefaultShutdownGrace)
	o.ReceiveBackoff = orDefault(o.ReceiveBackoff, DefaultReceiveBackoff)
	o.SinkTimeout = orDefault(o.SinkTimeout, DefaultSinkTimeout)
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = protocol.DefaultMaxFrameSize
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Dialer == nil {
		o.Dialer = transport.Dialer{ConnectTimeout: o.ConnectTimeout, WriteTimeout: o.WriteTimeout}
	}
	if o.Stats == nil {
		o.Stats = observability.NewNetworkStats()
	}
	return o
}
