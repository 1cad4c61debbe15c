package runtime

import (
	"context"
	"log/slog"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	"lan-chat/domain"
	"lan-chat/domain/event"
	"lan-chat/errors"
	"lan-chat/mocks"
	"lan-chat/transport"

	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
)

func newTestOrchestrator(t *testing.T, name string, multicast *busMember, dialer *mocks.MockDialer,
	sinks ...*recordingSink) *Orchestrator {
	t.Helper()
	opts := Options{
		UserName:       name,
		TCPHost:        "127.0.0.1",
		ConnectTimeout: 100 * time.Millisecond,
		ShutdownGrace:  time.Second,
		Multicast:      multicast,
	}
	if dialer != nil {
		opts.Dialer = dialer
	}
	o, err := NewOrchestrator(logs.GetLoggerFromLevel(slog.LevelDebug), opts)
	require.NoError(t, err)
	for _, sink := range sinks {
		o.Add(sink)
	}
	return o
}

func TestOrchestrator_Send_To_Unknown_Peer_Fails_Without_IO(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	// No expectation: any dial attempt fails the test
	dialer := mocks.NewMockDialer(ctrl)
	group := &bus{}
	o := newTestOrchestrator(t, "Alice", group.join(netip.MustParseAddrPort("127.0.0.1:40001")), dialer)
	req.NoError(o.Start(context.Background()))
	defer o.Stop()

	err := o.SendMessageToPeer(context.Background(), "Nobody", "hello?")

	req.ErrorIs(err, errors.ErrPeerNotFound)
	req.Zero(o.Stats().ConnectFailures)
	req.Zero(o.Stats().FramesOut)
}

func TestOrchestrator_Connect_Timeout_Leaves_No_Socket(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	dialer := mocks.NewMockDialer(ctrl)
	group := &bus{}
	o := newTestOrchestrator(t, "Alice", group.join(netip.MustParseAddrPort("127.0.0.1:40001")), dialer)
	req.NoError(o.Start(context.Background()))
	defer o.Stop()

	// Given a known peer whose connect never completes
	carol := netip.MustParseAddrPort("10.1.2.3:5000")
	o.registry.Upsert("Carol", carol, false)
	dialer.EXPECT().Dial(gomock.Any(), carol).
		DoAndReturn(func(ctx context.Context, endpoint netip.AddrPort) (*transport.Conn, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}).
		Times(1)

	// When a message is sent to it
	start := time.Now()
	err := o.SendMessageToPeer(context.Background(), "Carol", "are you there?")

	// Then the send fails after the connect timeout
	req.ErrorIs(err, errors.ErrPeerUnreachable)
	req.GreaterOrEqual(time.Since(start), 100*time.Millisecond)
	req.Contains(err.Error(), "Carol")

	// And the peer is marked gone with no socket left behind
	_, ok := o.registry.TryGet("Carol")
	req.False(ok)
	o.connsMu.Lock()
	req.Empty(o.conns)
	o.connsMu.Unlock()

	// And later sends fail fast until rediscovery
	req.ErrorIs(o.SendMessageToPeer(context.Background(), "Carol", "again"), errors.ErrPeerNotFound)
}

func TestOrchestrator_Rename_To_Existing_Peer_Fails_Without_NameUpdate(t *testing.T) {
	req := require.New(t)
	group := &bus{}
	member := group.join(netip.MustParseAddrPort("127.0.0.1:40001"))
	o := newTestOrchestrator(t, "Alice", member, nil)
	req.NoError(o.Start(context.Background()))
	defer o.Stop()

	// Given Eve is an active peer
	member.deliver([]byte("HEARTBEAT:Eve:5000"), netip.MustParseAddrPort("127.0.0.2:40002"))
	req.Eventually(func() bool {
		return len(o.GetActivePeerNames()) == 1
	}, time.Second, 10*time.Millisecond)

	// When the local user tries to take her name
	err := o.UpdateLocalUserName(context.Background(), "Eve")

	// Then it fails and nothing changed or went out
	req.ErrorIs(err, errors.ErrUserNameTaken)
	req.Equal("Alice", o.LocalUserName())
	for _, payload := range member.Sent() {
		req.False(strings.HasPrefix(payload, "NAME_UPDATE"), payload)
	}
}

func TestOrchestrator_Rename_Validation(t *testing.T) {
	req := require.New(t)
	group := &bus{}
	o := newTestOrchestrator(t, "Alice", group.join(netip.MustParseAddrPort("127.0.0.1:40001")), nil)

	req.ErrorIs(o.UpdateLocalUserName(context.Background(), "   "), errors.ErrEmptyUserName)
	req.ErrorIs(o.UpdateLocalUserName(context.Background(), "a:b"), errors.ErrInvalidUserName)
	req.NoError(o.UpdateLocalUserName(context.Background(), " Alice "))
	req.Equal("Alice", o.LocalUserName())

	// Before Start the rename is local only
	req.NoError(o.UpdateLocalUserName(context.Background(), "Alicia"))
	req.Equal("Alicia", o.LocalUserName())
}

func TestOrchestrator_Rename_Clears_Broadcast_Window(t *testing.T) {
	req := require.New(t)
	group := &bus{}
	member := group.join(netip.MustParseAddrPort("127.0.0.1:40001"))
	o := newTestOrchestrator(t, "Alice", member, nil)
	req.NoError(o.Start(context.Background()))
	defer o.Stop()

	// Given a broadcast of ours and one of Eve's were seen
	req.NoError(o.SendMulticastMessage(context.Background(), "hello all"))
	member.deliver([]byte("BROADCAST:Eve:"+uuid.NewString()+":hi"), netip.MustParseAddrPort("127.0.0.2:40002"))
	req.Eventually(func() bool { return o.broadcasts.Len() == 2 }, time.Second, 10*time.Millisecond)

	// When the local user renames
	req.NoError(o.UpdateLocalUserName(context.Background(), "Alicia"))

	// Then the broadcast window starts over
	req.Equal(0, o.broadcasts.Len())
}

func TestOrchestrator_Lifecycle(t *testing.T) {
	req := require.New(t)
	group := &bus{}
	o := newTestOrchestrator(t, "Alice", group.join(netip.MustParseAddrPort("127.0.0.1:40001")), nil)

	req.ErrorIs(o.SendMulticastMessage(context.Background(), "hi"), errors.ErrNotStarted)

	req.NoError(o.Start(context.Background()))
	req.NoError(o.Start(context.Background()))
	req.NotZero(o.TCPPort())
	req.Empty(o.GetActivePeerNames())

	o.Stop()
	o.Stop()
	req.ErrorIs(o.Start(context.Background()), errors.ErrServiceStopped)
	req.ErrorIs(o.SendMulticastMessage(context.Background(), "hi"), errors.ErrServiceStopped)
}

// TwoPeersSuite runs two services on loopback TCP sharing an in-memory multicast group.
type TwoPeersSuite struct {
	suite.Suite
	alice, bob         *Orchestrator
	aliceSink, bobSink *recordingSink
}

func TestTwoPeersSuite(t *testing.T) {
	suite.Run(t, new(TwoPeersSuite))
}

func (s *TwoPeersSuite) SetupTest() {
	group := &bus{}
	s.aliceSink, s.bobSink = &recordingSink{}, &recordingSink{}
	s.alice = newTestOrchestrator(s.T(), "Alice", group.join(netip.MustParseAddrPort("127.0.0.1:40001")), nil, s.aliceSink)
	s.bob = newTestOrchestrator(s.T(), "Bob", group.join(netip.MustParseAddrPort("127.0.0.1:40002")), nil, s.bobSink)
	s.Require().NoError(s.alice.Start(context.Background()))
	s.Require().NoError(s.bob.Start(context.Background()))

	// Heartbeats go out at start, both sides discover each other
	s.Require().Eventually(func() bool {
		return equalNames(s.alice.GetActivePeerNames(), "Bob") && equalNames(s.bob.GetActivePeerNames(), "Alice")
	}, 2*time.Second, 10*time.Millisecond)
}

func (s *TwoPeersSuite) TearDownTest() {
	s.alice.Stop()
	s.bob.Stop()
}

func (s *TwoPeersSuite) TestDirectedMessage_Over_TCP() {
	req := s.Require()

	// When Alice writes to Bob
	req.NoError(s.alice.SendMessageToPeer(context.Background(), "Bob", "hello: bob"))

	// Then Bob receives it once, attributed to Alice
	req.Eventually(func() bool {
		return len(ofKind[event.MessageReceived](s.bobSink.Events())) == 1
	}, 2*time.Second, 10*time.Millisecond)
	msg := ofKind[event.MessageReceived](s.bobSink.Events())[0]
	req.Equal("Alice", msg.Sender)
	req.Equal("hello: bob", msg.Content)
	req.Equal("Bob", msg.Target)
	req.False(msg.IsLocal)

	// And Alice recorded her own copy
	req.Eventually(func() bool {
		local := ofKind[event.MessageReceived](s.aliceSink.Events())
		return len(local) == 1 && local[0].IsLocal && local[0].ID == msg.ID
	}, time.Second, 10*time.Millisecond)

	// And both ends now hold a live connection
	req.Equal(domain.Connected, stateOf(s.alice, "Bob"))
	req.Eventually(func() bool { return stateOf(s.bob, "Alice") == domain.Connected }, time.Second, 10*time.Millisecond)

	// And Bob can answer over the same connection without dialing
	req.NoError(s.bob.SendMessageToPeer(context.Background(), "Alice", "hi alice"))
	req.Eventually(func() bool {
		return len(ofKind[event.MessageReceived](s.aliceSink.Events())) == 2
	}, 2*time.Second, 10*time.Millisecond)
	req.Zero(s.bob.Stats().ConnectionsOut)
}

func (s *TwoPeersSuite) TestBroadcast_And_Typing() {
	req := s.Require()

	req.NoError(s.alice.SendMulticastMessage(context.Background(), "hello everyone"))
	req.NoError(s.alice.SendTypingStatus(context.Background(), "", true, true, ""))
	req.NoError(s.alice.SendTypingStatus(context.Background(), "", false, false, "Bob"))

	req.Eventually(func() bool {
		return len(ofKind[event.MessageReceived](s.bobSink.Events())) == 1 &&
			len(ofKind[event.TypingStatusChanged](s.bobSink.Events())) == 2
	}, 2*time.Second, 10*time.Millisecond)
	msg := ofKind[event.MessageReceived](s.bobSink.Events())[0]
	req.True(msg.Broadcast)
	req.Equal("hello everyone", msg.Content)

	// Alice never hears her own broadcast as a remote message
	req.Never(func() bool {
		for _, m := range ofKind[event.MessageReceived](s.aliceSink.Events()) {
			if !m.IsLocal {
				return true
			}
		}
		return false
	}, 200*time.Millisecond, 20*time.Millisecond)
}

func (s *TwoPeersSuite) TestRename_Converges_And_Keeps_Connection() {
	req := s.Require()

	// Given Alice and Bob are connected
	req.NoError(s.alice.SendMessageToPeer(context.Background(), "Bob", "ping"))
	req.Eventually(func() bool { return stateOf(s.bob, "Alice") == domain.Connected }, 2*time.Second, 10*time.Millisecond)

	// When Alice renames herself
	req.NoError(s.alice.UpdateLocalUserName(context.Background(), "Alicia"))
	req.Equal("Alicia", s.alice.LocalUserName())

	// Then Bob converges to a single entry keyed by the new name
	req.Eventually(func() bool {
		return equalNames(s.bob.GetActivePeerNames(), "Alicia")
	}, 2*time.Second, 10*time.Millisecond)
	req.Equal(domain.Connected, stateOf(s.bob, "Alicia"))

	// And Bob's collaborators saw Alice leave then Alicia arrive
	req.Eventually(func() bool {
		var order []string
		for _, e := range s.bobSink.Events() {
			switch evt := e.(type) {
			case event.PeerDisconnected:
				order = append(order, "-"+evt.Name)
			case event.PeerDiscovered:
				order = append(order, "+"+evt.Name)
			}
		}
		return strings.HasSuffix(strings.Join(order, ","), "-Alice,+Alicia")
	}, time.Second, 10*time.Millisecond)

	// And the preserved connection still carries traffic
	req.NoError(s.bob.SendMessageToPeer(context.Background(), "Alicia", "nice name"))
	req.Eventually(func() bool {
		for _, m := range ofKind[event.MessageReceived](s.aliceSink.Events()) {
			if m.Content == "nice name" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func (s *TwoPeersSuite) TestStop_Releases_Connections() {
	req := s.Require()
	req.NoError(s.alice.SendMessageToPeer(context.Background(), "Bob", "bye"))
	info, ok := s.alice.registry.TryGet("Bob")
	req.True(ok)
	conn := info.Connection

	s.alice.Stop()

	req.True(conn.IsClosed())
	// Bob sees the stream end and drops Alice
	req.Eventually(func() bool { return len(s.bob.GetActivePeerNames()) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func (s *TwoPeersSuite) TestCrossed_Sends_Keep_Both_Peers() {
	for round := range 20 {
		if round > 0 {
			s.TearDownTest()
			s.SetupTest()
		}
		s.crossedSendRound(round)
	}
}

// crossedSendRound has both peers dial each other at once, then checks that
// the two sides settle on one socket without losing anyone.
func (s *TwoPeersSuite) crossedSendRound(round int) {
	req := s.Require()
	ctx := context.Background()

	// When Alice and Bob write to each other at the same time
	var wg sync.WaitGroup
	var fromAlice, fromBob error
	wg.Add(2)
	go func() {
		defer wg.Done()
		fromAlice = s.alice.SendMessageToPeer(ctx, "Bob", "from alice")
	}()
	go func() {
		defer wg.Done()
		fromBob = s.bob.SendMessageToPeer(ctx, "Alice", "from bob")
	}()
	wg.Wait()

	// Then both sends succeed and each message arrives once
	req.NoError(fromAlice, "round %d", round)
	req.NoError(fromBob, "round %d", round)
	req.Eventually(func() bool {
		return countContent(s.bobSink, "from alice") == 1 && countContent(s.aliceSink, "from bob") == 1
	}, 2*time.Second, 10*time.Millisecond, "round %d", round)

	// And both ends converge on the same socket, seen from its two sides
	req.Eventually(func() bool {
		bob, okBob := s.alice.registry.TryGet("Bob")
		alice, okAlice := s.bob.registry.TryGet("Alice")
		return okBob && okAlice && bob.HasLiveConnection() && alice.HasLiveConnection() &&
			bob.Connection.Outbound() != alice.Connection.Outbound()
	}, 2*time.Second, 10*time.Millisecond, "round %d", round)

	// And nobody was evicted along the way
	req.Never(func() bool {
		return len(ofKind[event.PeerDisconnected](s.aliceSink.Events())) > 0 ||
			len(ofKind[event.PeerDisconnected](s.bobSink.Events())) > 0
	}, 100*time.Millisecond, 10*time.Millisecond, "round %d", round)
	req.True(equalNames(s.alice.GetActivePeerNames(), "Bob"), "round %d", round)
	req.True(equalNames(s.bob.GetActivePeerNames(), "Alice"), "round %d", round)
}

func (s *TwoPeersSuite) TestRenamed_Peer_Leaving_Is_Noticed() {
	req := s.Require()

	// Given Alice reached Bob then renamed to Alicia
	req.NoError(s.alice.SendMessageToPeer(context.Background(), "Bob", "ping"))
	req.Eventually(func() bool { return stateOf(s.bob, "Alice") == domain.Connected }, 2*time.Second, 10*time.Millisecond)
	req.NoError(s.alice.UpdateLocalUserName(context.Background(), "Alicia"))
	req.Eventually(func() bool {
		return equalNames(s.bob.GetActivePeerNames(), "Alicia")
	}, 2*time.Second, 10*time.Millisecond)

	// When Alicia goes away
	s.alice.Stop()

	// Then Bob drops the entry under its current name
	req.Eventually(func() bool { return len(s.bob.GetActivePeerNames()) == 0 }, 2*time.Second, 10*time.Millisecond)
	req.Eventually(func() bool {
		for _, e := range ofKind[event.PeerDisconnected](s.bobSink.Events()) {
			if e.Name == "Alicia" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func countContent(sink *recordingSink, content string) int {
	n := 0
	for _, m := range ofKind[event.MessageReceived](sink.Events()) {
		if m.Content == content && !m.IsLocal {
			n++
		}
	}
	return n
}

func stateOf(o *Orchestrator, name string) domain.PeerState {
	for _, p := range o.Peers() {
		if p.UserName == name {
			return p.State
		}
	}
	return domain.Unknown
}

func equalNames(names []string, want ...string) bool {
	return strings.Join(names, ",") == strings.Join(want, ",")
}
