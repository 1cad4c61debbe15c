package projection

import (
	"net/netip"
	"testing"

	"lan-chat/domain/event"
	"lan-chat/repositories"

	"github.com/stretchr/testify/require"
)

func TestRoster_Tracks_Presence_And_Typing(t *testing.T) {
	req := require.New(t)
	roster := NewRoster()
	endpoint := netip.MustParseAddrPort("192.168.1.20:14000")

	// Given two discovered peers, one of them typing
	roster.Consume(event.PeerDiscovered{Name: "Bob", EndPoint: endpoint})
	roster.Consume(event.PeerDiscovered{Name: "Alice", EndPoint: endpoint})
	roster.Consume(event.TypingStatusChanged{Sender: "Bob", IsTyping: true})
	req.Equal([]string{"Alice", "Bob"}, roster.Online())
	req.Equal([]string{"Bob"}, roster.Typing())

	// When Bob disconnects
	roster.Consume(event.PeerDisconnected{Name: "Bob", EndPoint: endpoint})

	// Then he is neither online nor typing
	req.Equal([]string{"Alice"}, roster.Online())
	req.Empty(roster.Typing())
}

func TestRoster_Counts_Unread_Per_Conversation(t *testing.T) {
	req := require.New(t)
	roster := NewRoster()
	roster.Consume(event.TypingStatusChanged{Sender: "Bob", IsTyping: true})

	// When Bob writes to us, to everyone, and we write to him
	roster.Consume(event.MessageReceived{Sender: "Bob", Content: "hi", Target: "Alice"})
	roster.Consume(event.MessageReceived{Sender: "Bob", Content: "hi all", Broadcast: true})
	roster.Consume(event.MessageReceived{Sender: "Alice", Content: "hey", IsLocal: true, Target: "Bob"})

	// Then only received messages are unread, and a message ends the typing
	req.Equal(1, roster.Unread("Bob"))
	req.Equal(1, roster.Unread(repositories.BroadcastConversation))
	req.Empty(roster.Typing())

	roster.MarkRead("Bob")
	req.Zero(roster.Unread("Bob"))
}
