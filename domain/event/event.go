package event

import (
	"net/netip"
	"time"

	"lan-chat/domain"

	"github.com/google/uuid"
)

type Kind string

const (
	MessageReceivedKind     Kind = "message_received"
	PeerDiscoveredKind      Kind = "peer_discovered"
	PeerDisconnectedKind    Kind = "peer_disconnected"
	TypingStatusChangedKind Kind = "typing_status_changed"
)

// DomainEvent is what the core publishes to its collaborators.
type DomainEvent interface {
	Kind() Kind
}

type MessageReceived struct {
	ID        uuid.UUID
	Sender    string
	Content   string
	At        time.Time
	IsLocal   bool
	Broadcast bool
	Target    string
}

func (MessageReceived) Kind() Kind { return MessageReceivedKind }

func (m MessageReceived) Message() domain.ChatMessage {
	return domain.ChatMessage{
		ID:         m.ID,
		SenderName: m.Sender,
		Content:    m.Content,
		Timestamp:  m.At,
		IsLocal:    m.IsLocal,
		Broadcast:  m.Broadcast,
		Target:     m.Target,
	}
}

func NewMessageReceived(msg domain.ChatMessage) MessageReceived {
	return MessageReceived{
		ID:        msg.ID,
		Sender:    msg.SenderName,
		Content:   msg.Content,
		At:        msg.Timestamp,
		IsLocal:   msg.IsLocal,
		Broadcast: msg.Broadcast,
		Target:    msg.Target,
	}
}

type PeerDiscovered struct {
	Name     string
	EndPoint netip.AddrPort
}

func (PeerDiscovered) Kind() Kind { return PeerDiscoveredKind }

type PeerDisconnected struct {
	Name     string
	EndPoint netip.AddrPort
}

func (PeerDisconnected) Kind() Kind { return PeerDisconnectedKind }

type TypingStatusChanged struct {
	Sender   string
	IsTyping bool
}

func (TypingStatusChanged) Kind() Kind { return TypingStatusChangedKind }
