// Package domain contains core concepts of the LAN messenger.
// This file defines peers and their liveness states.
// No socket handling should be added here.
package domain

import (
	"net/netip"
	"time"
)

// PeerState is the liveness state of a peer as seen by the local registry.
type PeerState int

const (
	Unknown PeerState = iota
	Discovered
	Connected
	Stale
	Removed
)

func (s PeerState) String() string {
	switch s {
	case Discovered:
		return "discovered"
	case Connected:
		return "connected"
	case Stale:
		return "stale"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Connection is the part of a peer connection the domain cares about.
// Outbound reports whether this side dialled it.
type Connection interface {
	WriteFrame(payload []byte) error
	IsClosed() bool
	Close() error
	Outbound() bool
}

// PeerInfo is a snapshot of one known participant.
// Connection is owned by the registry and must not be closed by readers of a snapshot.
type PeerInfo struct {
	UserName      string
	EndPoint      netip.AddrPort
	LastHeartbeat time.Time
	Connection    Connection
	IsLocal       bool
}

// HasLiveConnection reports whether the snapshot carries an open connection.
func (p PeerInfo) HasLiveConnection() bool {
	return p.Connection != nil && !p.Connection.IsClosed()
}

// State derives the liveness state at now for the given timeout.
// The local entry never goes stale.
func (p PeerInfo) State(now time.Time, timeout time.Duration) PeerState {
	if p.UserName == "" {
		return Unknown
	}
	if !p.IsLocal && now.Sub(p.LastHeartbeat) > timeout {
		return Stale
	}
	if p.HasLiveConnection() {
		return Connected
	}
	return Discovered
}

// EndPointChanged reports whether a reported endpoint invalidates the stored one.
// Port 0 means the TCP port is not known (peer learnt from a handshake or a
// broadcast), so on the same address it never invalidates and a known port is
// adopted silently.
func EndPointChanged(stored, reported netip.AddrPort) bool {
	if stored == reported {
		return false
	}
	if stored.Addr() == reported.Addr() && (stored.Port() == 0 || reported.Port() == 0) {
		return false
	}
	return true
}
