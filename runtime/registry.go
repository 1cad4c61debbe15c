package runtime

import (
	"net/netip"
	"slices"
	"sync"
	"time"

	"lan-chat/contract"
	"lan-chat/domain"
	"lan-chat/domain/event"
	"lan-chat/errors"

	"github.com/benbjohnson/clock"
	"github.com/samber/lo"
	"go.uber.org/multierr"
)

// Registry is the concurrent name -> PeerInfo table and the single source of truth
// for who is reachable and how.
//
// Entries are stored by pointer and only ever mutated under the write lock; callers
// receive value snapshots. A connection is attached through ReplaceConnection
// (which closes a predecessor it dialled) and detached through ClearConnection, so ownership
// of a socket always follows the entry.
//
// removeLocked is the only place emitting PeerDisconnected, hence exactly one
// notification per removal.
type Registry struct {
	mu     sync.RWMutex
	clock  clock.Clock
	events contract.EventPublisher
	peers  map[string]*domain.PeerInfo
}

func NewRegistry(clk clock.Clock, events contract.EventPublisher) *Registry {
	return &Registry{
		clock:  clk,
		events: events,
		peers:  make(map[string]*domain.PeerInfo),
	}
}

// Upsert creates the entry or refreshes its heartbeat. An endpoint change closes
// and clears the connection: the peer must be reconnected before the next send.
// PeerDiscovered is published when the entry is created or its endpoint changes.
func (r *Registry) Upsert(name string, endpoint netip.AddrPort, isLocal bool) (domain.PeerInfo, bool) {
	var stale domain.Connection

	r.mu.Lock()
	peer, ok := r.peers[name]
	if !ok {
		peer = &domain.PeerInfo{
			UserName:      name,
			EndPoint:      endpoint,
			LastHeartbeat: r.clock.Now(),
			IsLocal:       isLocal,
		}
		r.peers[name] = peer
		if !isLocal {
			r.events.Publish(event.PeerDiscovered{Name: name, EndPoint: endpoint})
		}
	} else {
		peer.LastHeartbeat = r.clock.Now()
		if domain.EndPointChanged(peer.EndPoint, endpoint) {
			stale, peer.Connection = peer.Connection, nil
			peer.EndPoint = endpoint
			if !peer.IsLocal {
				r.events.Publish(event.PeerDiscovered{Name: name, EndPoint: endpoint})
			}
		} else if endpoint.Port() != 0 {
			peer.EndPoint = endpoint
		}
	}
	snapshot := *peer
	r.mu.Unlock()

	if stale != nil {
		_ = stale.Close()
	}
	return snapshot, !ok
}

// TryGet returns a snapshot of the peer. A connection found closed is cleared
// from the entry rather than returned.
func (r *Registry) TryGet(name string) (domain.PeerInfo, bool) {
	r.mu.RLock()
	peer, ok := r.peers[name]
	if !ok {
		r.mu.RUnlock()
		return domain.PeerInfo{}, false
	}
	snapshot := *peer
	r.mu.RUnlock()

	if snapshot.Connection == nil || !snapshot.Connection.IsClosed() {
		return snapshot, true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	peer, ok = r.peers[name]
	if !ok {
		return domain.PeerInfo{}, false
	}
	if peer.Connection != nil && peer.Connection.IsClosed() {
		peer.Connection = nil
	}
	return *peer, true
}

// Remove evicts a remote peer, closes its connection and publishes PeerDisconnected.
// The local entry is never removed this way.
func (r *Registry) Remove(name string) (domain.PeerInfo, bool) {
	r.mu.Lock()
	removed, ok := r.removeLocked(name)
	r.mu.Unlock()
	if ok && removed.Connection != nil {
		_ = removed.Connection.Close()
	}
	return removed, ok
}

// RemoveIfConnection removes the peer only while conn is still its current
// connection. A nil conn matches an entry without a live connection. A reader
// whose socket was replaced must not evict the peer.
func (r *Registry) RemoveIfConnection(name string, conn domain.Connection) bool {
	r.mu.Lock()
	peer, ok := r.peers[name]
	if !ok || !ownedBy(peer, conn) {
		r.mu.Unlock()
		return false
	}
	removed, ok := r.removeLocked(name)
	r.mu.Unlock()
	if ok && removed.Connection != nil {
		_ = removed.Connection.Close()
	}
	return ok
}

// RemoveConnection removes whichever peer currently owns conn. The owner is
// looked up by connection since a rename may have moved it to another name.
func (r *Registry) RemoveConnection(conn domain.Connection) (string, bool) {
	if conn == nil {
		return "", false
	}
	r.mu.Lock()
	owner, found := "", false
	for name, peer := range r.peers {
		if peer.Connection == conn {
			owner, found = name, true
			break
		}
	}
	if !found {
		r.mu.Unlock()
		return "", false
	}
	_, ok := r.removeLocked(owner)
	r.mu.Unlock()
	_ = conn.Close()
	return owner, ok
}

// RemoveIfStale removes the peer only if it is still silent for longer than
// timeout, so a heartbeat landing after a sweep listed it keeps it alive.
func (r *Registry) RemoveIfStale(name string, timeout time.Duration) bool {
	now := r.clock.Now()
	r.mu.Lock()
	peer, ok := r.peers[name]
	if !ok || peer.State(now, timeout) != domain.Stale {
		r.mu.Unlock()
		return false
	}
	removed, ok := r.removeLocked(name)
	r.mu.Unlock()
	if ok && removed.Connection != nil {
		_ = removed.Connection.Close()
	}
	return ok
}

func ownedBy(peer *domain.PeerInfo, conn domain.Connection) bool {
	if conn == nil {
		return peer.Connection == nil || peer.Connection.IsClosed()
	}
	return peer.Connection == conn
}

func (r *Registry) removeLocked(name string) (domain.PeerInfo, bool) {
	peer, ok := r.peers[name]
	if !ok || peer.IsLocal {
		return domain.PeerInfo{}, false
	}
	delete(r.peers, name)
	r.events.Publish(event.PeerDisconnected{Name: name, EndPoint: peer.EndPoint})
	return *peer, true
}

// AllNames returns the remote peer names in order, the local user excluded.
func (r *Registry) AllNames() []string {
	r.mu.RLock()
	names := lo.FilterMap(lo.Values(r.peers), func(p *domain.PeerInfo, _ int) (string, bool) {
		return p.UserName, !p.IsLocal
	})
	r.mu.RUnlock()
	slices.Sort(names)
	return names
}

// Peers returns every entry, local one included, ordered by name.
func (r *Registry) Peers() []domain.PeerInfo {
	r.mu.RLock()
	peers := lo.Map(lo.Values(r.peers), func(p *domain.PeerInfo, _ int) domain.PeerInfo {
		return *p
	})
	r.mu.RUnlock()
	slices.SortFunc(peers, func(a, b domain.PeerInfo) int {
		switch {
		case a.UserName < b.UserName:
			return -1
		case a.UserName > b.UserName:
			return 1
		}
		return 0
	})
	return peers
}

// Touch refreshes the liveness timestamp of a known peer.
func (r *Registry) Touch(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	peer, ok := r.peers[name]
	if ok {
		peer.LastHeartbeat = r.clock.Now()
	}
	return ok
}

// ReplaceConnection assigns conn to the peer unless keep reports that the
// current live connection must stay, and returns the connection in use.
// A nil keep always replaces. The predecessor is closed only when this side
// dialled it; an inbound one is detached and left for its dialer to close.
func (r *Registry) ReplaceConnection(name string, conn domain.Connection,
	keep func(current domain.Connection) bool) (domain.Connection, bool) {
	r.mu.Lock()
	peer, ok := r.peers[name]
	if !ok {
		r.mu.Unlock()
		return nil, false
	}
	previous := peer.Connection
	if previous != nil && previous != conn && !previous.IsClosed() && keep != nil && keep(previous) {
		r.mu.Unlock()
		return previous, true
	}
	peer.Connection = conn
	r.mu.Unlock()

	if previous != nil && previous != conn && previous.Outbound() {
		_ = previous.Close()
	}
	return conn, true
}

// ClearConnection detaches conn if it is still current and closes it either way.
func (r *Registry) ClearConnection(name string, conn domain.Connection) {
	r.mu.Lock()
	if peer, ok := r.peers[name]; ok && peer.Connection == conn {
		peer.Connection = nil
	}
	r.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Rename moves the entry keyed by oldName to newName, carrying endpoint,
// connection and heartbeat forward. A remote rename publishes disconnect then
// discover so collaborators keep an accurate peer list.
func (r *Registry) Rename(oldName, newName string) (domain.PeerInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	peer, ok := r.peers[oldName]
	if !ok {
		return domain.PeerInfo{}, errors.ErrPeerNotFound
	}
	if oldName == newName {
		return *peer, nil
	}
	if _, taken := r.peers[newName]; taken {
		return domain.PeerInfo{}, errors.ErrUserNameTaken
	}
	renamed := *peer
	renamed.UserName = newName
	if peer.IsLocal {
		delete(r.peers, oldName)
	} else {
		r.removeLocked(oldName)
		r.events.Publish(event.PeerDiscovered{Name: newName, EndPoint: renamed.EndPoint})
	}
	r.peers[newName] = &renamed
	return renamed, nil
}

// StaleNames lists remote peers silent for longer than timeout.
func (r *Registry) StaleNames(timeout time.Duration) []string {
	now := r.clock.Now()
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for name, peer := range r.peers {
		if peer.State(now, timeout) == domain.Stale {
			names = append(names, name)
		}
	}
	return names
}

// CloseAll force-releases every peer connection. Entries are kept.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	var conns []domain.Connection
	for _, peer := range r.peers {
		if peer.Connection != nil {
			conns = append(conns, peer.Connection)
			peer.Connection = nil
		}
	}
	r.mu.Unlock()

	var err error
	for _, conn := range conns {
		err = multierr.Append(err, conn.Close())
	}
	return err
}
