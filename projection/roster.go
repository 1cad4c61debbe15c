// Package projection builds local read models from observed events.
// Does not emit events or interact with the network core.
package projection

import (
	"slices"
	"sync"

	"lan-chat/domain/event"
	"lan-chat/sink"

	"github.com/samber/lo"
)

// Roster tracks who is online, who is typing and unread counts per conversation.
// It is fed by the event fan-out and read by the console.
type Roster struct {
	mu     sync.Mutex
	online map[string]struct{}
	typing map[string]struct{}
	unread map[string]int
}

func NewRoster() *Roster {
	return &Roster{
		online: make(map[string]struct{}),
		typing: make(map[string]struct{}),
		unread: make(map[string]int),
	}
}

func (r *Roster) Consume(e event.DomainEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch evt := e.(type) {
	case event.PeerDiscovered:
		r.online[evt.Name] = struct{}{}
	case event.PeerDisconnected:
		delete(r.online, evt.Name)
		delete(r.typing, evt.Name)
	case event.TypingStatusChanged:
		if evt.IsTyping {
			r.typing[evt.Sender] = struct{}{}
		} else {
			delete(r.typing, evt.Sender)
		}
	case event.MessageReceived:
		if evt.IsLocal {
			return
		}
		delete(r.typing, evt.Sender)
		r.unread[sink.Conversation(evt)]++
	}
}

func (r *Roster) Online() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedKeys(r.online)
}

func (r *Roster) Typing() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedKeys(r.typing)
}

func (r *Roster) Unread(conversation string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unread[conversation]
}

// MarkRead resets the unread count of a conversation.
func (r *Roster) MarkRead(conversation string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.unread, conversation)
}

func sortedKeys(m map[string]struct{}) []string {
	keys := lo.Keys(m)
	slices.Sort(keys)
	return keys
}
