// Package protocol encodes and decodes the colon-delimited text commands exchanged
// over multicast datagrams and TCP frames.
package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"lan-chat/errors"

	"github.com/google/uuid"
)

type Verb string

const (
	VerbHeartbeat   Verb = "HEARTBEAT"
	VerbBroadcast   Verb = "BROADCAST"
	VerbTypingStart Verb = "TYPING_START"
	VerbTypingStop  Verb = "TYPING_STOP"
	VerbNameUpdate  Verb = "NAME_UPDATE"
	VerbChat        Verb = "CHAT"
	VerbHello       Verb = "HELLO"
)

const separator = ":"

// Command is one decoded protocol line.
type Command interface {
	Verb() Verb
	// Sender is the user name the command is attributed to.
	Sender() string
	Encode() string
}

type Heartbeat struct {
	Name    string
	TCPPort uint16
}

func (Heartbeat) Verb() Verb       { return VerbHeartbeat }
func (h Heartbeat) Sender() string { return h.Name }
func (h Heartbeat) Encode() string {
	return join(VerbHeartbeat, h.Name, strconv.Itoa(int(h.TCPPort)))
}

type Broadcast struct {
	Name      string
	MessageID uuid.UUID
	Content   string
}

func (Broadcast) Verb() Verb       { return VerbBroadcast }
func (b Broadcast) Sender() string { return b.Name }
func (b Broadcast) Encode() string {
	return join(VerbBroadcast, b.Name, b.MessageID.String(), b.Content)
}

type Chat struct {
	Name      string
	MessageID uuid.UUID
	Content   string
}

func (Chat) Verb() Verb       { return VerbChat }
func (c Chat) Sender() string { return c.Name }
func (c Chat) Encode() string {
	return join(VerbChat, c.Name, c.MessageID.String(), c.Content)
}

type Typing struct {
	Name     string
	IsTyping bool
}

func (t Typing) Verb() Verb {
	if t.IsTyping {
		return VerbTypingStart
	}
	return VerbTypingStop
}
func (t Typing) Sender() string { return t.Name }
func (t Typing) Encode() string { return join(t.Verb(), t.Name) }

type NameUpdate struct {
	OldName string
	NewName string
}

func (NameUpdate) Verb() Verb       { return VerbNameUpdate }
func (n NameUpdate) Sender() string { return n.OldName }
func (n NameUpdate) Encode() string { return join(VerbNameUpdate, n.OldName, n.NewName) }

type Hello struct {
	Name string
}

func (Hello) Verb() Verb       { return VerbHello }
func (h Hello) Sender() string { return h.Name }
func (h Hello) Encode() string { return join(VerbHello, h.Name) }

func join(verb Verb, fields ...string) string {
	return string(verb) + separator + strings.Join(fields, separator)
}

// Parse decodes one payload. Content fields may contain ':' and are split at most
// into the expected number of parts.
func Parse(payload string) (Command, error) {
	verb, rest, ok := strings.Cut(payload, separator)
	if !ok {
		return nil, fmt.Errorf("%w: %q", errors.ErrUnknownCommand, truncate(payload))
	}
	switch Verb(verb) {
	case VerbHeartbeat:
		parts := strings.Split(rest, separator)
		if len(parts) != 2 || parts[0] == "" {
			return nil, malformed(verb, payload)
		}
		port, err := strconv.ParseUint(parts[1], 10, 16)
		if err != nil || port == 0 {
			return nil, malformed(verb, payload)
		}
		return Heartbeat{Name: parts[0], TCPPort: uint16(port)}, nil

	case VerbBroadcast, VerbChat:
		parts := strings.SplitN(rest, separator, 3)
		if len(parts) != 3 || parts[0] == "" {
			return nil, malformed(verb, payload)
		}
		id, err := uuid.Parse(parts[1])
		if err != nil {
			return nil, malformed(verb, payload)
		}
		if Verb(verb) == VerbBroadcast {
			return Broadcast{Name: parts[0], MessageID: id, Content: parts[2]}, nil
		}
		return Chat{Name: parts[0], MessageID: id, Content: parts[2]}, nil

	case VerbTypingStart, VerbTypingStop:
		if rest == "" || strings.Contains(rest, separator) {
			return nil, malformed(verb, payload)
		}
		return Typing{Name: rest, IsTyping: Verb(verb) == VerbTypingStart}, nil

	case VerbNameUpdate:
		parts := strings.Split(rest, separator)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, malformed(verb, payload)
		}
		return NameUpdate{OldName: parts[0], NewName: parts[1]}, nil

	case VerbHello:
		if rest == "" {
			return nil, malformed(verb, payload)
		}
		return Hello{Name: rest}, nil
	}
	return nil, fmt.Errorf("%w: %q", errors.ErrUnknownCommand, verb)
}

// TrimPadding strips trailing NUL bytes some senders pad datagrams with.
func TrimPadding(b []byte) []byte {
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}
	return b[:end]
}

func malformed(verb, payload string) error {
	return fmt.Errorf("%w: %s %q", errors.ErrMalformedCommand, verb, truncate(payload))
}

func truncate(s string) string {
	const max = 64
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
