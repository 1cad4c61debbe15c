// Package domain contains core concepts of the LAN messenger.
// This file defines chat messages.
// Messages are immutable once built.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// ChatMessage is the minimal chat payload known to the core.
// ID is opaque here: it only deduplicates broadcasts and correlates logs.
type ChatMessage struct {
	ID         uuid.UUID
	SenderName string
	Content    string
	Timestamp  time.Time
	IsLocal    bool
	Broadcast  bool
	Target     string // directed messages only
}

func NewChatMessage(id uuid.UUID, sender, content string, at time.Time) ChatMessage {
	return ChatMessage{ID: id, SenderName: sender, Content: content, Timestamp: at}
}
