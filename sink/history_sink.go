package sink

import (
	"context"
	"log/slog"

	"lan-chat/domain/event"
	"lan-chat/repositories"
)

// HistorySink records every chat message, sent or received, per conversation.
type HistorySink struct {
	repository repositories.IHistoryRepository
	log        *slog.Logger
}

func NewHistorySink(repository repositories.IHistoryRepository, log *slog.Logger) HistorySink {
	return HistorySink{repository: repository, log: log}
}

func (d HistorySink) Consume(_ context.Context, e event.DomainEvent) error {
	switch evt := e.(type) {
	case event.MessageReceived:
		return d.repository.StoreMessage(toDiskMessage(evt))
	default:
		return nil
	}
}

// Conversation names the history a message belongs to: the group for
// broadcasts, otherwise the remote party.
func Conversation(evt event.MessageReceived) string {
	switch {
	case evt.Broadcast:
		return repositories.BroadcastConversation
	case evt.IsLocal:
		return evt.Target
	default:
		return evt.Sender
	}
}

func toDiskMessage(evt event.MessageReceived) repositories.DiskMessage {
	return repositories.DiskMessage{
		ID:           evt.ID,
		Conversation: Conversation(evt),
		Author:       evt.Sender,
		Content:      evt.Content,
		At:           evt.At,
		Outgoing:     evt.IsLocal,
	}
}
