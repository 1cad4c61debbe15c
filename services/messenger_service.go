package services

import (
	"context"
	"fmt"

	"lan-chat/observability"
	"lan-chat/repositories"
	"lan-chat/runtime"
)

// IMessengerService is what a front-end needs from the core: sending, renaming,
// listing peers and paging through the stored history.
type IMessengerService interface {
	SendTo(ctx context.Context, peer, text string) error
	Broadcast(ctx context.Context, text string) error
	Typing(ctx context.Context, isTyping bool, peer string) error
	Rename(ctx context.Context, newName string) error
	UserName() string
	Peers() []runtime.PeerStatus
	Stats() observability.NetworkSnapshot
	History(conversation string, cursor *string) ([]repositories.DiskMessage, *string, error)
}

type MessengerService struct {
	orchestrator *runtime.Orchestrator
	history      repositories.IHistoryRepository
}

func NewMessengerService(o *runtime.Orchestrator, history repositories.IHistoryRepository) *MessengerService {
	return &MessengerService{orchestrator: o, history: history}
}

func (s *MessengerService) SendTo(ctx context.Context, peer, text string) error {
	return s.orchestrator.SendMessageToPeer(ctx, peer, text)
}

func (s *MessengerService) Broadcast(ctx context.Context, text string) error {
	return s.orchestrator.SendMulticastMessage(ctx, text)
}

// Typing signals to everyone when peer is empty, to that peer otherwise.
func (s *MessengerService) Typing(ctx context.Context, isTyping bool, peer string) error {
	return s.orchestrator.SendTypingStatus(ctx, s.orchestrator.LocalUserName(), isTyping, peer == "", peer)
}

func (s *MessengerService) Rename(ctx context.Context, newName string) error {
	return s.orchestrator.UpdateLocalUserName(ctx, newName)
}

func (s *MessengerService) UserName() string {
	return s.orchestrator.LocalUserName()
}

func (s *MessengerService) Peers() []runtime.PeerStatus {
	return s.orchestrator.Peers()
}

func (s *MessengerService) Stats() observability.NetworkSnapshot {
	return s.orchestrator.Stats()
}

func (s *MessengerService) History(conversation string, cursor *string) ([]repositories.DiskMessage, *string, error) {
	if s.history == nil {
		return nil, nil, nil
	}
	messages, next, err := s.history.GetMessages(conversation, cursor)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read history of %q: %w", conversation, err)
	}
	return messages, next, nil
}
