package sink_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"lan-chat/domain/event"
	"lan-chat/mocks"
	"lan-chat/repositories"
	"lan-chat/sink"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestHistorySink_Consume(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockRepo := mocks.NewMockIHistoryRepository(ctrl)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := sink.NewHistorySink(mockRepo, logger)
	ctx := context.Background()
	at := time.Now().UTC()

	t.Run("Received directed message goes to the sender conversation", func(t *testing.T) {
		id := uuid.New()
		mockRepo.EXPECT().StoreMessage(repositories.DiskMessage{
			ID: id, Conversation: "Alice", Author: "Alice", Content: "hi", At: at,
		}).Return(nil).Times(1)

		err := s.Consume(ctx, event.MessageReceived{ID: id, Sender: "Alice", Content: "hi", At: at, Target: "Bob"})
		require.NoError(t, err)
	})

	t.Run("Sent directed message goes to the target conversation", func(t *testing.T) {
		id := uuid.New()
		mockRepo.EXPECT().StoreMessage(repositories.DiskMessage{
			ID: id, Conversation: "Alice", Author: "Bob", Content: "hello", At: at, Outgoing: true,
		}).Return(nil).Times(1)

		err := s.Consume(ctx, event.MessageReceived{ID: id, Sender: "Bob", Content: "hello", At: at, IsLocal: true, Target: "Alice"})
		require.NoError(t, err)
	})

	t.Run("Broadcast goes to the group conversation", func(t *testing.T) {
		mockRepo.EXPECT().StoreMessage(gomock.Any()).
			DoAndReturn(func(message repositories.DiskMessage) error {
				require.Equal(t, repositories.BroadcastConversation, message.Conversation)
				return nil
			}).Times(1)

		err := s.Consume(ctx, event.MessageReceived{ID: uuid.New(), Sender: "Eve", Content: "all", At: at, Broadcast: true})
		require.NoError(t, err)
	})

	t.Run("Other events are ignored", func(t *testing.T) {
		require.NoError(t, s.Consume(ctx, event.PeerDiscovered{Name: "Eve"}))
	})
}
