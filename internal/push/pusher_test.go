package push

import (
	"context"
	"errors"
	"testing"

	"realtime_core/internal/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

type mockLiveness struct {
	mock.Mock
}

func (m *mockLiveness) IsLive(ctx context.Context, userID uuid.UUID, channel domain.ChannelKey) (bool, error) {
	args := m.Called(ctx, userID, channel)
	return args.Bool(0), args.Error(1)
}

type mockBroadcaster struct {
	mock.Mock
}

func (m *mockBroadcaster) Broadcast(ctx context.Context, channel domain.ChannelKey, evt domain.GroupEvent) error {
	args := m.Called(ctx, channel, evt)
	return args.Error(0)
}

func newNotification() *domain.Notification {
	return &domain.Notification{ID: uuid.New(), RecipientID: uuid.New(), Type: domain.NotificationLike, Message: "bob liked your post."}
}

func TestPusher_LiveRecipient(t *testing.T) {
	n := newNotification()
	channel := domain.NotificationChannel(n.RecipientID)

	live := new(mockLiveness)
	live.On("IsLive", mock.Anything, n.RecipientID, channel).Return(true, nil)
	fanout := new(mockBroadcaster)
	fanout.On("Broadcast", mock.Anything, channel, domain.NewNotificationEvent("bob liked your post.")).Return(nil)

	assert.True(t, NewPusher(live, fanout, zap.NewNop()).Push(context.Background(), n))
	live.AssertExpectations(t)
	fanout.AssertExpectations(t)
}

func TestPusher_OfflineRecipient(t *testing.T) {
	n := newNotification()

	live := new(mockLiveness)
	live.On("IsLive", mock.Anything, n.RecipientID, mock.Anything).Return(false, nil)
	fanout := new(mockBroadcaster)

	assert.False(t, NewPusher(live, fanout, zap.NewNop()).Push(context.Background(), n))
	fanout.AssertNotCalled(t, "Broadcast", mock.Anything, mock.Anything, mock.Anything)
}

func TestPusher_FailuresAreSwallowed(t *testing.T) {
	n := newNotification()

	live := new(mockLiveness)
	live.On("IsLive", mock.Anything, n.RecipientID, mock.Anything).Return(false, errors.New("db down")).Once()
	live.On("IsLive", mock.Anything, n.RecipientID, mock.Anything).Return(true, nil)
	fanout := new(mockBroadcaster)
	fanout.On("Broadcast", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down"))

	p := NewPusher(live, fanout, zap.NewNop())
	assert.False(t, p.Push(context.Background(), n))
	assert.False(t, p.Push(context.Background(), n))
}
