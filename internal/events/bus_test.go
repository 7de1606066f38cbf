package events

import (
	"context"
	"errors"
	"testing"

	"realtime_core/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBus_DispatchesByType(t *testing.T) {
	bus := NewBus(zap.NewNop())
	var got []string

	bus.Subscribe(domain.EventTypeFollowCreated, func(_ context.Context, evt *domain.OutboxEvent) error {
		got = append(got, "follow:"+evt.EventType)
		return nil
	})
	bus.Subscribe(domain.EventTypeLikeCreated, func(_ context.Context, evt *domain.OutboxEvent) error {
		got = append(got, "like:"+evt.EventType)
		return nil
	})

	evt, err := domain.NewOutboxEvent(domain.EventTypeFollowCreated, domain.FollowCreated{})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), evt))

	assert.Equal(t, []string{"follow:" + domain.EventTypeFollowCreated}, got)
}

func TestBus_HandlerErrorDoesNotStopOthers(t *testing.T) {
	bus := NewBus(zap.NewNop())
	boom := errors.New("boom")
	calls := 0

	bus.Subscribe(domain.EventTypeCommentCreated, func(context.Context, *domain.OutboxEvent) error {
		calls++
		return boom
	})
	bus.Subscribe(domain.EventTypeCommentCreated, func(context.Context, *domain.OutboxEvent) error {
		calls++
		return nil
	})

	evt, err := domain.NewOutboxEvent(domain.EventTypeCommentCreated, domain.CommentCreated{})
	require.NoError(t, err)

	err = bus.Publish(context.Background(), evt)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)
}

func TestBus_NoHandlers(t *testing.T) {
	bus := NewBus(zap.NewNop())
	evt, err := domain.NewOutboxEvent("UNKNOWN", struct{}{})
	require.NoError(t, err)
	assert.NoError(t, bus.Publish(context.Background(), evt))
}
