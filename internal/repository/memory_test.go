package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"realtime_core/internal/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRoom(a, b uuid.UUID) *domain.ChatRoom {
	return &domain.ChatRoom{
		ID:           uuid.New(),
		Name:         "test room",
		RoomKey:      domain.RoomKey(a, b),
		Participants: []uuid.UUID{a, b},
		CreatedAt:    time.Now().UTC(),
	}
}

func TestMemoryStore_CreateOrReactivateRoom(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a, b := uuid.New(), uuid.New()

	first, created, err := s.CreateOrReactivateRoom(ctx, newRoom(a, b))
	require.NoError(t, err)
	assert.True(t, created)

	// Same pair in the other order resolves to the same room.
	second, created, err := s.CreateOrReactivateRoom(ctx, newRoom(b, a))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, second.Participants, 2)
}

func TestMemoryStore_ReactivateReaddsParticipant(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a, b := uuid.New(), uuid.New()

	room, _, err := s.CreateOrReactivateRoom(ctx, newRoom(a, b))
	require.NoError(t, err)

	remaining, err := s.RemoveParticipant(ctx, room.ID, a)
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)

	ok, err := s.IsParticipant(ctx, room.ID, a)
	require.NoError(t, err)
	assert.False(t, ok)

	again, created, err := s.CreateOrReactivateRoom(ctx, newRoom(a, b))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, room.ID, again.ID)
	assert.True(t, again.HasParticipant(a))
}

func TestMemoryStore_RemoveLastParticipantDeletesRoom(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a, b := uuid.New(), uuid.New()

	room, _, err := s.CreateOrReactivateRoom(ctx, newRoom(a, b))
	require.NoError(t, err)
	require.NoError(t, s.CreateMessage(ctx, &domain.Message{ID: uuid.New(), RoomID: room.ID, SenderID: a, Content: "hi"}))

	_, err = s.RemoveParticipant(ctx, room.ID, a)
	require.NoError(t, err)
	remaining, err := s.RemoveParticipant(ctx, room.ID, b)
	require.NoError(t, err)
	assert.Zero(t, remaining)

	_, err = s.GetRoom(ctx, room.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	msgs, err := s.ListMessages(ctx, room.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestMemoryStore_MarkRoomRead(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a, b := uuid.New(), uuid.New()
	room, _, err := s.CreateOrReactivateRoom(ctx, newRoom(a, b))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.CreateMessage(ctx, &domain.Message{ID: uuid.New(), RoomID: room.ID, SenderID: a, Content: "from a"}))
	}
	require.NoError(t, s.CreateMessage(ctx, &domain.Message{ID: uuid.New(), RoomID: room.ID, SenderID: b, Content: "from b"}))

	n, err := s.MarkRoomRead(ctx, room.ID, b)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	n, err = s.MarkRoomRead(ctx, room.ID, b)
	require.NoError(t, err)
	assert.Zero(t, n)

	msgs, err := s.ListMessages(ctx, room.ID)
	require.NoError(t, err)
	for _, m := range msgs {
		assert.Equal(t, m.SenderID == a, m.IsRead)
	}
}

func TestMemoryStore_MarkRoomReadConcurrent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a, b := uuid.New(), uuid.New()
	room, _, err := s.CreateOrReactivateRoom(ctx, newRoom(a, b))
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		require.NoError(t, s.CreateMessage(ctx, &domain.Message{ID: uuid.New(), RoomID: room.ID, SenderID: a, Content: "x"}))
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var total int64
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := s.MarkRoomRead(ctx, room.ID, b)
			assert.NoError(t, err)
			mu.Lock()
			total += n
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 50, total)
}

func TestMemoryStore_MarkMessageRead(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a, b := uuid.New(), uuid.New()
	room, _, err := s.CreateOrReactivateRoom(ctx, newRoom(a, b))
	require.NoError(t, err)
	other, _, err := s.CreateOrReactivateRoom(ctx, newRoom(a, uuid.New()))
	require.NoError(t, err)

	msg := &domain.Message{ID: uuid.New(), RoomID: room.ID, SenderID: a, Content: "hi"}
	require.NoError(t, s.CreateMessage(ctx, msg))

	changed, err := s.MarkMessageRead(ctx, room.ID, msg.ID)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.MarkMessageRead(ctx, room.ID, msg.ID)
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = s.MarkMessageRead(ctx, other.ID, msg.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryStore_CreateMessageUnknownRoom(t *testing.T) {
	s := NewMemoryStore()
	err := s.CreateMessage(context.Background(), &domain.Message{ID: uuid.New(), RoomID: uuid.New(), Content: "x"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryStore_NotificationsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	recipient, sender := uuid.New(), uuid.New()
	subject := uuid.New()

	mk := func() *domain.Notification {
		return &domain.Notification{
			ID:          uuid.New(),
			RecipientID: recipient,
			SenderID:    &sender,
			Type:        domain.NotificationMessage,
			Message:     "bob sent you a new message.",
			SubjectID:   subject,
			CreatedAt:   time.Now().UTC(),
		}
	}

	created, err := s.CreateIfAbsent(ctx, mk())
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.CreateIfAbsent(ctx, mk())
	require.NoError(t, err)
	assert.False(t, created)

	list, err := s.ListNotifications(ctx, recipient)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, s.MarkNotificationRead(ctx, list[0].ID, recipient))
	list, err = s.ListNotifications(ctx, recipient)
	require.NoError(t, err)
	assert.True(t, list[0].IsRead)

	assert.ErrorIs(t, s.DeleteNotification(ctx, list[0].ID, uuid.New()), domain.ErrNotFound)
	require.NoError(t, s.DeleteNotification(ctx, list[0].ID, recipient))

	n, err := s.DeleteAllNotifications(ctx, recipient)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemoryStore_DeletedNotificationKeepsKey(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	recipient, sender := uuid.New(), uuid.New()
	n := &domain.Notification{
		ID:          uuid.New(),
		RecipientID: recipient,
		SenderID:    &sender,
		Type:        domain.NotificationComment,
		Message:     "bob commented on your post.",
		SubjectID:   uuid.New(),
		CreatedAt:   time.Now().UTC(),
	}
	created, err := s.CreateIfAbsent(ctx, n)
	require.NoError(t, err)
	require.True(t, created)

	deleted, err := s.DeleteAllNotifications(ctx, recipient)
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)

	replay := *n
	replay.ID = uuid.New()
	created, err = s.CreateIfAbsent(ctx, &replay)
	require.NoError(t, err)
	assert.False(t, created, "a deleted notification is not recreated by a replay")

	require.NoError(t, s.DeleteNotificationByKey(ctx, n.IdempotencyKey()))
	created, err = s.CreateIfAbsent(ctx, &replay)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestMemoryStore_GetUsers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	alice := domain.User{ID: uuid.New(), Username: "alice"}
	require.NoError(t, s.UpsertUser(ctx, alice))
	require.NoError(t, s.UpsertUser(ctx, domain.User{ID: alice.ID, Username: "alice2"}))

	users, err := s.GetUsers(ctx, []uuid.UUID{alice.ID, alice.ID, uuid.New()})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "alice2", users[0].Username)
}
