package repository

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"realtime_core/internal/domain"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestDB connects to TEST_DB_CONN_STR and applies the schema. Tests using
// it are skipped when the variable is unset.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DB_CONN_STR")
	if dsn == "" {
		t.Skip("TEST_DB_CONN_STR not set")
	}
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	files, err := filepath.Glob("../../migrations/*.up.sql")
	require.NoError(t, err)
	require.NotEmpty(t, files)
	for _, f := range files {
		schema, err := os.ReadFile(f)
		require.NoError(t, err)
		_, err = db.Exec(string(schema))
		require.NoError(t, err, f)
	}
	return db
}

func TestChatRepository_Postgres(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewChatRepository(db)

	a := domain.User{ID: uuid.New(), Username: "alice"}
	b := domain.User{ID: uuid.New(), Username: "bob"}
	require.NoError(t, repo.UpsertUser(ctx, a))
	require.NoError(t, repo.UpsertUser(ctx, b))

	users, err := repo.GetUsers(ctx, []uuid.UUID{a.ID, b.ID})
	require.NoError(t, err)
	assert.Len(t, users, 2)

	room, created, err := repo.CreateOrReactivateRoom(ctx, newRoom(a.ID, b.ID))
	require.NoError(t, err)
	assert.True(t, created)
	assert.ElementsMatch(t, []uuid.UUID{a.ID, b.ID}, room.Participants)

	same, created, err := repo.CreateOrReactivateRoom(ctx, newRoom(b.ID, a.ID))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, room.ID, same.ID)

	ok, err := repo.IsParticipant(ctx, room.ID, a.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	msg := &domain.Message{ID: uuid.New(), RoomID: room.ID, SenderID: a.ID, Content: "hi", SentAt: time.Now().UTC()}
	require.NoError(t, repo.CreateMessage(ctx, msg))

	n, err := repo.MarkRoomRead(ctx, room.ID, b.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	changed, err := repo.MarkMessageRead(ctx, room.ID, msg.ID)
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = repo.MarkMessageRead(ctx, room.ID, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	rooms, err := repo.ListRoomsForUser(ctx, b.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, rooms)

	_, err = repo.RemoveParticipant(ctx, room.ID, a.ID)
	require.NoError(t, err)
	remaining, err := repo.RemoveParticipant(ctx, room.ID, b.ID)
	require.NoError(t, err)
	assert.Zero(t, remaining)

	_, err = repo.GetRoom(ctx, room.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestNotificationRepository_Postgres(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewNotificationRepository(db)

	recipient, sender := uuid.New(), uuid.New()
	n := &domain.Notification{
		ID:          uuid.New(),
		RecipientID: recipient,
		SenderID:    &sender,
		Type:        domain.NotificationFollow,
		Message:     "bob started following you.",
		SubjectID:   uuid.New(),
		CreatedAt:   time.Now().UTC(),
	}
	created, err := repo.CreateIfAbsent(ctx, n)
	require.NoError(t, err)
	assert.True(t, created)

	dup := *n
	dup.ID = uuid.New()
	created, err = repo.CreateIfAbsent(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, created)

	list, err := repo.ListNotifications(ctx, recipient)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].SenderID)
	assert.Equal(t, sender, *list[0].SenderID)
	assert.Nil(t, list[0].RelatedObjectID)

	require.NoError(t, repo.MarkNotificationRead(ctx, n.ID, recipient))
	assert.ErrorIs(t, repo.MarkNotificationRead(ctx, uuid.New(), recipient), domain.ErrNotFound)

	deleted, err := repo.DeleteAllNotifications(ctx, recipient)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	// A replay after the recipient cleared the row stays absorbed.
	replay := *n
	replay.ID = uuid.New()
	created, err = repo.CreateIfAbsent(ctx, &replay)
	require.NoError(t, err)
	assert.False(t, created)

	// Releasing the key by name lets the event notify again.
	require.NoError(t, repo.DeleteNotificationByKey(ctx, n.IdempotencyKey()))
	created, err = repo.CreateIfAbsent(ctx, &replay)
	require.NoError(t, err)
	assert.True(t, created)
}
