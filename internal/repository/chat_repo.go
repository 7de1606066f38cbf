package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"realtime_core/internal/domain"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/samber/lo"
)

type ChatRepository struct {
	db *sql.DB
}

func NewChatRepository(db *sql.DB) *ChatRepository {
	return &ChatRepository{db: db}
}

func (r *ChatRepository) UpsertUser(ctx context.Context, u domain.User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, username) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username
	`, u.ID, u.Username)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

func (r *ChatRepository) GetUsers(ctx context.Context, ids []uuid.UUID) ([]domain.User, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, username FROM users WHERE id = ANY($1::uuid[])
	`, pq.Array(uuidStrings(ids)))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch users: %w", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Username); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// CreateOrReactivateRoom returns the room for room.RoomKey, creating it when
// absent. An existing room gets any missing participants re-added.
func (r *ChatRepository) CreateOrReactivateRoom(ctx context.Context, room *domain.ChatRoom) (*domain.ChatRoom, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO chat_rooms (id, name, room_key, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (room_key) DO NOTHING
	`, room.ID, room.Name, room.RoomKey, room.CreatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert room: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	var stored domain.ChatRoom
	err = tx.QueryRowContext(ctx, `
		SELECT id, name, room_key, created_at FROM chat_rooms WHERE room_key = $1 FOR UPDATE
	`, room.RoomKey).Scan(&stored.ID, &stored.Name, &stored.RoomKey, &stored.CreatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load room: %w", err)
	}

	for _, userID := range room.Participants {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chat_room_participants (room_id, user_id) VALUES ($1, $2)
			ON CONFLICT (room_id, user_id) DO NOTHING
		`, stored.ID, userID); err != nil {
			return nil, false, fmt.Errorf("failed to add participant: %w", err)
		}
	}

	stored.Participants, err = participantsTx(ctx, tx, stored.ID)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return &stored, inserted > 0, nil
}

func (r *ChatRepository) GetRoom(ctx context.Context, roomID uuid.UUID) (*domain.ChatRoom, error) {
	var room domain.ChatRoom
	var participants pq.StringArray
	err := r.db.QueryRowContext(ctx, `
		SELECT cr.id, cr.name, cr.room_key, cr.created_at,
		       COALESCE(array_agg(p.user_id::text) FILTER (WHERE p.user_id IS NOT NULL), '{}')
		FROM chat_rooms cr
		LEFT JOIN chat_room_participants p ON p.room_id = cr.id
		WHERE cr.id = $1
		GROUP BY cr.id
	`, roomID).Scan(&room.ID, &room.Name, &room.RoomKey, &room.CreatedAt, &participants)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("room %s: %w", roomID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch room: %w", err)
	}
	room.Participants = parseUUIDs(participants)
	return &room, nil
}

func (r *ChatRepository) ListRoomsForUser(ctx context.Context, userID uuid.UUID) ([]domain.ChatRoom, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT cr.id, cr.name, cr.room_key, cr.created_at,
		       array_agg(p.user_id::text)
		FROM chat_rooms cr
		JOIN chat_room_participants p ON p.room_id = cr.id
		WHERE cr.id IN (SELECT room_id FROM chat_room_participants WHERE user_id = $1)
		GROUP BY cr.id
		ORDER BY cr.created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch rooms: %w", err)
	}
	defer rows.Close()

	rooms := make([]domain.ChatRoom, 0)
	for rows.Next() {
		var room domain.ChatRoom
		var participants pq.StringArray
		if err := rows.Scan(&room.ID, &room.Name, &room.RoomKey, &room.CreatedAt, &participants); err != nil {
			return nil, err
		}
		room.Participants = parseUUIDs(participants)
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

func (r *ChatRepository) IsParticipant(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM chat_room_participants WHERE room_id = $1 AND user_id = $2)
	`, roomID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check participant: %w", err)
	}
	return exists, nil
}

// RemoveParticipant drops userID from the room and deletes the room once
// nobody is left. Messages go with it through the foreign key cascade.
func (r *ChatRepository) RemoveParticipant(ctx context.Context, roomID, userID uuid.UUID) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var locked uuid.UUID
	err = tx.QueryRowContext(ctx, `SELECT id FROM chat_rooms WHERE id = $1 FOR UPDATE`, roomID).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("room %s: %w", roomID, domain.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to lock room: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM chat_room_participants WHERE room_id = $1 AND user_id = $2
	`, roomID, userID); err != nil {
		return 0, fmt.Errorf("failed to remove participant: %w", err)
	}

	var remaining int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM chat_room_participants WHERE room_id = $1
	`, roomID).Scan(&remaining); err != nil {
		return 0, err
	}
	if remaining == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chat_rooms WHERE id = $1`, roomID); err != nil {
			return 0, fmt.Errorf("failed to delete room: %w", err)
		}
	}
	return remaining, tx.Commit()
}

func (r *ChatRepository) CreateMessage(ctx context.Context, msg *domain.Message) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (id, room_id, sender_id, content, image_url, sent_at, is_read)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, msg.ID, msg.RoomID, msg.SenderID, msg.Content, msg.ImageURL, msg.SentAt, msg.IsRead)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return fmt.Errorf("room %s: %w", msg.RoomID, domain.ErrNotFound)
		}
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (r *ChatRepository) ListMessages(ctx context.Context, roomID uuid.UUID) ([]domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, room_id, sender_id, content, image_url, sent_at, is_read
		FROM messages
		WHERE room_id = $1
		ORDER BY sent_at ASC
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	defer rows.Close()

	messages := make([]domain.Message, 0)
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Content, &m.ImageURL, &m.SentAt, &m.IsRead); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// MarkRoomRead flips every unread message not sent by readerID in a single
// guarded statement, so concurrent callers never double count.
func (r *ChatRepository) MarkRoomRead(ctx context.Context, roomID, readerID uuid.UUID) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages SET is_read = TRUE
		WHERE room_id = $1 AND sender_id <> $2 AND is_read = FALSE
	`, roomID, readerID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark room read: %w", err)
	}
	return res.RowsAffected()
}

// MarkMessageRead reports whether this call flipped the flag. A message that
// is not in the room is ErrNotFound.
func (r *ChatRepository) MarkMessageRead(ctx context.Context, roomID, messageID uuid.UUID) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages SET is_read = TRUE
		WHERE id = $1 AND room_id = $2 AND is_read = FALSE
	`, messageID, roomID)
	if err != nil {
		return false, fmt.Errorf("failed to mark message read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM messages WHERE id = $1 AND room_id = $2)
	`, messageID, roomID).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
	}
	return false, nil
}

func participantsTx(ctx context.Context, tx *sql.Tx, roomID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := tx.QueryContext(ctx, `SELECT user_id FROM chat_room_participants WHERE room_id = $1`, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch participants: %w", err)
	}
	defer rows.Close()

	var members []uuid.UUID
	for rows.Next() {
		var userID uuid.UUID
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		members = append(members, userID)
	}
	return members, rows.Err()
}

func uuidStrings(ids []uuid.UUID) []string {
	return lo.Map(ids, func(id uuid.UUID, _ int) string { return id.String() })
}

func parseUUIDs(raw []string) []uuid.UUID {
	return lo.FilterMap(raw, func(s string, _ int) (uuid.UUID, bool) {
		id, err := uuid.Parse(s)
		return id, err == nil
	})
}
