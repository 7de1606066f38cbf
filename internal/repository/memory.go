package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"realtime_core/internal/domain"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// MemoryStore keeps users, rooms, messages and notifications in process. It
// backs single-node runs and tests.
type MemoryStore struct {
	mu sync.RWMutex

	users         map[uuid.UUID]domain.User
	rooms         map[uuid.UUID]*domain.ChatRoom
	roomsByKey    map[string]uuid.UUID
	messages      map[uuid.UUID][]*domain.Message
	notifications map[uuid.UUID]*domain.Notification
	notifKeys     map[string]uuid.UUID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[uuid.UUID]domain.User),
		rooms:         make(map[uuid.UUID]*domain.ChatRoom),
		roomsByKey:    make(map[string]uuid.UUID),
		messages:      make(map[uuid.UUID][]*domain.Message),
		notifications: make(map[uuid.UUID]*domain.Notification),
		notifKeys:     make(map[string]uuid.UUID),
	}
}

func (s *MemoryStore) UpsertUser(_ context.Context, u domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return nil
}

func (s *MemoryStore) GetUsers(_ context.Context, ids []uuid.UUID) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.User, 0, len(ids))
	for _, id := range lo.Uniq(ids) {
		if u, ok := s.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateOrReactivateRoom(_ context.Context, room *domain.ChatRoom) (*domain.ChatRoom, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.roomsByKey[room.RoomKey]; ok {
		existing := s.rooms[id]
		for _, p := range room.Participants {
			if !existing.HasParticipant(p) {
				existing.Participants = append(existing.Participants, p)
			}
		}
		return copyRoom(existing), false, nil
	}

	stored := copyRoom(room)
	s.rooms[stored.ID] = stored
	s.roomsByKey[stored.RoomKey] = stored.ID
	return copyRoom(stored), true, nil
}

func (s *MemoryStore) GetRoom(_ context.Context, roomID uuid.UUID) (*domain.ChatRoom, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("room %s: %w", roomID, domain.ErrNotFound)
	}
	return copyRoom(room), nil
}

func (s *MemoryStore) ListRoomsForUser(_ context.Context, userID uuid.UUID) ([]domain.ChatRoom, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ChatRoom, 0)
	for _, room := range s.rooms {
		if room.HasParticipant(userID) {
			out = append(out, *copyRoom(room))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) IsParticipant(_ context.Context, roomID, userID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[roomID]
	return ok && room.HasParticipant(userID), nil
}

func (s *MemoryStore) RemoveParticipant(_ context.Context, roomID, userID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return 0, fmt.Errorf("room %s: %w", roomID, domain.ErrNotFound)
	}
	room.Participants = lo.Without(room.Participants, userID)
	remaining := len(room.Participants)
	if remaining == 0 {
		delete(s.rooms, roomID)
		delete(s.roomsByKey, room.RoomKey)
		delete(s.messages, roomID)
	}
	return remaining, nil
}

func (s *MemoryStore) CreateMessage(_ context.Context, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[msg.RoomID]; !ok {
		return fmt.Errorf("room %s: %w", msg.RoomID, domain.ErrNotFound)
	}
	stored := *msg
	s.messages[msg.RoomID] = append(s.messages[msg.RoomID], &stored)
	return nil
}

func (s *MemoryStore) ListMessages(_ context.Context, roomID uuid.UUID) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Message, 0, len(s.messages[roomID]))
	for _, m := range s.messages[roomID] {
		out = append(out, *m)
	}
	return out, nil
}

func (s *MemoryStore) MarkRoomRead(_ context.Context, roomID, readerID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, m := range s.messages[roomID] {
		if !m.IsRead && m.SenderID != readerID {
			m.IsRead = true
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) MarkMessageRead(_ context.Context, roomID, messageID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.messages[roomID] {
		if m.ID != messageID {
			continue
		}
		if m.IsRead {
			return false, nil
		}
		m.IsRead = true
		return true, nil
	}
	return false, fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
}

func (s *MemoryStore) CreateIfAbsent(_ context.Context, n *domain.Notification) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := n.IdempotencyKey()
	if _, exists := s.notifKeys[key]; exists {
		return false, nil
	}
	stored := *n
	s.notifications[n.ID] = &stored
	s.notifKeys[key] = n.ID
	return true, nil
}

func (s *MemoryStore) ListNotifications(_ context.Context, recipientID uuid.UUID) ([]domain.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Notification, 0)
	for _, n := range s.notifications {
		if n.RecipientID == recipientID {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) DeleteNotification(_ context.Context, id, recipientID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok || n.RecipientID != recipientID {
		return fmt.Errorf("notification %s: %w", id, domain.ErrNotFound)
	}
	// The key stays reserved.
	delete(s.notifications, id)
	return nil
}

func (s *MemoryStore) DeleteAllNotifications(_ context.Context, recipientID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, n := range s.notifications {
		if n.RecipientID == recipientID {
			delete(s.notifications, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemoryStore) MarkNotificationRead(_ context.Context, id, recipientID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok || n.RecipientID != recipientID {
		return fmt.Errorf("notification %s: %w", id, domain.ErrNotFound)
	}
	n.IsRead = true
	return nil
}

func copyRoom(r *domain.ChatRoom) *domain.ChatRoom {
	out := *r
	out.Participants = append([]uuid.UUID(nil), r.Participants...)
	return &out
}

func (s *MemoryStore) DeleteNotificationByKey(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.notifKeys[key]; ok {
		delete(s.notifications, id)
		delete(s.notifKeys, key)
	}
	return nil
}
