package chat

import (
	"context"
	"fmt"
	"time"

	"realtime_core/internal/domain"
	"realtime_core/internal/events"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

type Store interface {
	GetUsers(ctx context.Context, ids []uuid.UUID) ([]domain.User, error)
	CreateOrReactivateRoom(ctx context.Context, room *domain.ChatRoom) (*domain.ChatRoom, bool, error)
	GetRoom(ctx context.Context, roomID uuid.UUID) (*domain.ChatRoom, error)
	ListRoomsForUser(ctx context.Context, userID uuid.UUID) ([]domain.ChatRoom, error)
	RemoveParticipant(ctx context.Context, roomID, userID uuid.UUID) (int, error)
	CreateMessage(ctx context.Context, msg *domain.Message) error
	ListMessages(ctx context.Context, roomID uuid.UUID) ([]domain.Message, error)
}

type ReadState interface {
	InitialReadState(ctx context.Context, room *domain.ChatRoom, senderID uuid.UUID) (bool, error)
	OnRoomEntry(ctx context.Context, roomID, userID uuid.UUID) (int64, error)
}

type Broadcaster interface {
	Broadcast(ctx context.Context, channel domain.ChannelKey, evt domain.GroupEvent) error
}

// Forgetter drops connection records of a destroyed room.
type Forgetter interface {
	Forget(ctx context.Context, channel domain.ChannelKey) error
}

type Service struct {
	store    Store
	reads    ReadState
	fanout   Broadcaster
	events   events.Publisher
	presence Forgetter
	log      *zap.Logger
	now      func() time.Time
}

func NewService(store Store, reads ReadState, fanout Broadcaster, publisher events.Publisher, presence Forgetter, log *zap.Logger) *Service {
	return &Service{
		store:    store,
		reads:    reads,
		fanout:   fanout,
		events:   publisher,
		presence: presence,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateRoom returns the 1:1 room between actor and otherID. The bool is
// false when an existing room was reused.
func (s *Service) CreateRoom(ctx context.Context, actorID, otherID uuid.UUID) (*domain.ChatRoom, bool, error) {
	if otherID == uuid.Nil || otherID == actorID {
		return nil, false, fmt.Errorf("a room needs two distinct participants: %w", domain.ErrBadRequest)
	}

	users, err := s.store.GetUsers(ctx, []uuid.UUID{actorID, otherID})
	if err != nil {
		return nil, false, err
	}
	names := lo.SliceToMap(users, func(u domain.User) (uuid.UUID, string) { return u.ID, u.Username })
	if _, ok := names[otherID]; !ok {
		return nil, false, fmt.Errorf("user %s: %w", otherID, domain.ErrNotFound)
	}
	if _, ok := names[actorID]; !ok {
		names[actorID] = actorID.String()
	}

	room := &domain.ChatRoom{
		ID:           uuid.New(),
		Name:         domain.RoomName(names[actorID], names[otherID]),
		RoomKey:      domain.RoomKey(actorID, otherID),
		Participants: []uuid.UUID{actorID, otherID},
		CreatedAt:    s.now(),
	}
	stored, created, err := s.store.CreateOrReactivateRoom(ctx, room)
	if err != nil {
		return nil, false, err
	}
	if created {
		s.log.Info("chat room created", zap.String("room_id", stored.ID.String()))
	}
	return stored, created, nil
}

func (s *Service) ListRooms(ctx context.Context, userID uuid.UUID) ([]domain.ChatRoom, error) {
	return s.store.ListRoomsForUser(ctx, userID)
}

// Room returns the room if userID participates in it. Non-members get
// ErrNotFound so room IDs do not leak.
func (s *Service) Room(ctx context.Context, roomID, userID uuid.UUID) (*domain.ChatRoom, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.HasParticipant(userID) {
		return nil, fmt.Errorf("room %s: %w", roomID, domain.ErrNotFound)
	}
	return room, nil
}

// EnterRoom is the REST room retrieve: it returns the room and marks
// everything the caller received as read.
func (s *Service) EnterRoom(ctx context.Context, roomID, userID uuid.UUID) (*domain.ChatRoom, error) {
	room, err := s.Room(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	if _, err := s.reads.OnRoomEntry(ctx, roomID, userID); err != nil {
		return nil, err
	}
	return room, nil
}

// LeaveRoom removes userID from the room. The room is destroyed when it
// becomes empty; the returned bool reports that.
func (s *Service) LeaveRoom(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	if _, err := s.Room(ctx, roomID, userID); err != nil {
		return false, err
	}
	remaining, err := s.store.RemoveParticipant(ctx, roomID, userID)
	if err != nil {
		return false, err
	}
	if remaining > 0 {
		return false, nil
	}

	if err := s.presence.Forget(ctx, domain.RoomChannel(roomID)); err != nil {
		s.log.Warn("failed to drop connection records of deleted room",
			zap.String("room_id", roomID.String()), zap.Error(err))
	}
	s.log.Info("chat room deleted", zap.String("room_id", roomID.String()))
	return true, nil
}

func (s *Service) ListMessages(ctx context.Context, roomID, userID uuid.UUID) ([]domain.Message, error) {
	if _, err := s.Room(ctx, roomID, userID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, roomID)
}

// SendMessage persists a message from senderID and fans it out to the room.
// Delivery problems are logged; only persistence failures are returned.
func (s *Service) SendMessage(ctx context.Context, roomID, senderID uuid.UUID, content, imageURL string) (*domain.Message, error) {
	room, err := s.Room(ctx, roomID, senderID)
	if err != nil {
		return nil, err
	}

	msg := &domain.Message{
		ID:       uuid.New(),
		RoomID:   roomID,
		SenderID: senderID,
		Content:  content,
		ImageURL: imageURL,
		SentAt:   s.now(),
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	msg.IsRead, err = s.reads.InitialReadState(ctx, room, senderID)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}

	log := s.log.With(zap.String("room_id", roomID.String()), zap.String("message_id", msg.ID.String()))

	evt, err := domain.NewChatMessageEvent(msg)
	if err != nil {
		log.Error("failed to encode chat message", zap.Error(err))
	} else if err := s.fanout.Broadcast(ctx, domain.RoomChannel(roomID), evt); err != nil {
		log.Warn("failed to broadcast chat message", zap.Error(err))
	}

	s.publishCreated(ctx, log, msg)
	return msg, nil
}

func (s *Service) publishCreated(ctx context.Context, log *zap.Logger, msg *domain.Message) {
	username := msg.SenderID.String()
	if users, err := s.store.GetUsers(ctx, []uuid.UUID{msg.SenderID}); err == nil && len(users) > 0 {
		username = users[0].Username
	}

	evt, err := domain.NewOutboxEvent(domain.EventTypeMessageCreated, domain.MessageCreated{
		Message:        *msg,
		SenderUsername: username,
	})
	if err != nil {
		log.Error("failed to build message event", zap.Error(err))
		return
	}
	if err := s.events.Publish(ctx, evt); err != nil {
		log.Warn("message event handling failed", zap.Error(err))
	}
}
