package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"realtime_core/internal/domain"
	"realtime_core/internal/events"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Store interface {
	CreateIfAbsent(ctx context.Context, n *domain.Notification) (bool, error)
	DeleteNotificationByKey(ctx context.Context, key string) error
}

type Rooms interface {
	GetRoom(ctx context.Context, roomID uuid.UUID) (*domain.ChatRoom, error)
}

type Presence interface {
	IsLive(ctx context.Context, userID uuid.UUID, channel domain.ChannelKey) (bool, error)
	WasLiveAt(ctx context.Context, userID uuid.UUID, channel domain.ChannelKey, t time.Time) (bool, error)
}

type Pusher interface {
	Push(ctx context.Context, n *domain.Notification) bool
}

// Subscriber is where the dispatcher registers its handlers.
type Subscriber interface {
	Subscribe(eventType string, h events.Handler)
}

// Dispatcher turns domain events into notifications. Each event produces at
// most one notification per recipient; replays are absorbed by the store's
// idempotency key.
type Dispatcher struct {
	store    Store
	rooms    Rooms
	presence Presence
	pusher   Pusher
	log      *zap.Logger
	now      func() time.Time
}

func NewDispatcher(store Store, rooms Rooms, presence Presence, pusher Pusher, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		store:    store,
		rooms:    rooms,
		presence: presence,
		pusher:   pusher,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (d *Dispatcher) Register(sub Subscriber) {
	sub.Subscribe(domain.EventTypeMessageCreated, d.handleMessageCreated)
	sub.Subscribe(domain.EventTypeCommentCreated, d.handleCommentCreated)
	sub.Subscribe(domain.EventTypeFollowCreated, d.handleFollowCreated)
	sub.Subscribe(domain.EventTypeFollowDeleted, d.handleFollowDeleted)
	sub.Subscribe(domain.EventTypeLikeCreated, d.handleLikeCreated)
}

func decode(evt *domain.OutboxEvent, v interface{}) error {
	if err := json.Unmarshal(evt.Payload, v); err != nil {
		return fmt.Errorf("%s payload: %v: %w", evt.EventType, err, domain.ErrBadRequest)
	}
	return nil
}

func (d *Dispatcher) handleMessageCreated(ctx context.Context, evt *domain.OutboxEvent) error {
	var p domain.MessageCreated
	if err := decode(evt, &p); err != nil {
		return err
	}
	msg := p.Message

	room, err := d.rooms.GetRoom(ctx, msg.RoomID)
	if errors.Is(err, domain.ErrNotFound) {
		d.log.Debug("room gone before notification", zap.String("room_id", msg.RoomID.String()))
		return nil
	}
	if err != nil {
		return err
	}

	channel := domain.RoomChannel(room.ID)
	var errs []error
	for _, recipient := range room.Participants {
		if recipient == msg.SenderID {
			continue
		}
		present, err := d.presentFor(ctx, recipient, channel, msg.SentAt)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if present {
			continue
		}

		messageID := msg.ID
		sender := msg.SenderID
		_, err = d.deliver(ctx, &domain.Notification{
			RecipientID:     recipient,
			SenderID:        &sender,
			Type:            domain.NotificationMessage,
			Message:         fmt.Sprintf("%s sent you a new message.", p.SenderUsername),
			RelatedObjectID: &messageID,
			SubjectID:       msg.ID,
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// presentFor reports whether recipient saw the message through the room
// itself: still connected, or disconnected no earlier than sentAt.
func (d *Dispatcher) presentFor(ctx context.Context, recipient uuid.UUID, channel domain.ChannelKey, sentAt time.Time) (bool, error) {
	live, err := d.presence.IsLive(ctx, recipient, channel)
	if err != nil || live {
		return live, err
	}
	return d.presence.WasLiveAt(ctx, recipient, channel, sentAt)
}

func (d *Dispatcher) handleCommentCreated(ctx context.Context, evt *domain.OutboxEvent) error {
	var p domain.CommentCreated
	if err := decode(evt, &p); err != nil {
		return err
	}
	postID, sender := p.PostID, p.AuthorID
	_, err := d.deliver(ctx, &domain.Notification{
		RecipientID:     p.PostAuthorID,
		SenderID:        &sender,
		Type:            domain.NotificationComment,
		Message:         fmt.Sprintf("%s commented on your post.", p.AuthorUsername),
		RelatedObjectID: &postID,
		SubjectID:       p.CommentID,
	})
	return err
}

func (d *Dispatcher) handleFollowCreated(ctx context.Context, evt *domain.OutboxEvent) error {
	var p domain.FollowCreated
	if err := decode(evt, &p); err != nil {
		return err
	}
	_, err := d.deliver(ctx, followNotification(p.FollowingID, p.FollowerID, p.FollowerUsername))
	return err
}

func (d *Dispatcher) handleFollowDeleted(ctx context.Context, evt *domain.OutboxEvent) error {
	var p domain.FollowDeleted
	if err := decode(evt, &p); err != nil {
		return err
	}
	n := followNotification(p.FollowingID, p.FollowerID, "")
	return d.store.DeleteNotificationByKey(ctx, n.IdempotencyKey())
}

// Follow notifications carry no subject: one per follower pair until the
// follow is removed.
func followNotification(recipient, follower uuid.UUID, username string) *domain.Notification {
	return &domain.Notification{
		RecipientID: recipient,
		SenderID:    &follower,
		Type:        domain.NotificationFollow,
		Message:     fmt.Sprintf("%s started following you.", username),
	}
}

func (d *Dispatcher) handleLikeCreated(ctx context.Context, evt *domain.OutboxEvent) error {
	var p domain.LikeCreated
	if err := decode(evt, &p); err != nil {
		return err
	}
	postID, sender := p.PostID, p.UserID
	_, err := d.deliver(ctx, &domain.Notification{
		RecipientID:     p.PostAuthorID,
		SenderID:        &sender,
		Type:            domain.NotificationLike,
		Message:         fmt.Sprintf("%s liked your post.", p.Username),
		RelatedObjectID: &postID,
		SubjectID:       p.PostID,
	})
	return err
}

// deliver stores n unless it targets its own sender or already exists, and
// pushes it when it was stored.
func (d *Dispatcher) deliver(ctx context.Context, n *domain.Notification) (bool, error) {
	if n.RecipientID == uuid.Nil {
		return false, fmt.Errorf("notification without recipient: %w", domain.ErrBadRequest)
	}
	if n.SenderID != nil && *n.SenderID == n.RecipientID {
		return false, nil
	}

	n.ID = uuid.New()
	n.CreatedAt = d.now()
	created, err := d.store.CreateIfAbsent(ctx, n)
	if err != nil {
		return false, err
	}
	if !created {
		d.log.Debug("duplicate notification skipped",
			zap.String("type", string(n.Type)), zap.String("recipient_id", n.RecipientID.String()))
		return false, nil
	}

	d.pusher.Push(ctx, n)
	return true, nil
}
