package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
}

// ChatRoom is a 1:1 conversation. RoomKey is the sorted pair of participant
// IDs and is unique across rooms.
type ChatRoom struct {
	ID           uuid.UUID   `json:"id"`
	Name         string      `json:"name"`
	RoomKey      string      `json:"-"`
	Participants []uuid.UUID `json:"participants"`
	CreatedAt    time.Time   `json:"created_at"`
}

func (r *ChatRoom) HasParticipant(userID uuid.UUID) bool {
	for _, p := range r.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Counterpart returns the other participant of the room, or uuid.Nil when the
// caller is alone in it.
func (r *ChatRoom) Counterpart(userID uuid.UUID) uuid.UUID {
	for _, p := range r.Participants {
		if p != userID {
			return p
		}
	}
	return uuid.Nil
}

// RoomKey is order-independent: RoomKey(a, b) == RoomKey(b, a).
func RoomKey(a, b uuid.UUID) string {
	ids := []string{a.String(), b.String()}
	sort.Strings(ids)
	return strings.Join(ids, "_")
}

// RoomName builds the display name from participant usernames.
func RoomName(usernames ...string) string {
	names := append([]string(nil), usernames...)
	sort.Strings(names)
	return strings.Join(names, ", ") + "'s chat"
}

type Message struct {
	ID       uuid.UUID `json:"id"`
	RoomID   uuid.UUID `json:"room_id"`
	SenderID uuid.UUID `json:"sender_id"`
	Content  string    `json:"content,omitempty"`
	ImageURL string    `json:"image,omitempty"`
	SentAt   time.Time `json:"sent_at"`
	IsRead   bool      `json:"is_read"`
}

func (m *Message) Validate() error {
	if strings.TrimSpace(m.Content) == "" && m.ImageURL == "" {
		return fmt.Errorf("message needs text or an image: %w", ErrBadRequest)
	}
	return nil
}

// ConnectionRecord is one open/close cycle of a user on a channel.
type ConnectionRecord struct {
	ID             uuid.UUID  `json:"id"`
	UserID         uuid.UUID  `json:"user_id"`
	Channel        ChannelKey `json:"channel"`
	NodeID         string     `json:"node_id"`
	ConnectedAt    time.Time  `json:"connected_at"`
	LastSeenAt     time.Time  `json:"last_seen_at"`
	DisconnectedAt *time.Time `json:"disconnected_at,omitempty"`
}

func (c *ConnectionRecord) Active() bool {
	return c.DisconnectedAt == nil
}

// ChannelKey names a fanout target: a chat room group or a user's private
// notification channel.
type ChannelKey string

func RoomChannel(roomID uuid.UUID) ChannelKey {
	return ChannelKey("chat_" + roomID.String())
}

func NotificationChannel(userID uuid.UUID) ChannelKey {
	return ChannelKey("user_" + userID.String() + "_notifications")
}

type NotificationType string

const (
	NotificationMessage NotificationType = "message"
	NotificationFollow  NotificationType = "follow"
	NotificationComment NotificationType = "comment"
	NotificationLike    NotificationType = "like"
)

type Notification struct {
	ID              uuid.UUID        `json:"id"`
	RecipientID     uuid.UUID        `json:"recipient_id"`
	SenderID        *uuid.UUID       `json:"sender_id,omitempty"`
	Type            NotificationType `json:"notification_type"`
	Message         string           `json:"message"`
	RelatedObjectID *uuid.UUID       `json:"related_object_id,omitempty"`
	// SubjectID is the row that triggered the notification (message, comment,
	// like or follow). It is part of the idempotency key.
	SubjectID uuid.UUID `json:"-"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

// IdempotencyKey is unique per notification row.
func (n *Notification) IdempotencyKey() string {
	sender := uuid.Nil
	if n.SenderID != nil {
		sender = *n.SenderID
	}
	return fmt.Sprintf("%s:%s:%s:%s", n.RecipientID, sender, n.Type, n.SubjectID)
}

type OutboxEvent struct {
	ID        uuid.UUID       `json:"id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

const (
	EventTypeMessageCreated = "MESSAGE_CREATED"
	EventTypeCommentCreated = "COMMENT_CREATED"
	EventTypeFollowCreated  = "FOLLOW_CREATED"
	EventTypeLikeCreated    = "LIKE_CREATED"
	EventTypeFollowDeleted  = "FOLLOW_DELETED"
)

type MessageCreated struct {
	Message        Message `json:"message"`
	SenderUsername string  `json:"sender_username"`
}

type CommentCreated struct {
	CommentID      uuid.UUID `json:"comment_id"`
	PostID         uuid.UUID `json:"post_id"`
	PostAuthorID   uuid.UUID `json:"post_author_id"`
	AuthorID       uuid.UUID `json:"author_id"`
	AuthorUsername string    `json:"author_username"`
}

type FollowCreated struct {
	FollowID         uuid.UUID `json:"follow_id"`
	FollowerID       uuid.UUID `json:"follower_id"`
	FollowerUsername string    `json:"follower_username"`
	FollowingID      uuid.UUID `json:"following_id"`
}

// FollowDeleted is an unfollow. It clears the pending follow notification so
// a later follow notifies again.
type FollowDeleted struct {
	FollowerID  uuid.UUID `json:"follower_id"`
	FollowingID uuid.UUID `json:"following_id"`
}

type LikeCreated struct {
	LikeID       uuid.UUID `json:"like_id"`
	PostID       uuid.UUID `json:"post_id"`
	PostAuthorID uuid.UUID `json:"post_author_id"`
	UserID       uuid.UUID `json:"user_id"`
	Username     string    `json:"username"`
}

// NewOutboxEvent wraps a typed payload in the event envelope.
func NewOutboxEvent(eventType string, payload interface{}) (*OutboxEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return &OutboxEvent{
		ID:        uuid.New(),
		EventType: eventType,
		Payload:   raw,
		CreatedAt: time.Now().UTC(),
	}, nil
}
