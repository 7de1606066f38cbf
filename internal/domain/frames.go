package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	GroupEventChatMessage  = "chat_message"
	GroupEventMessageRead  = "message_read"
	GroupEventNotification = "send_notification"
)

// GroupEvent is what travels through a channel group. Frame renders it into
// the JSON a client receives.
type GroupEvent struct {
	Type         string          `json:"type"`
	Message      json.RawMessage `json:"message,omitempty"`
	MessageID    string          `json:"message_id,omitempty"`
	IsRead       bool            `json:"is_read,omitempty"`
	SenderID     uuid.UUID       `json:"sender_id,omitempty"`
	Notification string          `json:"notification,omitempty"`
}

// ChatMessageFrame carries the text in message; the rest of the stored
// message travels under its own keys.
type ChatMessageFrame struct {
	Message   string    `json:"message"`
	MessageID string    `json:"message_id"`
	Status    string    `json:"status"`
	SenderID  uuid.UUID `json:"sender_id"`
	Image     string    `json:"image,omitempty"`
	IsRead    bool      `json:"is_read"`
	SentAt    time.Time `json:"sent_at"`
}

type MessageReadFrame struct {
	MessageID string `json:"message_id"`
	IsRead    bool   `json:"is_read"`
	Status    string `json:"status"`
}

type NotificationFrame struct {
	Notification string `json:"notification"`
}

// InboundFrame is the only shape a chat client may send.
type InboundFrame struct {
	Message   *string `json:"message" validate:"omitempty,max=4000"`
	MessageID *string `json:"message_id"`
}

func NewChatMessageEvent(msg *Message) (GroupEvent, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return GroupEvent{}, err
	}
	return GroupEvent{
		Type:      GroupEventChatMessage,
		Message:   raw,
		MessageID: msg.ID.String(),
		SenderID:  msg.SenderID,
	}, nil
}

func NewMessageReadEvent(messageID uuid.UUID) GroupEvent {
	return GroupEvent{Type: GroupEventMessageRead, MessageID: messageID.String(), IsRead: true}
}

func NewNotificationEvent(text string) GroupEvent {
	return GroupEvent{Type: GroupEventNotification, Notification: text}
}

func (e GroupEvent) Frame() ([]byte, error) {
	switch e.Type {
	case GroupEventChatMessage:
		var msg Message
		if err := json.Unmarshal(e.Message, &msg); err != nil {
			return nil, err
		}
		return json.Marshal(ChatMessageFrame{
			Message:   msg.Content,
			MessageID: e.MessageID,
			Status:    "received",
			SenderID:  msg.SenderID,
			Image:     msg.ImageURL,
			IsRead:    msg.IsRead,
			SentAt:    msg.SentAt,
		})
	case GroupEventMessageRead:
		return json.Marshal(MessageReadFrame{MessageID: e.MessageID, IsRead: e.IsRead, Status: "read"})
	default:
		return json.Marshal(NotificationFrame{Notification: e.Notification})
	}
}

// GroupEnvelope is a group event addressed to a channel, as carried by a
// cross-process transport.
type GroupEnvelope struct {
	Channel ChannelKey `json:"channel"`
	Event   GroupEvent `json:"event"`
}
