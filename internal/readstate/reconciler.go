package readstate

import (
	"context"
	"fmt"

	"realtime_core/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Store interface {
	MarkRoomRead(ctx context.Context, roomID, readerID uuid.UUID) (int64, error)
	MarkMessageRead(ctx context.Context, roomID, messageID uuid.UUID) (bool, error)
}

type Liveness interface {
	IsLive(ctx context.Context, userID uuid.UUID, channel domain.ChannelKey) (bool, error)
}

type Broadcaster interface {
	Broadcast(ctx context.Context, channel domain.ChannelKey, evt domain.GroupEvent) error
}

// Reconciler owns every is_read transition. Transitions only ever go from
// unread to read.
type Reconciler struct {
	store    Store
	liveness Liveness
	fanout   Broadcaster
	log      *zap.Logger
}

func NewReconciler(store Store, liveness Liveness, fanout Broadcaster, log *zap.Logger) *Reconciler {
	return &Reconciler{store: store, liveness: liveness, fanout: fanout, log: log}
}

// InitialReadState reports whether a message from senderID is read on
// creation, which is the case when the other participant is live in the room.
func (r *Reconciler) InitialReadState(ctx context.Context, room *domain.ChatRoom, senderID uuid.UUID) (bool, error) {
	recipient := room.Counterpart(senderID)
	if recipient == uuid.Nil {
		return false, nil
	}
	live, err := r.liveness.IsLive(ctx, recipient, domain.RoomChannel(room.ID))
	if err != nil {
		return false, fmt.Errorf("failed to check recipient liveness: %w", err)
	}
	return live, nil
}

// OnRoomEntry marks everything the entering user has received as read.
func (r *Reconciler) OnRoomEntry(ctx context.Context, roomID, userID uuid.UUID) (int64, error) {
	n, err := r.store.MarkRoomRead(ctx, roomID, userID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.log.Debug("marked room read",
			zap.String("room_id", roomID.String()), zap.String("user_id", userID.String()), zap.Int64("count", n))
	}
	return n, nil
}

// Acknowledge marks one message read and tells the room about it. The event
// goes out even when the message was already read.
func (r *Reconciler) Acknowledge(ctx context.Context, roomID, messageID uuid.UUID) error {
	if _, err := r.store.MarkMessageRead(ctx, roomID, messageID); err != nil {
		return err
	}
	if err := r.fanout.Broadcast(ctx, domain.RoomChannel(roomID), domain.NewMessageReadEvent(messageID)); err != nil {
		r.log.Warn("failed to broadcast read receipt",
			zap.String("room_id", roomID.String()), zap.String("message_id", messageID.String()), zap.Error(err))
	}
	return nil
}
