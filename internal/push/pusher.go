package push

import (
	"context"

	"realtime_core/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Liveness interface {
	IsLive(ctx context.Context, userID uuid.UUID, channel domain.ChannelKey) (bool, error)
}

type Broadcaster interface {
	Broadcast(ctx context.Context, channel domain.ChannelKey, evt domain.GroupEvent) error
}

// Pusher delivers stored notifications to the recipient's private channel
// when they have a live session on it. The stored row stays the source of
// truth, so every failure here is logged and dropped.
type Pusher struct {
	liveness Liveness
	fanout   Broadcaster
	log      *zap.Logger
}

func NewPusher(liveness Liveness, fanout Broadcaster, log *zap.Logger) *Pusher {
	return &Pusher{liveness: liveness, fanout: fanout, log: log}
}

// Push reports whether the notification was handed to the channel.
func (p *Pusher) Push(ctx context.Context, n *domain.Notification) bool {
	log := p.log.With(
		zap.String("recipient_id", n.RecipientID.String()),
		zap.String("notification_id", n.ID.String()))

	channel := domain.NotificationChannel(n.RecipientID)
	live, err := p.liveness.IsLive(ctx, n.RecipientID, channel)
	if err != nil {
		log.Warn("liveness lookup failed, skipping push", zap.Error(err))
		return false
	}
	if !live {
		return false
	}

	if err := p.fanout.Broadcast(ctx, channel, domain.NewNotificationEvent(n.Message)); err != nil {
		log.Warn("notification push failed", zap.Error(err))
		return false
	}
	return true
}
