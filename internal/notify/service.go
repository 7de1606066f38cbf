package notify

import (
	"context"

	"realtime_core/internal/domain"

	"github.com/google/uuid"
)

type Inbox interface {
	ListNotifications(ctx context.Context, recipientID uuid.UUID) ([]domain.Notification, error)
	DeleteNotification(ctx context.Context, id, recipientID uuid.UUID) error
	DeleteAllNotifications(ctx context.Context, recipientID uuid.UUID) (int64, error)
	MarkNotificationRead(ctx context.Context, id, recipientID uuid.UUID) error
}

// Service is the recipient-facing side of notifications. Every operation is
// scoped to the caller's own rows.
type Service struct {
	inbox Inbox
}

func NewService(inbox Inbox) *Service {
	return &Service{inbox: inbox}
}

func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]domain.Notification, error) {
	return s.inbox.ListNotifications(ctx, userID)
}

func (s *Service) Delete(ctx context.Context, userID, id uuid.UUID) error {
	return s.inbox.DeleteNotification(ctx, id, userID)
}

func (s *Service) DeleteAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.inbox.DeleteAllNotifications(ctx, userID)
}

func (s *Service) MarkRead(ctx context.Context, userID, id uuid.UUID) error {
	return s.inbox.MarkNotificationRead(ctx, id, userID)
}
