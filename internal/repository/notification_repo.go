package repository

import (
	"context"
	"database/sql"
	"fmt"

	"realtime_core/internal/domain"

	"github.com/google/uuid"
)

type NotificationRepository struct {
	db *sql.DB
}

func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// CreateIfAbsent reserves n's idempotency key and inserts n. A key that was
// ever reserved stays taken after the recipient deletes the row; only
// DeleteNotificationByKey releases it. It reports whether a row was written.
func (r *NotificationRepository) CreateIfAbsent(ctx context.Context, n *domain.Notification) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	key := n.IdempotencyKey()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO notification_keys (idempotency_key, created_at)
		VALUES ($1, $2)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, key, n.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to reserve notification key: %w", err)
	}
	reserved, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if reserved == 0 {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO notifications
			(id, recipient_id, sender_id, notification_type, message, related_object_id, idempotency_key, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, n.ID, n.RecipientID, n.SenderID, n.Type, n.Message, n.RelatedObjectID, key, n.IsRead, n.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert notification: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit notification: %w", err)
	}
	return true, nil
}

func (r *NotificationRepository) ListNotifications(ctx context.Context, recipientID uuid.UUID) ([]domain.Notification, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, recipient_id, sender_id, notification_type, message, related_object_id, is_read, created_at
		FROM notifications
		WHERE recipient_id = $1
		ORDER BY created_at DESC
	`, recipientID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch notifications: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Notification, 0)
	for rows.Next() {
		var n domain.Notification
		var sender, related uuid.NullUUID
		if err := rows.Scan(&n.ID, &n.RecipientID, &sender, &n.Type, &n.Message, &related, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, err
		}
		if sender.Valid {
			n.SenderID = &sender.UUID
		}
		if related.Valid {
			n.RelatedObjectID = &related.UUID
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *NotificationRepository) DeleteNotification(ctx context.Context, id, recipientID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM notifications WHERE id = $1 AND recipient_id = $2
	`, id, recipientID)
	if err != nil {
		return fmt.Errorf("failed to delete notification: %w", err)
	}
	return requireAffected(res, "notification", id)
}

func (r *NotificationRepository) DeleteAllNotifications(ctx context.Context, recipientID uuid.UUID) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM notifications WHERE recipient_id = $1`, recipientID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete notifications: %w", err)
	}
	return res.RowsAffected()
}

func (r *NotificationRepository) MarkNotificationRead(ctx context.Context, id, recipientID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE notifications SET is_read = TRUE WHERE id = $1 AND recipient_id = $2
	`, id, recipientID)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	return requireAffected(res, "notification", id)
}

// DeleteNotificationByKey removes the notification holding key, if any, and
// releases the key so the same event may notify again.
func (r *NotificationRepository) DeleteNotificationByKey(ctx context.Context, key string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM notifications WHERE idempotency_key = $1`, key); err != nil {
		return fmt.Errorf("failed to delete notification by key: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM notification_keys WHERE idempotency_key = $1`, key); err != nil {
		return fmt.Errorf("failed to release notification key: %w", err)
	}
	return tx.Commit()
}

func requireAffected(res sql.Result, what string, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, domain.ErrNotFound)
	}
	return nil
}
