package presence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"realtime_core/internal/domain"

	"github.com/google/uuid"
)

// Repository stores connection records. Every open/close cycle is its own row.
type Repository interface {
	Insert(ctx context.Context, rec *domain.ConnectionRecord) error
	MarkDisconnected(ctx context.Context, recordID uuid.UUID, at time.Time) error
	Touch(ctx context.Context, recordID uuid.UUID, at time.Time) error
	// Latest returns the most recent record by connect time, or nil.
	Latest(ctx context.Context, userID uuid.UUID, channel domain.ChannelKey) (*domain.ConnectionRecord, error)
	// HasActive reports an open record; a non-zero seenSince also requires
	// last_seen_at >= seenSince.
	HasActive(ctx context.Context, userID uuid.UUID, channel domain.ChannelKey, seenSince time.Time) (bool, error)
	DeleteChannel(ctx context.Context, channel domain.ChannelKey) error
}

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, rec *domain.ConnectionRecord) error {
	query := `
		INSERT INTO connection_records (id, user_id, channel_key, node_id, connected_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $5)
	`
	_, err := r.db.ExecContext(ctx, query, rec.ID, rec.UserID, string(rec.Channel), rec.NodeID, rec.ConnectedAt)
	if err != nil {
		return fmt.Errorf("failed to insert connection record: %w", err)
	}
	return nil
}

func (r *PostgresRepository) MarkDisconnected(ctx context.Context, recordID uuid.UUID, at time.Time) error {
	query := `
		UPDATE connection_records
		SET disconnected_at = $2
		WHERE id = $1 AND disconnected_at IS NULL
	`
	_, err := r.db.ExecContext(ctx, query, recordID, at)
	if err != nil {
		return fmt.Errorf("failed to mark connection disconnected: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Touch(ctx context.Context, recordID uuid.UUID, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE connection_records SET last_seen_at = $2
		WHERE id = $1 AND disconnected_at IS NULL
	`, recordID, at)
	if err != nil {
		return fmt.Errorf("failed to touch connection record: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Latest(ctx context.Context, userID uuid.UUID, channel domain.ChannelKey) (*domain.ConnectionRecord, error) {
	query := `
		SELECT id, user_id, channel_key, node_id, connected_at, last_seen_at, disconnected_at
		FROM connection_records
		WHERE user_id = $1 AND channel_key = $2
		ORDER BY connected_at DESC
		LIMIT 1
	`
	var (
		rec          domain.ConnectionRecord
		channelKey   string
		disconnected sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, userID, string(channel)).Scan(
		&rec.ID, &rec.UserID, &channelKey, &rec.NodeID, &rec.ConnectedAt, &rec.LastSeenAt, &disconnected,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest connection record: %w", err)
	}
	rec.Channel = domain.ChannelKey(channelKey)
	if disconnected.Valid {
		t := disconnected.Time
		rec.DisconnectedAt = &t
	}
	return &rec, nil
}

func (r *PostgresRepository) HasActive(ctx context.Context, userID uuid.UUID, channel domain.ChannelKey, seenSince time.Time) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM connection_records
			WHERE user_id = $1 AND channel_key = $2
			  AND disconnected_at IS NULL
			  AND last_seen_at >= $3
		)
	`
	var exists bool
	err := r.db.QueryRowContext(ctx, query, userID, string(channel), seenSince).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check liveness: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) DeleteChannel(ctx context.Context, channel domain.ChannelKey) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM connection_records WHERE channel_key = $1`, string(channel))
	if err != nil {
		return fmt.Errorf("failed to delete connection records: %w", err)
	}
	return nil
}
