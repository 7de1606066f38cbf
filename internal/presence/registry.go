package presence

import (
	"context"
	"time"

	"realtime_core/internal/domain"

	"github.com/google/uuid"
)

// Handle identifies one open session in the registry.
type Handle struct {
	RecordID uuid.UUID
	UserID   uuid.UUID
	Channel  domain.ChannelKey
}

// Registry answers liveness questions over connection records.
//
// With a zero ttl an open record counts as live until it is closed, which
// means a process that dies without closing leaves the user live forever.
// A positive ttl additionally requires a heartbeat within ttl.
type Registry struct {
	repo   Repository
	nodeID string
	ttl    time.Duration
	now    func() time.Time
}

func NewRegistry(repo Repository, nodeID string, ttl time.Duration) *Registry {
	return &Registry{
		repo:   repo,
		nodeID: nodeID,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *Registry) Open(ctx context.Context, userID uuid.UUID, channel domain.ChannelKey) (Handle, error) {
	now := r.now()
	rec := &domain.ConnectionRecord{
		ID:          uuid.New(),
		UserID:      userID,
		Channel:     channel,
		NodeID:      r.nodeID,
		ConnectedAt: now,
		LastSeenAt:  now,
	}
	if err := r.repo.Insert(ctx, rec); err != nil {
		return Handle{}, err
	}
	return Handle{RecordID: rec.ID, UserID: userID, Channel: channel}, nil
}

func (r *Registry) Close(ctx context.Context, h Handle) error {
	return r.repo.MarkDisconnected(ctx, h.RecordID, r.now())
}

// Heartbeat refreshes last_seen_at; it only matters when a ttl is set.
func (r *Registry) Heartbeat(ctx context.Context, h Handle) error {
	return r.repo.Touch(ctx, h.RecordID, r.now())
}

func (r *Registry) IsLive(ctx context.Context, userID uuid.UUID, channel domain.ChannelKey) (bool, error) {
	return r.repo.HasActive(ctx, userID, channel, r.seenSince())
}

func (r *Registry) LatestRecord(ctx context.Context, userID uuid.UUID, channel domain.ChannelKey) (*domain.ConnectionRecord, error) {
	return r.repo.Latest(ctx, userID, channel)
}

// WasLiveAt reports whether the user's latest session on channel was still
// open at t. No record at all means not live.
func (r *Registry) WasLiveAt(ctx context.Context, userID uuid.UUID, channel domain.ChannelKey, t time.Time) (bool, error) {
	rec, err := r.repo.Latest(ctx, userID, channel)
	if err != nil || rec == nil {
		return false, err
	}
	if rec.DisconnectedAt == nil {
		return !r.stale(rec), nil
	}
	return !rec.DisconnectedAt.Before(t), nil
}

func (r *Registry) Forget(ctx context.Context, channel domain.ChannelKey) error {
	return r.repo.DeleteChannel(ctx, channel)
}

func (r *Registry) seenSince() time.Time {
	if r.ttl <= 0 {
		return time.Time{}
	}
	return r.now().Add(-r.ttl)
}

func (r *Registry) stale(rec *domain.ConnectionRecord) bool {
	return r.ttl > 0 && rec.LastSeenAt.Before(r.seenSince())
}
