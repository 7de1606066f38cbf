package presence

import (
	"context"
	"sync"
	"time"

	"realtime_core/internal/domain"

	"github.com/google/uuid"
)

type pairKey struct {
	user    uuid.UUID
	channel domain.ChannelKey
}

// MemoryRepository keeps records per (user, channel) in connect order.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[pairKey][]*domain.ConnectionRecord
	byID    map[uuid.UUID]*domain.ConnectionRecord
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		records: make(map[pairKey][]*domain.ConnectionRecord),
		byID:    make(map[uuid.UUID]*domain.ConnectionRecord),
	}
}

func (r *MemoryRepository) Insert(_ context.Context, rec *domain.ConnectionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *rec
	if stored.LastSeenAt.IsZero() {
		stored.LastSeenAt = stored.ConnectedAt
	}
	k := pairKey{user: rec.UserID, channel: rec.Channel}
	r.records[k] = append(r.records[k], &stored)
	r.byID[rec.ID] = &stored
	return nil
}

func (r *MemoryRepository) MarkDisconnected(_ context.Context, recordID uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.byID[recordID]; ok && rec.DisconnectedAt == nil {
		t := at
		rec.DisconnectedAt = &t
		r.prune(pairKey{user: rec.UserID, channel: rec.Channel})
	}
	return nil
}

// prune keeps every open record for k plus the closed one that connected
// last. Latest and HasActive never look at anything older.
func (r *MemoryRepository) prune(k pairKey) {
	recs := r.records[k]
	var newest *domain.ConnectionRecord
	for _, rec := range recs {
		if rec.DisconnectedAt != nil && (newest == nil || !rec.ConnectedAt.Before(newest.ConnectedAt)) {
			newest = rec
		}
	}
	kept := recs[:0]
	for _, rec := range recs {
		if rec.DisconnectedAt == nil || rec == newest {
			kept = append(kept, rec)
			continue
		}
		delete(r.byID, rec.ID)
	}
	for i := len(kept); i < len(recs); i++ {
		recs[i] = nil
	}
	r.records[k] = kept
}

func (r *MemoryRepository) count(userID uuid.UUID, channel domain.ChannelKey) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records[pairKey{user: userID, channel: channel}])
}

func (r *MemoryRepository) Touch(_ context.Context, recordID uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.byID[recordID]; ok && rec.DisconnectedAt == nil {
		rec.LastSeenAt = at
	}
	return nil
}

func (r *MemoryRepository) Latest(_ context.Context, userID uuid.UUID, channel domain.ChannelKey) (*domain.ConnectionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *domain.ConnectionRecord
	for _, rec := range r.records[pairKey{user: userID, channel: channel}] {
		if latest == nil || !rec.ConnectedAt.Before(latest.ConnectedAt) {
			latest = rec
		}
	}
	if latest == nil {
		return nil, nil
	}
	out := *latest
	return &out, nil
}

func (r *MemoryRepository) HasActive(_ context.Context, userID uuid.UUID, channel domain.ChannelKey, seenSince time.Time) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rec := range r.records[pairKey{user: userID, channel: channel}] {
		if rec.DisconnectedAt == nil && !rec.LastSeenAt.Before(seenSince) {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepository) DeleteChannel(_ context.Context, channel domain.ChannelKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for k, recs := range r.records {
		if k.channel != channel {
			continue
		}
		for _, rec := range recs {
			delete(r.byID, rec.ID)
		}
		delete(r.records, k)
	}
	return nil
}
