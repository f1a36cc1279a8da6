package storage

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
)

// Interface guard
var _ Store = (*BreakerStore)(nil)

// BreakerStore wraps a Store in a circuit breaker. Persistence is best-effort
// by contract; a dead store should fail fast at the call site instead of
// making every envelope wait out a connection timeout.
type BreakerStore struct {
	next Store
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerStore(next Store) *BreakerStore {
	return &BreakerStore{
		next: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "store",
			Timeout: 15 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

func (b *BreakerStore) exec(fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	return err
}

func (b *BreakerStore) SaveMessage(ctx context.Context, rec *MessageRecord) error {
	return b.exec(func() error { return b.next.SaveMessage(ctx, rec) })
}

func (b *BreakerStore) SaveCall(ctx context.Context, rec *CallRecord) error {
	return b.exec(func() error { return b.next.SaveCall(ctx, rec) })
}

func (b *BreakerStore) AddRoomMember(ctx context.Context, roomID, userID string) error {
	return b.exec(func() error { return b.next.AddRoomMember(ctx, roomID, userID) })
}

func (b *BreakerStore) RemoveRoomMember(ctx context.Context, roomID, userID string) error {
	return b.exec(func() error { return b.next.RemoveRoomMember(ctx, roomID, userID) })
}

func (b *BreakerStore) UpdatePresence(ctx context.Context, userID, status string, lastSeen time.Time) error {
	return b.exec(func() error { return b.next.UpdatePresence(ctx, userID, status, lastSeen) })
}

func (b *BreakerStore) RecentMessages(ctx context.Context, room string, limit int) ([]*MessageRecord, error) {
	res, err := b.cb.Execute(func() (any, error) {
		return b.next.RecentMessages(ctx, room, limit)
	})
	if err != nil {
		return nil, err
	}
	return res.([]*MessageRecord), nil
}

// Healthy reports whether the breaker currently admits calls.
func (b *BreakerStore) Healthy() bool {
	return b.cb.State() != gobreaker.StateOpen
}
