package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the hot message-history window consumed by the dispatcher.
type Cache interface {
	Push(ctx context.Context, room string, frame []byte) error
	Recent(ctx context.Context, room string, count int) ([][]byte, error)
}

// SessionStore mirrors presence into a shared keyspace so non-gateway
// services can read liveness without holding a socket.
type SessionStore interface {
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string) error
}

var (
	_ Cache        = (*MessageCache)(nil)
	_ SessionStore = (*Sessions)(nil)
)

// MessageCache keeps the last N frames per room in a capped Redis list, so a
// freshly joined client can be replayed recent history without a store
// round-trip.
type MessageCache struct {
	client redis.UniversalClient
	max    int
}

func NewMessageCache(client redis.UniversalClient, max int) *MessageCache {
	return &MessageCache{client: client, max: max}
}

func roomMessagesKey(room string) string { return "room:messages:" + room }

// Push prepends a frame to the room's history and trims it to the cap.
func (c *MessageCache) Push(ctx context.Context, room string, frame []byte) error {
	key := roomMessagesKey(room)
	pipe := c.client.TxPipeline()
	pipe.LPush(ctx, key, frame)
	pipe.LTrim(ctx, key, 0, int64(c.max-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("storage: cache push: %w", err)
	}
	return nil
}

// Recent returns up to count frames, newest first.
func (c *MessageCache) Recent(ctx context.Context, room string, count int) ([][]byte, error) {
	raw, err := c.client.LRange(ctx, roomMessagesKey(room), 0, int64(count-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("storage: cache range: %w", err)
	}
	out := make([][]byte, 0, len(raw))
	for _, s := range raw {
		out = append(out, []byte(s))
	}
	return out, nil
}

// Sessions mirrors per-user presence into Redis with a TTL, so sibling
// services can answer "is this user online" without asking a gateway. The
// local tracker stays authoritative; this mirror is best-effort.
type Sessions struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewSessions(client redis.UniversalClient, ttl time.Duration) *Sessions {
	return &Sessions{client: client, ttl: ttl}
}

func presenceKey(userID string) string { return "presence:" + userID }

func (s *Sessions) SetOnline(ctx context.Context, userID string) error {
	return s.client.Set(ctx, presenceKey(userID), "online", s.ttl).Err()
}

func (s *Sessions) SetOffline(ctx context.Context, userID string) error {
	return s.client.Del(ctx, presenceKey(userID)).Err()
}
