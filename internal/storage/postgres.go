package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Interface guard
var _ Store = (*Postgres)(nil)

// Postgres keeps the gateway's documents in plain JSONB columns. The schema
// is intentionally flat: the gateway only ever does "store this record" and
// "fetch recent by key".
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Migrate creates the tables when missing. Idempotent, runs at startup.
func (p *Postgres) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id BIGSERIAL PRIMARY KEY,
			room TEXT,
			from_id TEXT,
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS calls (
			id BIGSERIAL PRIMARY KEY,
			call_id TEXT NOT NULL,
			from_id TEXT NOT NULL,
			to_id TEXT NOT NULL,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS room_members (
			room_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			PRIMARY KEY (room_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS user_status (
			user_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			last_seen TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT UNIQUE NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_room_created
			ON messages (room, created_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("storage: migrate: %w", err)
		}
	}
	return nil
}

func (p *Postgres) SaveMessage(ctx context.Context, rec *MessageRecord) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO messages (room, from_id, payload, created_at) VALUES ($1, $2, $3, $4)`,
		nullable(rec.Room), nullable(rec.From), rec.Payload, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: save message: %w", err)
	}
	return nil
}

func (p *Postgres) SaveCall(ctx context.Context, rec *CallRecord) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO calls (call_id, from_id, to_id, metadata, created_at) VALUES ($1, $2, $3, $4, $5)`,
		rec.CallID, rec.From, rec.To, rec.Metadata, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: save call: %w", err)
	}
	return nil
}

func (p *Postgres) AddRoomMember(ctx context.Context, roomID, userID string) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO room_members (room_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		roomID, userID,
	)
	if err != nil {
		return fmt.Errorf("storage: add room member: %w", err)
	}
	return nil
}

func (p *Postgres) RemoveRoomMember(ctx context.Context, roomID, userID string) error {
	_, err := p.pool.Exec(ctx,
		`DELETE FROM room_members WHERE room_id = $1 AND user_id = $2`,
		roomID, userID,
	)
	if err != nil {
		return fmt.Errorf("storage: remove room member: %w", err)
	}
	return nil
}

func (p *Postgres) UpdatePresence(ctx context.Context, userID, status string, lastSeen time.Time) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO user_status (user_id, status, last_seen) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE SET status = $2, last_seen = $3`,
		userID, status, lastSeen,
	)
	if err != nil {
		return fmt.Errorf("storage: update presence: %w", err)
	}
	return nil
}

func (p *Postgres) RecentMessages(ctx context.Context, room string, limit int) ([]*MessageRecord, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT room, from_id, payload, created_at FROM messages
		 WHERE room = $1 ORDER BY created_at DESC LIMIT $2`,
		room, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: recent messages: %w", err)
	}
	defer rows.Close()

	var out []*MessageRecord
	for rows.Next() {
		rec := &MessageRecord{}
		var roomID, from *string
		if err := rows.Scan(&roomID, &from, &rec.Payload, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan message: %w", err)
		}
		if roomID != nil {
			rec.Room = *roomID
		}
		if from != nil {
			rec.From = *from
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
