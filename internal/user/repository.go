package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the persistence contract the service consumes. Split out so
// tests can drop in an in-memory implementation.
type Repository interface {
	Create(ctx context.Context, u *User) error
	List(ctx context.Context) ([]*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	StatusOf(ctx context.Context, userID string) (*StatusEntry, error)
}

type pgRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

func (r *pgRepository) Create(ctx context.Context, u *User) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (name, email) VALUES ($1, $2) RETURNING id, created_at`,
		u.Name, u.Email,
	).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("user: create: %w", err)
	}
	return nil
}

func (r *pgRepository) List(ctx context.Context) ([]*User, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, email, created_at FROM users ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("user: list: %w", err)
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		u := &User{}
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("user: scan: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *pgRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	u := &User{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, email, created_at FROM users WHERE email = $1`,
		email,
	).Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user: get by email: %w", err)
	}
	return u, nil
}

func (r *pgRepository) StatusOf(ctx context.Context, userID string) (*StatusEntry, error) {
	s := &StatusEntry{UserID: userID}
	err := r.pool.QueryRow(ctx,
		`SELECT status, last_seen FROM user_status WHERE user_id = $1`,
		userID,
	).Scan(&s.Status, &s.LastSeen)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user: status of: %w", err)
	}
	return s, nil
}
