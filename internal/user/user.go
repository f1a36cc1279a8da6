// Package user is the gateway's minimal user directory: profile records in
// Postgres plus the live status view assembled from the presence store.
package user

import (
	"errors"
	"time"
)

var (
	ErrNotFound       = errors.New("user: not found")
	ErrDuplicateEmail = errors.New("user: email already registered")
	ErrInvalid        = errors.New("user: name and email are required")
)

// User is one directory entry.
type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// StatusEntry is the stored presence row for a user, served alongside the
// directory so clients can render last-seen without a websocket.
type StatusEntry struct {
	UserID   string    `json:"userId"`
	Status   string    `json:"status"`
	LastSeen time.Time `json:"lastSeen"`
}

func (u *User) validate() error {
	if u.Name == "" || u.Email == "" {
		return ErrInvalid
	}
	return nil
}
