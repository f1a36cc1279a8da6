// Package storage is the gateway's view of the external persistence tier.
// Every call here is best-effort from the delivery path's perspective: the
// dispatcher fires them asynchronously and a failure degrades durability,
// never delivery.
package storage

import (
	"context"
	"encoding/json"
	"time"
)

// MessageRecord is one chat message as handed to the document store.
type MessageRecord struct {
	Room      string          `json:"room,omitempty"`
	From      string          `json:"from,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"timestamp"`
}

// CallRecord is the opaque call metadata stored for later retrieval.
type CallRecord struct {
	CallID    string          `json:"callId"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Metadata  json.RawMessage `json:"metadata"`
	CreatedAt time.Time       `json:"timestamp"`
}

// Store is the external document-store contract consumed by the dispatcher.
type Store interface {
	SaveMessage(ctx context.Context, rec *MessageRecord) error
	SaveCall(ctx context.Context, rec *CallRecord) error
	AddRoomMember(ctx context.Context, roomID, userID string) error
	RemoveRoomMember(ctx context.Context, roomID, userID string) error
	UpdatePresence(ctx context.Context, userID, status string, lastSeen time.Time) error
	RecentMessages(ctx context.Context, room string, limit int) ([]*MessageRecord, error)
}
