package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/scigal/im-gateway/internal/domain/envelope"
)

// Stats is a point-in-time snapshot of the gateway, served by the stats
// resource.
type Stats struct {
	InstanceID     string        `json:"instance_id"`
	Connections    int           `json:"connections"`
	Users          int           `json:"users"`
	Rooms          int           `json:"rooms"`
	RelayConnected bool          `json:"relay_connected"`
	Uptime         time.Duration `json:"uptime"`
}

func (g *Gateway) Stats() *Stats {
	s := &Stats{
		Connections: g.conns.Len(),
		Users:       g.conns.UserCount(),
		Rooms:       g.rooms.Count(),
		Uptime:      time.Since(g.startedAt).Round(time.Second),
	}
	if g.relay != nil {
		s.InstanceID = g.relay.InstanceID()
		s.RelayConnected = g.relay.Connected()
	}
	return s
}

// History returns a room's recent message frames, newest first. The Redis
// cache is authoritative for the hot window; the store backs it up when the
// cache is empty or unavailable.
func (g *Gateway) History(ctx context.Context, room string) ([]json.RawMessage, error) {
	if g.cache != nil {
		frames, err := g.cache.Recent(ctx, room, g.historySize)
		if err == nil && len(frames) > 0 {
			out := make([]json.RawMessage, len(frames))
			for i, f := range frames {
				out[i] = json.RawMessage(f)
			}
			return out, nil
		}
		if err != nil {
			g.logger.Warn("history cache read failed", "room", room, "error", err)
		}
	}

	recs, err := g.store.RecentMessages(ctx, room, g.historySize)
	if err != nil {
		return nil, err
	}
	// Re-encode store records as message frames so both paths hand the
	// client the same shape.
	out := make([]json.RawMessage, 0, len(recs))
	for _, r := range recs {
		env := &envelope.Envelope{
			Type:    envelope.TypeMessage,
			Room:    r.Room,
			From:    r.From,
			Payload: r.Payload,
		}
		b, err := env.Encode()
		if err != nil {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}
