package router

import (
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scigal/im-gateway/internal/domain/registry"
)

const (
	defaultSendTimeout = 500 * time.Millisecond
	defaultFanout      = 64
)

// Broadcaster delivers payloads to one connection, one room or every
// connection on this instance. Delivery to each target is attempted
// independently: a slow or dead connection drops its own frame and never
// holds up the rest of the fanout.
type Broadcaster struct {
	conns  *registry.Connections
	rooms  *registry.Rooms
	logger *slog.Logger

	sendTimeout time.Duration
	fanout      int
}

func NewBroadcaster(conns *registry.Connections, rooms *registry.Rooms, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		conns:       conns,
		rooms:       rooms,
		logger:      logger,
		sendTimeout: defaultSendTimeout,
		fanout:      defaultFanout,
	}
}

// SendTo delivers to a single connection. An unknown or closed connection is
// a no-op, not an error: the target may close between resolution and send.
func (b *Broadcaster) SendTo(connID string, payload []byte) {
	conn, ok := b.conns.Get(connID)
	if !ok {
		return
	}
	if !conn.Send(payload, b.sendTimeout) {
		b.logger.Debug("frame dropped", "conn_id", connID)
	}
}

// SendToRoom delivers to the room's membership as snapshotted at call time.
// Joiners arriving during delivery may or may not receive the frame.
func (b *Broadcaster) SendToRoom(room string, payload []byte) {
	b.deliver(b.rooms.MembersOf(room), payload)
}

// BroadcastAll delivers to every connection on this instance.
func (b *Broadcaster) BroadcastAll(payload []byte) {
	conns := b.conns.Snapshot()
	ids := make([]string, 0, len(conns))
	for _, conn := range conns {
		ids = append(ids, conn.ID())
	}
	b.deliver(ids, payload)
}

func (b *Broadcaster) deliver(connIDs []string, payload []byte) {
	if len(connIDs) == 0 {
		return
	}
	var g errgroup.Group
	g.SetLimit(b.fanout)
	for _, id := range connIDs {
		g.Go(func() error {
			b.SendTo(id, payload)
			return nil
		})
	}
	_ = g.Wait()
}
