package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scigal/im-gateway/internal/domain/envelope"
	"github.com/scigal/im-gateway/internal/domain/registry"
	"github.com/scigal/im-gateway/internal/relay"
	"github.com/scigal/im-gateway/internal/router"
	"github.com/scigal/im-gateway/internal/storage"
)

const defaultMailboxSize = 256

// ConnState is the per-connection lifecycle the dispatcher enforces.
// Envelopes are only processed while Open; Closed is terminal.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosing
	StateClosed
)

type session struct {
	conn  registry.Connector
	state atomic.Int32
}

func (s *session) is(state ConnState) bool {
	return ConnState(s.state.Load()) == state
}

// Gateway is the single entry point between transports and the core: it
// receives decoded envelopes from connections, drives registries, persistence
// and the relay per envelope type, and runs the disconnect cascade.
type Gateway struct {
	logger   *slog.Logger
	conns    *registry.Connections
	rooms    *registry.Rooms
	presence *registry.Presence
	bcast    *router.Broadcaster
	signals  *router.SignalRouter
	relay    *relay.Relay
	store    storage.Store
	cache    storage.Cache
	mirror   storage.SessionStore

	historySize int
	startedAt   time.Time

	live sync.Map // connID -> *session
}

func NewGateway(
	logger *slog.Logger,
	conns *registry.Connections,
	rooms *registry.Rooms,
	presence *registry.Presence,
	bcast *router.Broadcaster,
	signals *router.SignalRouter,
	rl *relay.Relay,
	store storage.Store,
	cache storage.Cache,
	mirror storage.SessionStore,
	historySize int,
) *Gateway {
	g := &Gateway{
		logger:      logger,
		conns:       conns,
		rooms:       rooms,
		presence:    presence,
		bcast:       bcast,
		signals:     signals,
		relay:       rl,
		store:       store,
		cache:       cache,
		mirror:      mirror,
		historySize: historySize,
		startedAt:   time.Now(),
	}
	presence.SetOnChange(g.onPresenceChange)
	if rl != nil {
		rl.SetHandler(g.handleRelay)
	}
	return g
}

// Connect registers a new client connection and returns its handle. The
// transport adapter owns draining the handle's Recv channel.
func (g *Gateway) Connect(ctx context.Context, userID string) registry.Connector {
	conn := registry.NewConnector(ctx, userID, defaultMailboxSize)

	sess := &session{conn: conn}
	sess.state.Store(int32(StateConnecting))
	g.live.Store(conn.ID(), sess)

	g.conns.Register(conn)
	sess.state.Store(int32(StateOpen))

	if userID != "" {
		g.presence.Connected(userID)
	}
	g.logger.Info("connection opened", "conn_id", conn.ID(), "user_id", userID)
	return conn
}

// Disconnect runs the disconnect cascade synchronously: leave every room,
// unregister, update presence. Idempotent: the transport defer, a read
// error and server shutdown may all race here.
func (g *Gateway) Disconnect(connID string) {
	val, ok := g.live.Load(connID)
	if !ok {
		return
	}
	sess := val.(*session)
	if !sess.state.CompareAndSwap(int32(StateOpen), int32(StateClosing)) &&
		!sess.state.CompareAndSwap(int32(StateConnecting), int32(StateClosing)) {
		return
	}

	g.rooms.LeaveAll(connID)
	userID, _ := g.conns.Unregister(connID)
	if userID != "" {
		g.presence.Disconnected(userID)
	}

	sess.state.Store(int32(StateClosed))
	g.live.Delete(connID)
	g.logger.Info("connection closed", "conn_id", connID, "user_id", userID)
}

// Shutdown runs the disconnect cascade for every live session. Server drain
// does not close hijacked websocket sockets, so this is the path that gets
// offline transitions broadcast and relayed before the relay itself stops.
func (g *Gateway) Shutdown() {
	g.live.Range(func(key, _ any) bool {
		g.Disconnect(key.(string))
		return true
	})
}

// HandleFrame processes one inbound frame from a connection. Malformed input
// is dropped and logged; the connection always stays open.
func (g *Gateway) HandleFrame(ctx context.Context, connID string, raw []byte) {
	val, ok := g.live.Load(connID)
	if !ok || !val.(*session).is(StateOpen) {
		return
	}

	env, err := envelope.DecodeInbound(raw)
	if err != nil {
		g.logger.Warn("frame dropped", "conn_id", connID, "error", err)
		return
	}

	// Late identity binding: the first envelope carrying a sender claims the
	// connection for that user.
	if env.From != "" && g.conns.UserOf(connID) == "" {
		g.conns.AssociateUser(connID, env.From)
		g.presence.Connected(env.From)
	}

	switch env.Type {
	case envelope.TypeJoin:
		g.handleJoin(ctx, connID, env)
	case envelope.TypeLeave:
		g.handleLeave(connID, env)
	case envelope.TypeMessage:
		g.handleMessage(env)
	case envelope.TypeSignal:
		g.signals.Route(env)
		g.publish(env)
	case envelope.TypeCallMetadata:
		g.handleCallMetadata(connID, env)
	case envelope.TypePresence:
		g.handleHeartbeat(connID, env)
	}
}

func (g *Gateway) handleJoin(ctx context.Context, connID string, env *envelope.Envelope) {
	g.rooms.Join(env.Room, connID)

	if userID := g.conns.UserOf(connID); userID != "" {
		room := env.Room
		storage.BestEffort(g.logger, "add_room_member", func(ctx context.Context) error {
			return g.store.AddRoomMember(ctx, room, userID)
		})
	}
	g.replayHistory(ctx, connID, env.Room)
}

func (g *Gateway) handleLeave(connID string, env *envelope.Envelope) {
	g.rooms.Leave(env.Room, connID)

	if userID := g.conns.UserOf(connID); userID != "" {
		room := env.Room
		storage.BestEffort(g.logger, "remove_room_member", func(ctx context.Context) error {
			return g.store.RemoveRoomMember(ctx, room, userID)
		})
	}
}

func (g *Gateway) handleMessage(env *envelope.Envelope) {
	enc, err := env.Encode()
	if err != nil {
		g.logger.Warn("message encode failed", "error", err)
		return
	}

	rec := &storage.MessageRecord{
		Room:      env.Room,
		From:      env.From,
		Payload:   env.Payload,
		CreatedAt: time.Now(),
	}
	storage.BestEffort(g.logger, "save_message", func(ctx context.Context) error {
		return g.store.SaveMessage(ctx, rec)
	})
	if g.cache != nil && env.Room != "" {
		room := env.Room
		storage.BestEffort(g.logger, "cache_message", func(ctx context.Context) error {
			return g.cache.Push(ctx, room, enc)
		})
	}

	g.deliverLocal(env, enc)
	g.publish(env)
}

func (g *Gateway) handleCallMetadata(connID string, env *envelope.Envelope) {
	info, err := env.CallInfo()
	if err != nil {
		g.logger.Warn("call metadata dropped", "conn_id", connID, "error", err)
		return
	}

	rec := &storage.CallRecord{
		CallID:    info.CallID,
		From:      info.From,
		To:        info.To,
		Metadata:  env.Payload,
		CreatedAt: time.Now(),
	}
	storage.BestEffort(g.logger, "save_call", func(ctx context.Context) error {
		return g.store.SaveCall(ctx, rec)
	})

	// Call metadata is informational: relayed for remote observers and
	// stored for later retrieval, never echoed to local clients.
	g.publish(env)
}

func (g *Gateway) handleHeartbeat(connID string, env *envelope.Envelope) {
	userID := g.conns.UserOf(connID)
	if userID == "" {
		userID = env.From
	}
	if userID == "" {
		return
	}
	g.presence.Heartbeat(userID)
	if g.mirror != nil {
		uid := userID
		storage.BestEffort(g.logger, "presence_mirror", func(ctx context.Context) error {
			return g.mirror.SetOnline(ctx, uid)
		})
	}
}

// handleRelay dispatches a foreign-origin envelope exactly as a local one,
// except persistence is skipped: the originating instance already persisted.
func (g *Gateway) handleRelay(_ context.Context, env *envelope.Envelope) {
	switch env.Type {
	case envelope.TypeMessage, envelope.TypePresence:
		enc, err := env.Encode()
		if err != nil {
			g.logger.Warn("relay frame encode failed", "error", err)
			return
		}
		g.deliverLocal(env, enc)
	case envelope.TypeSignal:
		g.signals.Route(env)
	default:
		// join/leave are instance-local mutations and call_metadata has no
		// client-facing delivery; nothing to do for foreign copies.
	}
}

func (g *Gateway) deliverLocal(env *envelope.Envelope, enc []byte) {
	if env.Room != "" {
		g.bcast.SendToRoom(env.Room, enc)
		return
	}
	g.bcast.BroadcastAll(enc)
}

func (g *Gateway) publish(env *envelope.Envelope) {
	if g.relay != nil {
		g.relay.Publish(env)
	}
}

// replayHistory sends the room's cached recent messages, oldest first, to a
// freshly joined connection.
func (g *Gateway) replayHistory(ctx context.Context, connID, room string) {
	if g.cache == nil {
		return
	}
	frames, err := g.cache.Recent(ctx, room, g.historySize)
	if err != nil {
		g.logger.Warn("history replay failed", "room", room, "error", err)
		return
	}
	for i := len(frames) - 1; i >= 0; i-- {
		g.bcast.SendTo(connID, frames[i])
	}
}

// onPresenceChange broadcasts every presence transition locally and across
// instances, and mirrors it best-effort into the store and Redis.
func (g *Gateway) onPresenceChange(userID string, status registry.Status, lastSeen time.Time) {
	env := envelope.NewPresence(userID, string(status), lastSeen)
	enc, err := env.Encode()
	if err != nil {
		g.logger.Warn("presence encode failed", "error", err)
		return
	}

	g.bcast.BroadcastAll(enc)
	g.publish(env)

	storage.BestEffort(g.logger, "update_presence", func(ctx context.Context) error {
		return g.store.UpdatePresence(ctx, userID, string(status), lastSeen)
	})
	if g.mirror != nil {
		storage.BestEffort(g.logger, "presence_mirror", func(ctx context.Context) error {
			if status == registry.StatusOnline {
				return g.mirror.SetOnline(ctx, userID)
			}
			return g.mirror.SetOffline(ctx, userID)
		})
	}
}

// RawBroadcast pushes an externally supplied frame to clients: a frame that
// decodes to an envelope with a room goes to that room, anything else goes to
// everyone. Used by the raw push resource.
func (g *Gateway) RawBroadcast(body []byte) {
	if env, err := envelope.Decode(body); err == nil && env.Room != "" {
		g.bcast.SendToRoom(env.Room, body)
		return
	}
	g.bcast.BroadcastAll(body)
}
