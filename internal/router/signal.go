package router

import (
	"log/slog"

	"github.com/scigal/im-gateway/internal/domain/envelope"
	"github.com/scigal/im-gateway/internal/domain/registry"
)

// SignalRouter resolves the destination of a signaling envelope and delivers
// it locally. Resolution order: a currently-registered target connection gets
// direct delivery; otherwise the room, if set; otherwise broadcast-all. A
// target that is unparseable or simply unknown here is treated as absent;
// the relay carries the same envelope to the instance that actually hosts it.
type SignalRouter struct {
	conns  *registry.Connections
	bcast  *Broadcaster
	logger *slog.Logger
}

func NewSignalRouter(conns *registry.Connections, bcast *Broadcaster, logger *slog.Logger) *SignalRouter {
	return &SignalRouter{
		conns:  conns,
		bcast:  bcast,
		logger: logger,
	}
}

// Route dispatches one signal envelope to its local destination.
func (s *SignalRouter) Route(env *envelope.Envelope) {
	payload, err := env.Encode()
	if err != nil {
		s.logger.Warn("signal encode failed", "error", err)
		return
	}

	if env.Target != "" {
		if _, ok := s.conns.Get(env.Target); ok {
			s.bcast.SendTo(env.Target, payload)
			return
		}
	}
	if env.Room != "" {
		s.bcast.SendToRoom(env.Room, payload)
		return
	}
	s.bcast.BroadcastAll(payload)
}
