package service

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/scigal/im-gateway/config"
	"github.com/scigal/im-gateway/internal/domain/registry"
	"github.com/scigal/im-gateway/internal/relay"
	"github.com/scigal/im-gateway/internal/router"
	"github.com/scigal/im-gateway/internal/storage"
)

var Module = fx.Module("service",
	fx.Provide(
		func(
			cfg *config.Config,
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
		) *Gateway {
			return NewGateway(logger, conns, rooms, presence, bcast, signals, rl, store, cache, mirror, cfg.Cache.HistorySize)
		},
	),
	// The relay module registers its hooks earlier, so on stop this cascade
	// runs first and the offline transitions still go out on a live channel.
	fx.Invoke(func(lc fx.Lifecycle, g *Gateway) {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				g.Shutdown()
				return nil
			},
		})
	}),
)
