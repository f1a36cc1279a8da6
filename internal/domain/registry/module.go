package registry

import (
	"context"

	"go.uber.org/fx"

	"github.com/scigal/im-gateway/config"
)

var Module = fx.Module("registry",
	fx.Provide(
		NewConnections,
		NewRooms,
		func(cfg *config.Config) *Presence {
			return NewPresence(
				WithPresenceTTL(cfg.Presence.TTL),
				WithSweepInterval(cfg.Presence.SweepInterval),
			)
		},
	),
	fx.Invoke(func(lc fx.Lifecycle, p *Presence) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				p.Start(context.Background())
				return nil
			},
			OnStop: func(ctx context.Context) error {
				p.Stop()
				return nil
			},
		})
	}),
)
