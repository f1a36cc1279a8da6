package relay

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/scigal/im-gateway/config"
	"github.com/scigal/im-gateway/infra/pubsub"
)

var Module = fx.Module("relay",
	fx.Provide(
		func(cfg *config.Config, channel *pubsub.Channel, logger *slog.Logger) *Relay {
			return New(channel.Publisher, channel.Subscriber, cfg.Relay.Channel, cfg.Service.InstanceID, logger)
		},
	),
	fx.Invoke(func(lc fx.Lifecycle, r *Relay) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				r.Start(ctx)
				return nil
			},
			OnStop: func(ctx context.Context) error {
				r.Stop(ctx)
				return nil
			},
		})
	}),
)
