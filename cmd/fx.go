package cmd

import (
	"context"
	"log/slog"
	"os"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/scigal/im-gateway/config"
	"github.com/scigal/im-gateway/infra/pubsub"
	"github.com/scigal/im-gateway/internal/domain/registry"
	"github.com/scigal/im-gateway/internal/handler/httpapi"
	"github.com/scigal/im-gateway/internal/relay"
	"github.com/scigal/im-gateway/internal/router"
	"github.com/scigal/im-gateway/internal/service"
	"github.com/scigal/im-gateway/internal/storage"
	"github.com/scigal/im-gateway/internal/user"
)

func NewApp(cfg *config.Config, configFile string) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			func() *slog.Logger { return ProvideLogger(cfg, configFile) },
			ProvideWatermillLogger,
			ProvideRedis,
			pubsub.NewChannel,
		),
		fx.Invoke(func(lc fx.Lifecycle, ch *pubsub.Channel, rdb redis.UniversalClient) {
			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					err := ch.Close()
					if cerr := rdb.Close(); err == nil {
						err = cerr
					}
					return err
				},
			})
		}),
		registry.Module,
		router.Module,
		relay.Module,
		storage.Module,
		user.Module,
		service.Module,
		httpapi.Module,
	)
}

// ProvideLogger builds the process logger and arms the config watcher so the
// level follows file edits without a restart.
func ProvideLogger(cfg *config.Config, configFile string) *slog.Logger {
	level := new(slog.LevelVar)
	level.Set(config.ParseLevel(cfg.Log.Level))

	var handler slog.Handler
	if cfg.Log.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	logger := slog.New(handler).With("service", cfg.Service.Name, "instance", cfg.Service.InstanceID)
	slog.SetDefault(logger)

	if configFile != "" {
		config.Watch(configFile, logger, level)
	}
	return logger
}

func ProvideWatermillLogger(logger *slog.Logger) watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logger)
}

func ProvideRedis(cfg *config.Config) redis.UniversalClient {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}
