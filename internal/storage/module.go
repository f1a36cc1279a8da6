package storage

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/scigal/im-gateway/config"
)

var Module = fx.Module("storage",
	fx.Provide(
		func(cfg *config.Config) (*pgxpool.Pool, error) {
			return pgxpool.New(context.Background(), cfg.Postgres.DSN)
		},
		NewPostgres,
		func(pg *Postgres) *BreakerStore { return NewBreakerStore(pg) },
		func(b *BreakerStore) Store { return b },
		func(rdb redis.UniversalClient, cfg *config.Config) Cache {
			return NewMessageCache(rdb, cfg.Cache.HistorySize)
		},
		func(rdb redis.UniversalClient, cfg *config.Config) SessionStore {
			return NewSessions(rdb, cfg.Presence.TTL)
		},
	),
	fx.Invoke(func(lc fx.Lifecycle, pg *Postgres, pool *pgxpool.Pool) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return pg.Migrate(ctx)
			},
			OnStop: func(ctx context.Context) error {
				pool.Close()
				return nil
			},
		})
	}),
)
