package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"go.uber.org/fx"

	"github.com/scigal/im-gateway/config"
	"github.com/scigal/im-gateway/internal/handler/ws"
)

var Module = fx.Module("httpapi",
	fx.Provide(
		ws.NewHandler,
		New,
		func(api *API, wsHandler *ws.Handler, cfg *config.Config) *http.Server {
			return &http.Server{
				Addr:              cfg.Listen.Addr(),
				Handler:           api.Router(wsHandler),
				ReadHeaderTimeout: 5 * time.Second,
			}
		},
	),
	fx.Invoke(func(lc fx.Lifecycle, srv *http.Server, logger *slog.Logger) {
		lc.Append(fx.Hook{
			OnStart: func(_ context.Context) error {
				go func() {
					logger.Info("http server listening", "addr", srv.Addr)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("http server failed", "error", err)
					}
				}()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return srv.Shutdown(ctx)
			},
		})
	}),
)
