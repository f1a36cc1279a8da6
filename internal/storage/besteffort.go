package storage

import (
	"context"
	"log/slog"
	"time"
)

const bestEffortTimeout = 5 * time.Second

// BestEffort runs a persistence call in the background and logs its failure.
// The discard of the error is the point: the delivery path already happened
// and must never block on, or fail because of, the store.
func BestEffort(logger *slog.Logger, op string, fn func(ctx context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), bestEffortTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			logger.Warn("best-effort persistence failed", "op", op, "error", err)
		}
	}()
}
