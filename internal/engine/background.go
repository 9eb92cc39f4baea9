package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const backgroundTaskTimeout = 5 * time.Minute

// taskRunner launches fire-and-forget background work with a panic
// boundary. Task failures are logged and never surface to the request
// that spawned them.
type taskRunner struct {
	logger *slog.Logger
	wg     sync.WaitGroup
}

func newTaskRunner(logger *slog.Logger) *taskRunner {
	return &taskRunner{logger: logger}
}

func (r *taskRunner) Go(name string, fn func(ctx context.Context)) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("Background task panicked", "task", name, "panic", rec)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), backgroundTaskTimeout)
		defer cancel()

		fn(ctx)
	}()
}

// Wait blocks until all spawned tasks finish. Used on shutdown and in
// tests.
func (r *taskRunner) Wait() {
	r.wg.Wait()
}
