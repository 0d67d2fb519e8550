package engine

import (
	"context"

	"go.uber.org/zap"
)

// Start launches the dispatcher. Queued sessions are handed to a pool
// bounded by the configured worker count; the queue channel itself provides
// wakeup, so an idle engine consumes nothing.
func (e *service) Start(ctx context.Context) error {
	e.wg.Add(1)
	go e.dispatch(ctx)
	e.logger.Info("engine started",
		zap.Int("workers", e.config.Workers),
		zap.Int("queue_size", e.config.QueueSize))
	return nil
}

func (e *service) dispatch(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case id := <-e.queue:
			if err := e.sem.Acquire(ctx, 1); err != nil {
				return
			}
			e.wg.Add(1)
			go func(sessionID string) {
				defer e.wg.Done()
				defer e.sem.Release(1)
				if _, err := e.RunSession(ctx, sessionID); err != nil {
					e.logger.Error("session run failed",
						zap.String("session_id", sessionID),
						zap.Error(err))
				}
			}(id)
		}
	}
}

// Close stops the dispatcher and waits for in-flight sessions to reach a
// terminal phase.
func (e *service) Close() error {
	e.closeOnce.Do(func() {
		close(e.done)
	})
	e.wg.Wait()
	return nil
}
