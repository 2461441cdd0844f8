package engine

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Pool drives N worker goroutines pulling task IDs from a channel-based
// queue and calling Engine.Run for each (§5: "a pool of worker threads...
// tasks are independent units of work drawn from a queue").
type Pool struct {
	engine  *Engine
	queue   chan string
	workers int
}

// NewPool returns a Pool of workers worker goroutines reading from a queue
// of the given capacity.
func NewPool(e *Engine, workers, queueCapacity int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{engine: e, queue: make(chan string, queueCapacity), workers: workers}
}

// Enqueue submits taskID for execution. It blocks if the queue is full;
// callers wanting non-blocking submission should select on a ctx with a
// deadline.
func (p *Pool) Enqueue(ctx context.Context, taskID string) error {
	select {
	case p.queue <- taskID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the worker pool and blocks until ctx is cancelled; it then
// returns nil. Workers never return an error: any Engine.Run error,
// including ErrLocked for a task another worker holds, is logged and the
// task is dropped rather than requeued; callers needing retry-on-lock
// semantics should re-Enqueue from outside.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			return p.worker(ctx)
		})
	}
	return g.Wait()
}

func (p *Pool) worker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case taskID := <-p.queue:
			if err := p.engine.Run(ctx, taskID); err != nil {
				p.engine.Logger.Error(ctx, "task run failed", "task_id", taskID, "error", err.Error())
			}
		}
	}
}
