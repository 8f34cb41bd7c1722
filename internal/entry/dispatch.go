package entry

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// Dispatcher runs detached work. A task gets its own timeout, survives the
// cancellation of the context that started it, and has its error or panic
// logged instead of returned.
type Dispatcher struct {
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher; timeout <= 0 means no per-task limit.
func NewDispatcher(timeout time.Duration) *Dispatcher {
	return &Dispatcher{timeout: timeout}
}

// Go starts fn in the background and returns immediately.
func (d *Dispatcher) Go(ctx context.Context, log *slog.Logger, name string, fn func(ctx context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		taskCtx := context.WithoutCancel(ctx)
		if d.timeout > 0 {
			var cancel context.CancelFunc
			taskCtx, cancel = context.WithTimeout(taskCtx, d.timeout)
			defer cancel()
		}

		start := time.Now()
		if err := d.run(taskCtx, fn); err != nil {
			log.Warn("deferred task failed", "task", name, "error", err, "elapsed", time.Since(start))
			return
		}
		log.Debug("deferred task done", "task", name, "elapsed", time.Since(start))
	}()
}

func (d *Dispatcher) run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx)
}

// Wait blocks until every dispatched task has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
