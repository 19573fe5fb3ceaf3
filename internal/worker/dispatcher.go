// Package worker runs background turns detached from the request that
// started them.
package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/capitalize-ai/agent-relay/pkg/logger"
	"github.com/capitalize-ai/agent-relay/pkg/metrics"
)

// Dispatcher runs tasks on goroutines, at most limit at a time.
type Dispatcher struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup
	log *logger.Logger

	// base outlives every request; tasks never see the caller's cancellation.
	base context.Context
}

// NewDispatcher creates a dispatcher. A non-positive limit means 1.
func NewDispatcher(limit int64, log *logger.Logger) *Dispatcher {
	if limit <= 0 {
		limit = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Dispatcher{
		sem:  semaphore.NewWeighted(limit),
		log:  log,
		base: context.Background(),
	}
}

// Go schedules fn and returns immediately. fn receives a context that is not
// canceled when the caller's request ends. onPanic, when non-nil, is called
// with the recovered value after a panic in fn.
func (d *Dispatcher) Go(name string, fn func(ctx context.Context), onPanic func(ctx context.Context, recovered any)) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		if err := d.sem.Acquire(d.base, 1); err != nil {
			d.log.Error("failed to acquire worker slot", zap.String("task", name), zap.Error(err))
			return
		}
		defer d.sem.Release(1)

		metrics.TurnsInFlight.Inc()
		defer metrics.TurnsInFlight.Dec()

		d.run(name, fn, onPanic)
	}()
}

func (d *Dispatcher) run(name string, fn func(ctx context.Context), onPanic func(ctx context.Context, recovered any)) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		d.log.Error("background task panicked",
			zap.String("task", name),
			zap.String("panic", fmt.Sprint(r)),
			zap.ByteString("stack", debug.Stack()),
		)
		if onPanic != nil {
			func() {
				defer func() {
					if r2 := recover(); r2 != nil {
						d.log.Error("panic handler panicked", zap.String("task", name), zap.String("panic", fmt.Sprint(r2)))
					}
				}()
				onPanic(d.base, r)
			}()
		}
	}()
	fn(d.base)
}

// Wait blocks until every scheduled task has finished or ctx ends.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
