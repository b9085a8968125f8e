package engine

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Every kind that can flip the settled condition. JobAdded and JobStarted
// only ever move the engine away from it.
var settleKinds = []EventKind{JobCompleted, JobRequeued, WorkerAdded, WorkerRemoved}

func settleRelevant(kind EventKind) bool {
	for _, k := range settleKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// wakeWaitersLocked nudges every WaitUntilSettled call to re-check. Waiters
// are woken when the state changes, not when the notification is
// delivered, so a wait never queues behind a slow listener.
func (e *Engine) wakeWaitersLocked() {
	for ch := range e.waiters {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// WaitUntilSettled blocks until no job is outstanding and no bot is busy.
// It returns nil straight away when that already holds, an error wrapping
// ErrSettleTimeout when timeout elapses first, or ctx.Err(). A
// non-positive timeout means DefaultSettleTimeout.
//
// It may be called from a listener.
func (e *Engine) WaitUntilSettled(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultSettleTimeout
	}

	changed := make(chan struct{}, 1)
	e.mu.Lock()
	if e.settledLocked() {
		e.mu.Unlock()
		return nil
	}
	e.waiters[changed] = struct{}{}
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.waiters, changed)
		e.mu.Unlock()
	}()

	timer := e.clock.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-changed:
			if e.Settled() {
				return nil
			}
		case <-timer.Chan():
			if e.Settled() {
				return nil
			}
			return errors.Wrapf(ErrSettleTimeout, "after %s", timeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
