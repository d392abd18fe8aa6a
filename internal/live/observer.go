package live

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kartikbazzad/bunbase/docquery/cursor"
	"github.com/kartikbazzad/bunbase/docquery/internal/errors"
)

// Observer keeps one query's cursor current.
type Observer struct {
	id      uuid.UUID
	m       *Manager
	exec    Executor
	fn      Callback
	changes <-chan uint64
	cancel  func()

	ctx       context.Context
	cancelCtx context.CancelFunc

	mu      sync.Mutex // serializes checks, callbacks and Stop
	cur     *cursor.ResultCursor
	stopped bool

	queued   atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func (o *Observer) ID() uuid.UUID {
	return o.id
}

// watch turns store notifications into refresh checks. Notifications that
// arrive within the debounce delay, or while a check is queued, collapse
// into one check.
func (o *Observer) watch() {
	defer close(o.done)
	delay := o.m.cfg.Delay

	for {
		select {
		case <-o.stop:
			return
		case _, ok := <-o.changes:
			if !ok {
				return
			}
		}

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-o.stop:
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		select {
		case <-o.changes:
		default:
		}

		if !o.queued.CompareAndSwap(false, true) {
			continue
		}
		if err := o.m.submit(o.check); err != nil {
			o.queued.Store(false)
			o.m.logger.Warn("Observer %s: failed to schedule refresh: %v", o.id, err)
			if errors.Is(err, errors.ErrPoolStopped) {
				return
			}
		}
	}
}

func (o *Observer) check() {
	o.queued.Store(false)
	if err := o.m.limiter.Wait(o.ctx); err != nil {
		// Stopped while waiting for a slot.
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return
	}

	// The callback released the borrowed cursor; start over.
	if o.cur == nil || o.cur.IsReleased() {
		c, err := o.exec(o.ctx)
		if err != nil {
			o.logFailure("re-execute", err)
			o.fn(nil, err)
			return
		}
		o.cur = c
		o.fn(c, nil)
		return
	}

	var next *cursor.ResultCursor
	err := o.m.retry.Retry(o.ctx, func() error {
		var err error
		next, err = o.cur.Refresh()
		return err
	}, o.m.classifier)
	if err != nil {
		o.logFailure("refresh", err)
		o.fn(nil, err)
		return
	}
	if next == nil {
		return
	}

	o.cur.Release()
	o.cur = next
	o.fn(next, nil)
}

func (o *Observer) logFailure(op string, err error) {
	cat := o.m.classifier.Classify(err)
	if o.m.classifier.IsCritical(cat) {
		o.m.logger.Error("Observer %s: %s failed (%s): %v", o.id, op, cat, err)
		return
	}
	o.m.logger.Warn("Observer %s: %s failed (%s): %v", o.id, op, cat, err)
}

// Stop ends observation and releases the observer's cursor. It waits for a
// running check to finish, so it must not be called from the callback.
// Stopping twice returns ErrObserverStopped.
func (o *Observer) Stop() error {
	first := false
	o.stopOnce.Do(func() {
		first = true
		close(o.stop)
		o.cancelCtx()
		o.cancel()
	})
	if !first {
		return errors.ErrObserverStopped
	}
	<-o.done

	o.mu.Lock()
	o.stopped = true
	if o.cur != nil {
		o.cur.Release()
		o.cur = nil
	}
	o.mu.Unlock()

	o.m.forget(o)
	o.m.logger.Debug("Observer %s stopped", o.id)
	return nil
}
