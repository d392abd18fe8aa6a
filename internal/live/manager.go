// Package live keeps query results current. An Observer holds a cursor for one
// query and, after every store write, checks it with Refresh on a shared
// worker pool, delivering the new cursor when the result changed.
package live

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/panjf2000/ants/v2"
	"golang.org/x/time/rate"

	"github.com/kartikbazzad/bunbase/docquery/cursor"
	"github.com/kartikbazzad/bunbase/docquery/internal/config"
	"github.com/kartikbazzad/bunbase/docquery/internal/errors"
	"github.com/kartikbazzad/bunbase/docquery/internal/logger"
)

// Subscriber publishes the sequence of every committed write.
type Subscriber interface {
	Subscribe() (<-chan uint64, func())
}

// Executor runs the observed query and returns a fresh cursor.
type Executor func(ctx context.Context) (*cursor.ResultCursor, error)

// Callback receives the initial result and every changed result. The cursor
// is borrowed: it stays owned by the observer and must not be retained after
// the callback returns. On failure c is nil and err is set.
type Callback func(c *cursor.ResultCursor, err error)

// Manager runs refresh checks for all observers on one ants pool.
type Manager struct {
	src        Subscriber
	cfg        *config.LiveConfig
	logger     *logger.Logger
	pool       *ants.Pool
	retry      *errors.RetryController
	classifier *errors.Classifier
	limiter    *rate.Limiter

	mu        sync.Mutex
	observers map[uuid.UUID]*Observer
	closed    bool
}

func NewManager(src Subscriber, cfg *config.LiveConfig, log *logger.Logger) (*Manager, error) {
	m := &Manager{
		src:        src,
		cfg:        cfg,
		logger:     log,
		retry:      errors.NewRetryControllerWith(cfg.RetryBackoff, 50*cfg.RetryBackoff, cfg.MaxRetries),
		classifier: errors.NewClassifier(),
		limiter:    newLimiter(cfg),
		observers:  make(map[uuid.UUID]*Observer),
	}
	pool, err := ants.NewPool(cfg.Workers, ants.WithPanicHandler(func(v any) {
		log.Error("Refresh check panic: %v", v)
	}))
	if err != nil {
		return nil, fmt.Errorf("live pool: %w", err)
	}
	m.pool = pool
	return m, nil
}

// newLimiter bounds refresh checks across all observers. The burst lets
// every worker start one check at once.
func newLimiter(cfg *config.LiveConfig) *rate.Limiter {
	if cfg.MaxChecks <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(cfg.MaxChecks), max(cfg.Workers, 1))
}

// Observe runs exec, delivers the initial result to fn and keeps delivering
// until the observer is stopped. fn is never called concurrently with itself.
func (m *Manager) Observe(ctx context.Context, exec Executor, fn Callback) (*Observer, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.ErrPoolStopped
	}
	m.mu.Unlock()

	// Subscribe before executing so no write between the two is missed.
	changes, cancel := m.src.Subscribe()
	c, err := exec(ctx)
	if err != nil {
		cancel()
		return nil, err
	}

	o := &Observer{
		id:      uuid.New(),
		m:       m,
		exec:    exec,
		fn:      fn,
		cur:     c,
		changes: changes,
		cancel:  cancel,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	o.ctx, o.cancelCtx = context.WithCancel(context.WithoutCancel(ctx))

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		o.cancelCtx()
		cancel()
		c.Release()
		return nil, errors.ErrPoolStopped
	}
	m.observers[o.id] = o
	m.mu.Unlock()

	o.mu.Lock()
	fn(c, nil)
	o.mu.Unlock()

	go o.watch()
	m.logger.Debug("Observer %s started", o.id)
	return o, nil
}

// Observers reports how many observers are running.
func (m *Manager) Observers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.observers)
}

func (m *Manager) forget(o *Observer) {
	m.mu.Lock()
	delete(m.observers, o.id)
	m.mu.Unlock()
}

func (m *Manager) submit(task func()) error {
	if err := m.pool.Submit(task); err != nil {
		if err == ants.ErrPoolClosed {
			return errors.ErrPoolStopped
		}
		return err
	}
	return nil
}

// Close stops every observer and releases the pool.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	observers := make([]*Observer, 0, len(m.observers))
	for _, o := range m.observers {
		observers = append(observers, o)
	}
	m.mu.Unlock()

	var result *multierror.Error
	for _, o := range observers {
		if err := o.Stop(); err != nil && !errors.Is(err, errors.ErrObserverStopped) {
			result = multierror.Append(result, fmt.Errorf("observer %s: %w", o.id, err))
		}
	}
	if err := m.pool.ReleaseTimeout(3 * time.Second); err != nil {
		result = multierror.Append(result, fmt.Errorf("release pool: %w", err))
	}
	return result.ErrorOrNil()
}
