// Package store is the embedded document store queries run against: a single
// SQLite file holding documents (key, sequence, revision, flags, JSON body)
// and the FTS5 tables that index them.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	_ "modernc.org/sqlite"

	"github.com/kartikbazzad/bunbase/docquery/internal/config"
	"github.com/kartikbazzad/bunbase/docquery/internal/errors"
	"github.com/kartikbazzad/bunbase/docquery/internal/logger"
	"github.com/kartikbazzad/bunbase/docquery/internal/metrics"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv_default (
	key TEXT PRIMARY KEY,
	sequence INTEGER NOT NULL UNIQUE,
	flags INTEGER NOT NULL DEFAULT 0,
	version TEXT NOT NULL,
	body TEXT
);
CREATE TABLE IF NOT EXISTS kv_meta (
	name TEXT PRIMARY KEY,
	value NOT NULL
);
CREATE TABLE IF NOT EXISTS kv_fts_indexes (
	name TEXT PRIMARY KEY,
	path TEXT NOT NULL
);
INSERT OR IGNORE INTO kv_meta (name, value) VALUES ('last_sequence', 0);
`

// Resource is something that holds store state (an open enumerator) and
// must be abandoned when the store closes underneath it.
type Resource interface {
	Abandon() error
}

type Store struct {
	db      *sql.DB
	cfg     *config.Config
	logger  *logger.Logger
	metrics *metrics.Metrics
	id      uuid.UUID

	// writeMu serializes writers; SQLite allows one at a time anyway and
	// holding it keeps sequence allocation and notification ordered.
	writeMu sync.Mutex

	mu      sync.Mutex
	closed  bool
	subs    map[int]chan uint64
	nextSub int
	tracked map[Resource]struct{}
}

// Open opens (creating if needed) the database at cfg.Path().
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger, m *metrics.Metrics) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrFileOpen, err)
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(%s)",
		cfg.Path(), cfg.Store.BusyTimeout.Milliseconds(), cfg.Store.JournalMode)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrFileOpen, err)
	}
	if cfg.Store.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Store.MaxOpenConns)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	id, err := loadOrCreateUUID(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:      db,
		cfg:     cfg,
		logger:  log,
		metrics: m,
		id:      id,
		subs:    make(map[int]chan uint64),
		tracked: make(map[Resource]struct{}),
	}
	log.Info("Opened store %s (uuid=%s)", cfg.Path(), id)
	return s, nil
}

func loadOrCreateUUID(ctx context.Context, db *sql.DB) (uuid.UUID, error) {
	var raw string
	err := db.QueryRowContext(ctx, `SELECT value FROM kv_meta WHERE name = 'uuid'`).Scan(&raw)
	if err == sql.ErrNoRows {
		id := uuid.New()
		if _, err := db.ExecContext(ctx, `INSERT INTO kv_meta (name, value) VALUES ('uuid', ?)`, id.String()); err != nil {
			return uuid.Nil, fmt.Errorf("store uuid: %w", err)
		}
		return id, nil
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("store uuid: %w", err)
	}
	return uuid.Parse(raw)
}

// UUID identifies this database file.
func (s *Store) UUID() uuid.UUID {
	return s.id
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// LastSequence returns the sequence of the most recent write.
func (s *Store) LastSequence(ctx context.Context) (uint64, error) {
	if s.isClosed() {
		return 0, errors.ErrDBNotOpen
	}
	return lastSequence(ctx, s.db)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func lastSequence(ctx context.Context, q queryer) (uint64, error) {
	var seq uint64
	if err := q.QueryRowContext(ctx, `SELECT value FROM kv_meta WHERE name = 'last_sequence'`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("last sequence: %w", err)
	}
	return seq, nil
}

// QueryContext runs a read statement. The caller owns the returned rows.
func (s *Store) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if s.isClosed() {
		return nil, errors.ErrDBNotOpen
	}
	return s.db.QueryContext(ctx, query, args...)
}

// Track registers an open resource so Close can abandon it.
func (s *Store) Track(r Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.ErrDBNotOpen
	}
	s.tracked[r] = struct{}{}
	s.metrics.EnumeratorOpened()
	return nil
}

// Untrack forgets r. Untracking twice is a no-op.
func (s *Store) Untrack(r Resource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tracked[r]; ok {
		delete(s.tracked, r)
		s.metrics.EnumeratorFreed()
	}
}

// OpenResources reports how many tracked resources are still open.
func (s *Store) OpenResources() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tracked)
}

// Subscribe returns a channel that receives the latest sequence after each
// write. Notifications coalesce: a slow reader sees only the newest value.
func (s *Store) Subscribe() (<-chan uint64, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan uint64, 1)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
	return ch, cancel
}

func (s *Store) notify(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- seq:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- seq:
			default:
			}
		}
	}
}

// Close abandons every tracked resource, closes subscriptions and the
// database. Closing twice is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	leaked := make([]Resource, 0, len(s.tracked))
	for r := range s.tracked {
		leaked = append(leaked, r)
	}
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.mu.Unlock()

	var result *multierror.Error
	if len(leaked) > 0 {
		s.logger.Warn("Closing store with %d open enumerator(s); releasing them", len(leaked))
	}
	for _, r := range leaked {
		if err := r.Abandon(); err != nil {
			result = multierror.Append(result, err)
		}
		s.Untrack(r)
	}

	if err := s.db.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close database: %w", err))
	}
	s.logger.Info("Closed store %s", s.cfg.Path())
	return result.ErrorOrNil()
}
