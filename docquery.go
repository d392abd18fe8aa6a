// Package docquery is an embedded document store with a query result
// enumerator.
//
// Queries return a cursor.ResultCursor that can be advanced, seeked, counted
// and refreshed. Full-text queries expose the located terms of each row
// through cursor.FullTextMatch. Observers keep a query's result current as
// documents change.
//
// Architecture:
//  1. DB: entry point; owns the store, the query compiler and the live manager.
//  2. Store: SQLite (modernc) tables for documents, sequences and FTS5 indexes.
//  3. Query: JSON query definitions, validated and compiled to SQL.
//  4. Enumerator: recorded (random access) or streaming results.
//  5. Cursor: the public, single-owner view over an enumerator.
package docquery

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/kartikbazzad/bunbase/docquery/cursor"
	"github.com/kartikbazzad/bunbase/docquery/internal/config"
	"github.com/kartikbazzad/bunbase/docquery/internal/enumerator"
	"github.com/kartikbazzad/bunbase/docquery/internal/errors"
	"github.com/kartikbazzad/bunbase/docquery/internal/live"
	"github.com/kartikbazzad/bunbase/docquery/internal/logger"
	"github.com/kartikbazzad/bunbase/docquery/internal/metrics"
	"github.com/kartikbazzad/bunbase/docquery/internal/query"
	"github.com/kartikbazzad/bunbase/docquery/internal/store"
)

type (
	Config     = config.Config
	Logger     = logger.Logger
	Metrics    = metrics.Metrics
	Document   = store.Document
	Revision   = store.Revision
	Index      = store.Index
	Stats      = store.Stats
	Query      = query.Query
	Expression = query.Expression
	Match      = query.Match
	OrderSpec  = query.OrderSpec
	Observer   = live.Observer
	Callback   = live.Callback
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return config.DefaultConfig()
}

// LoadConfig reads path (optional) and DOCQUERY_ environment variables.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path, config.EnvPrefix)
}

// NewLogger writes messages at level (DEBUG, INFO, WARN, ERROR) and above to out.
func NewLogger(out io.Writer, level string) *Logger {
	return logger.New(out, logger.ParseLevel(level), "docquery")
}

// Store errors. Cursor errors live in package cursor.
var (
	ErrInvalidJSON   = errors.ErrInvalidJSON
	ErrInvalidDocID  = errors.ErrInvalidDocID
	ErrDocNotFound   = errors.ErrDocNotFound
	ErrDBNotOpen     = errors.ErrDBNotOpen
	ErrIndexNotFound = errors.ErrIndexNotFound
	ErrIndexExists   = errors.ErrIndexExists
	ErrInvalidIndex  = errors.ErrInvalidIndex
	ErrInvalidQuery  = errors.ErrInvalidQuery
)

// Option configures Open.
type Option func(*DB)

// WithLogger replaces the default logger.
func WithLogger(l *Logger) Option {
	return func(db *DB) { db.logger = l }
}

// WithMetrics records into m instead of a private instance.
func WithMetrics(m *Metrics) Option {
	return func(db *DB) { db.metrics = m }
}

// DB is an open document database.
type DB struct {
	cfg      *Config
	logger   *logger.Logger
	metrics  *metrics.Metrics
	store    *store.Store
	compiler *query.Compiler
	live     *live.Manager

	mu     sync.Mutex
	closed bool
}

// Open opens the database described by cfg. A nil cfg uses DefaultConfig.
func Open(ctx context.Context, cfg *Config, opts ...Option) (*DB, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	db := &DB{cfg: cfg}
	for _, opt := range opts {
		opt(db)
	}
	if db.logger == nil {
		db.logger = logger.NewFormat(os.Stderr, cfg.Log.Format, logger.ParseLevel(cfg.Log.Level), "docquery")
	}
	if db.metrics == nil && cfg.Metrics.Enabled {
		db.metrics = metrics.New()
	}

	compiler, err := query.NewCompiler(cfg.Query.CacheSize)
	if err != nil {
		return nil, err
	}
	db.compiler = compiler

	s, err := store.Open(ctx, cfg, db.logger, db.metrics)
	if err != nil {
		return nil, err
	}
	db.store = s

	m, err := live.NewManager(s, &cfg.Live, db.logger.With("live"))
	if err != nil {
		s.Close()
		return nil, err
	}
	db.live = m
	return db, nil
}

// Config returns the configuration the database was opened with.
func (db *DB) Config() *Config {
	return db.cfg
}

// Metrics returns the database's metrics, or nil when disabled.
func (db *DB) Metrics() *Metrics {
	return db.metrics
}

func (db *DB) isClosed() bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.closed
}

// Put stores body as the new revision of document id.
func (db *DB) Put(ctx context.Context, id string, body []byte) (Revision, error) {
	return db.store.Put(ctx, Document{ID: id, Body: body})
}

// Delete writes a tombstone for document id.
func (db *DB) Delete(ctx context.Context, id string) (Revision, error) {
	return db.store.Delete(ctx, id)
}

// Get returns the current revision of document id, tombstones included.
func (db *DB) Get(ctx context.Context, id string) (*Document, error) {
	return db.store.Get(ctx, id)
}

// CreateFullTextIndex indexes the string at path of every document under name.
func (db *DB) CreateFullTextIndex(ctx context.Context, name, path string) error {
	return db.store.CreateFullTextIndex(ctx, name, path)
}

// DeleteIndex drops the named full-text index.
func (db *DB) DeleteIndex(ctx context.Context, name string) error {
	return db.store.DeleteIndex(ctx, name)
}

// Indexes lists the full-text indexes ordered by name.
func (db *DB) Indexes(ctx context.Context) ([]Index, error) {
	return db.store.Indexes(ctx)
}

// Stats reports document counts, file size and open enumerators.
func (db *DB) Stats(ctx context.Context) (*Stats, error) {
	return db.store.Stats(ctx)
}

func (db *DB) compile(ctx context.Context, q *Query) (*query.Compiled, error) {
	if db.isClosed() {
		return nil, errors.ErrDBNotOpen
	}
	compiled, err := db.compiler.Compile(q)
	if err != nil {
		return nil, err
	}
	if compiled.FullText {
		ok, err := db.store.HasIndex(ctx, compiled.Index)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", errors.ErrIndexNotFound, compiled.Index)
		}
	}
	return compiled, nil
}

func (db *DB) execute(ctx context.Context, compiled *query.Compiled) (*cursor.ResultCursor, error) {
	e, err := enumerator.Execute(ctx, db.store, compiled, enumerator.Options{
		MaxRows: db.cfg.Query.MaxRows,
		Metrics: db.metrics,
		Logger:  db.logger,
	})
	if err != nil {
		return nil, err
	}
	return cursor.New(e, cursor.WithOpHook(db.metrics.CursorOp)), nil
}

// Query runs q and returns a cursor positioned before the first row. The
// caller owns the cursor and must release it.
func (db *DB) Query(ctx context.Context, q *Query) (*cursor.ResultCursor, error) {
	compiled, err := db.compile(ctx, q)
	if err != nil {
		return nil, err
	}
	return db.execute(ctx, compiled)
}

// ParseQuery validates a JSON query definition against the query schema.
func ParseQuery(raw []byte) (*Query, error) {
	return query.Parse(raw)
}

// QueryJSON parses a JSON query definition and runs it.
func (db *DB) QueryJSON(ctx context.Context, raw []byte) (*cursor.ResultCursor, error) {
	q, err := ParseQuery(raw)
	if err != nil {
		return nil, err
	}
	return db.Query(ctx, q)
}

// Observe delivers q's result to fn now and again whenever it changes. The
// cursor passed to fn is borrowed for the duration of the call.
func (db *DB) Observe(ctx context.Context, q *Query, fn Callback) (*Observer, error) {
	compiled, err := db.compile(ctx, q)
	if err != nil {
		return nil, err
	}
	return db.live.Observe(ctx, func(ctx context.Context) (*cursor.ResultCursor, error) {
		return db.execute(ctx, compiled)
	}, fn)
}

// Close stops observers, releases leaked cursors and closes the store.
func (db *DB) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	db.mu.Unlock()

	var result *multierror.Error
	if err := db.live.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := db.store.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
