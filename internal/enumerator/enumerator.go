// Package enumerator holds the enumeration state behind a cursor.ResultCursor:
// it executes compiled queries against the store and serves rows, seeks and
// refreshes from either a recorded result buffer or a live SQL row stream.
package enumerator

import (
	"context"
	"database/sql"
	"time"

	"github.com/kartikbazzad/bunbase/docquery/cursor"
	"github.com/kartikbazzad/bunbase/docquery/internal/errors"
	"github.com/kartikbazzad/bunbase/docquery/internal/logger"
	"github.com/kartikbazzad/bunbase/docquery/internal/metrics"
	"github.com/kartikbazzad/bunbase/docquery/internal/query"
	"github.com/kartikbazzad/bunbase/docquery/internal/store"
)

// Source is the store surface an enumerator needs.
type Source interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	LastSequence(ctx context.Context) (uint64, error)
	Track(r store.Resource) error
	Untrack(r store.Resource)
}

// Options tune execution.
type Options struct {
	MaxRows int // Recorded enumerators fail beyond this many rows (0 = unlimited)
	Metrics *metrics.Metrics
	Logger  *logger.Logger
}

// Execute runs c against src and returns its enumerator, positioned before
// the first row.
func Execute(ctx context.Context, src Source, c *query.Compiled, opts Options) (cursor.Enumerator, error) {
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	start := time.Now()

	// Read the sequence first: a write racing the query makes the next refresh
	// re-run and compare, never miss a change.
	seq, err := src.LastSequence(ctx)
	if err != nil {
		return nil, errors.Execution("execute", err)
	}

	var e cursor.Enumerator
	if c.Streaming {
		s, err := newStreaming(ctx, src, c, seq, opts)
		if err != nil {
			return nil, err
		}
		e = s
		opts.Metrics.QueryExecuted("streaming", time.Since(start))
	} else {
		r, err := newRecorded(ctx, src, c, seq, opts)
		if err != nil {
			return nil, err
		}
		e = r
		opts.Metrics.QueryExecuted("recorded", time.Since(start))
	}

	if err := src.Track(e.(store.Resource)); err != nil {
		e.Close()
		return nil, errors.Execution("execute", err)
	}
	opts.Logger.Debug("Executed query (streaming=%v, last_sequence=%d) in %v", c.Streaming, seq, time.Since(start))
	return e, nil
}

func scanRow(rows *sql.Rows, c *query.Compiled, dst []byte) ([]byte, error) {
	vals := make([]any, c.ScanWidth())
	ptrs := make([]any, len(vals))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return dst, err
	}
	return encodeRow(dst, vals, c)
}

// rowAccessors implements the per-row half of cursor.Enumerator for any
// enumerator that can hand out its current encoded row.
type rowAccessors struct {
	current func(op string) (row, error)
}

func (a rowAccessors) DocID() (string, error) {
	r, err := a.current("docID")
	if err != nil {
		return "", err
	}
	return r.docID()
}

func (a rowAccessors) Sequence() (uint64, error) {
	r, err := a.current("sequence")
	if err != nil {
		return 0, err
	}
	return r.sequence()
}

func (a rowAccessors) RevisionID() (string, error) {
	r, err := a.current("revisionID")
	if err != nil {
		return "", err
	}
	return r.revisionID()
}

func (a rowAccessors) Flags() (uint32, error) {
	r, err := a.current("flags")
	if err != nil {
		return 0, err
	}
	return r.flags()
}

func (a rowAccessors) Columns() ([]byte, error) {
	r, err := a.current("columns")
	if err != nil {
		return nil, err
	}
	return r.columns()
}

func (a rowAccessors) FullTextMatched() ([]byte, error) {
	r, err := a.current("fullTextMatched")
	if err != nil {
		return nil, err
	}
	return r.matchedText()
}

func (a rowAccessors) FullTextTermCount() (int, error) {
	r, err := a.current("fullTextTermCount")
	if err != nil {
		return 0, err
	}
	return r.termCount()
}

func (a rowAccessors) FullTextTerm(i int) (index, start, length int, err error) {
	r, err := a.current("fullTextTerm")
	if err != nil {
		return 0, 0, 0, err
	}
	return r.term(i)
}
