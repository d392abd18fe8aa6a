// Package cursor exposes query results as a ResultCursor: sequential
// advance, random seek, refresh and per-row accessors over an Enumerator.
//
// A ResultCursor owns its enumerator. It must be released with Release or
// Close once the caller is done; a cleanup attached at construction frees
// leaked enumerators eventually, but index read-locks and recorded rows are
// held until that happens.
//
// A ResultCursor is not safe for concurrent use.
package cursor

import (
	"runtime"

	"github.com/kartikbazzad/bunbase/docquery/internal/errors"
	"github.com/kartikbazzad/bunbase/docquery/internal/store"
)

// Enumerator is the enumeration state behind a cursor. Row accessors refer to
// the row selected by the most recent successful Next or Seek.
type Enumerator interface {
	Next() (bool, error)
	Seek(row int64) (bool, error)
	RowCount() (int64, error)
	Refresh() (Enumerator, error) // nil when the result is unchanged
	Close()
	Free()
	Abandoned() bool // the store closed underneath the enumerator

	DocID() (string, error)
	Sequence() (uint64, error)
	RevisionID() (string, error)
	Flags() (uint32, error)
	Columns() ([]byte, error)
	FullTextMatched() ([]byte, error)
	FullTextTermCount() (int, error)
	FullTextTerm(i int) (index, start, length int, err error)
}

// DocumentFlags are the per-row document flags.
type DocumentFlags = store.DocumentFlags

const (
	FlagDeleted        = store.FlagDeleted
	FlagConflicted     = store.FlagConflicted
	FlagHasAttachments = store.FlagHasAttachments
	FlagExists         = store.FlagExists
)

// OpHook observes every cursor operation and its outcome.
type OpHook func(op string, err error)

// Option configures a ResultCursor.
type Option func(*ResultCursor)

// WithOpHook installs h on the cursor and on cursors produced by its Refresh.
func WithOpHook(h OpHook) Option {
	return func(c *ResultCursor) { c.hook = h }
}

// ResultCursor iterates the rows of one query execution.
type ResultCursor struct {
	enum       Enumerator // nil once released
	closed     bool
	positioned bool
	generation uint64 // bumped on every position change
	cleanup    runtime.Cleanup
	hook       OpHook
}

// New takes ownership of e. The cursor starts before the first row.
func New(e Enumerator, opts ...Option) *ResultCursor {
	c := &ResultCursor{enum: e}
	for _, opt := range opts {
		opt(c)
	}
	c.cleanup = runtime.AddCleanup(c, func(e Enumerator) { e.Free() }, e)
	return c
}

func (c *ResultCursor) observe(op string, err error) error {
	if c.hook != nil {
		c.hook(op, err)
	}
	return err
}

// wrapErr gives enumerator failures a cursor error kind.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, errors.ErrQueryExecution) ||
		errors.Is(err, errors.ErrInvalidCursorState) ||
		errors.Is(err, errors.ErrIndexOutOfRange) {
		return err
	}
	return errors.Execution(op, err)
}

func (c *ResultCursor) live(op string) error {
	if c.enum == nil {
		return errors.InvalidState(op, "cursor released")
	}
	if c.closed {
		return errors.InvalidState(op, "cursor closed")
	}
	if c.enum.Abandoned() {
		return errors.InvalidState(op, "database closed")
	}
	return nil
}

func (c *ResultCursor) onRow(op string) error {
	if err := c.live(op); err != nil {
		return err
	}
	if !c.positioned {
		return errors.InvalidState(op, "cursor not positioned on a row")
	}
	return nil
}

func (c *ResultCursor) move(ok bool) {
	c.positioned = ok
	c.generation++
}

// Next advances to the next row and reports whether there is one. Reaching
// the end does not release the cursor. On error the position is unchanged.
func (c *ResultCursor) Next() (bool, error) {
	if err := c.live("next"); err != nil {
		return false, c.observe("next", err)
	}
	ok, err := c.enum.Next()
	if err != nil {
		return false, c.observe("next", wrapErr("next", err))
	}
	c.move(ok)
	return ok, c.observe("next", nil)
}

// Seek moves to the zero-based row. It reports false when row is past the
// end; a negative row fails with ErrIndexOutOfRange.
func (c *ResultCursor) Seek(row int64) (bool, error) {
	if err := c.live("seek"); err != nil {
		return false, c.observe("seek", err)
	}
	if row < 0 {
		return false, c.observe("seek", errors.New("seek", errors.ErrIndexOutOfRange, nil))
	}
	ok, err := c.enum.Seek(row)
	if err != nil {
		return false, c.observe("seek", wrapErr("seek", err))
	}
	c.move(ok)
	return ok, c.observe("seek", nil)
}

// RowCount returns the number of rows in the result.
func (c *ResultCursor) RowCount() (int64, error) {
	if err := c.live("rowCount"); err != nil {
		return 0, c.observe("rowCount", err)
	}
	n, err := c.enum.RowCount()
	return n, c.observe("rowCount", wrapErr("rowCount", err))
}

// Refresh checks whether the result has changed since the query ran. It
// returns nil if it has not, or if the cursor is released (see IsReleased). Otherwise it
// returns a new cursor, positioned before its first row, which the caller
// owns. c itself is not modified.
func (c *ResultCursor) Refresh() (*ResultCursor, error) {
	if c.live("refresh") != nil {
		return nil, nil
	}
	next, err := c.enum.Refresh()
	if err != nil {
		return nil, c.observe("refresh", wrapErr("refresh", err))
	}
	c.observe("refresh", nil)
	if next == nil {
		return nil, nil
	}
	return New(next, WithOpHook(c.hook)), nil
}

// Close releases the cursor's resources early. It never fails on a released
// cursor and may be called any number of times.
func (c *ResultCursor) Close() error {
	if c.enum != nil && !c.closed {
		c.closed = true
		c.positioned = false
		c.generation++
		c.enum.Close()
	}
	c.Release()
	return nil
}

// Release frees the enumerator. Later calls are no-ops.
func (c *ResultCursor) Release() {
	if c.enum == nil {
		return
	}
	e := c.enum
	c.enum = nil
	c.positioned = false
	c.generation++
	c.cleanup.Stop()
	e.Free()
}

// IsReleased reports whether Release or Close has been called, or the
// database was closed underneath the cursor. Release is still required in
// the last case.
func (c *ResultCursor) IsReleased() bool {
	return c.enum == nil || c.closed || c.enum.Abandoned()
}

// DocID returns the current row's document ID.
func (c *ResultCursor) DocID() (string, error) {
	if err := c.onRow("docID"); err != nil {
		return "", err
	}
	id, err := c.enum.DocID()
	return id, wrapErr("docID", err)
}

// Sequence returns the current row's sequence number.
func (c *ResultCursor) Sequence() (uint64, error) {
	if err := c.onRow("sequence"); err != nil {
		return 0, err
	}
	seq, err := c.enum.Sequence()
	return seq, wrapErr("sequence", err)
}

// RevisionID returns the current row's revision ID.
func (c *ResultCursor) RevisionID() (string, error) {
	if err := c.onRow("revisionID"); err != nil {
		return "", err
	}
	rev, err := c.enum.RevisionID()
	return rev, wrapErr("revisionID", err)
}

// Flags returns the current row's document flags.
func (c *ResultCursor) Flags() (DocumentFlags, error) {
	if err := c.onRow("flags"); err != nil {
		return 0, err
	}
	f, err := c.enum.Flags()
	return DocumentFlags(f), wrapErr("flags", err)
}

// Columns returns an iterator over the current row's selected values. The
// iterator stays usable after the cursor moves.
func (c *ResultCursor) Columns() (*ColumnIterator, error) {
	if err := c.onRow("columns"); err != nil {
		return nil, err
	}
	b, err := c.enum.Columns()
	if err != nil {
		return nil, wrapErr("columns", err)
	}
	return newColumnIterator(b)
}

// FullTextMatch returns a view of the current row's full-text match. The
// view is invalid once the cursor moves.
func (c *ResultCursor) FullTextMatch() (*FullTextMatch, error) {
	if err := c.onRow("fullTextMatch"); err != nil {
		return nil, err
	}
	return &FullTextMatch{cursor: c, generation: c.generation}, nil
}
