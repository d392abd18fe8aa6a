package enumerator

import (
	"context"
	"database/sql"
	"sync"

	"github.com/kartikbazzad/bunbase/docquery/cursor"
	"github.com/kartikbazzad/bunbase/docquery/internal/errors"
	"github.com/kartikbazzad/bunbase/docquery/internal/query"
)

// Streaming reads rows from the database as the caller advances. Only the
// current row is held in memory, so it can neither seek nor count.
type Streaming struct {
	rowAccessors

	mu       sync.Mutex
	src      Source
	compiled *query.Compiled
	opts     Options
	lastSeq  uint64
	rows     *sql.Rows // nil once exhausted or closed
	cur      row

	closed    bool
	freed     bool
	abandoned bool
}

var _ cursor.Enumerator = (*Streaming)(nil)

func newStreaming(ctx context.Context, src Source, c *query.Compiled, seq uint64, opts Options) (*Streaming, error) {
	// The rows outlive the call that opened them.
	rows, err := src.QueryContext(context.WithoutCancel(ctx), c.SQL, c.Args...)
	if err != nil {
		return nil, errors.Execution("query", err)
	}
	s := &Streaming{
		src:      src,
		compiled: c,
		opts:     opts,
		lastSeq:  seq,
		rows:     rows,
	}
	s.rowAccessors = rowAccessors{current: s.current}
	return s, nil
}

func (s *Streaming) usable(op string) error {
	if s.freed {
		return errors.InvalidState(op, "enumerator freed")
	}
	if s.closed {
		return errors.InvalidState(op, "enumerator closed")
	}
	return nil
}

func (s *Streaming) current(op string) (row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(op); err != nil {
		return nil, err
	}
	if s.cur == nil {
		return nil, errors.InvalidState(op, "not positioned on a row")
	}
	return s.cur, nil
}

func (s *Streaming) closeRows() error {
	if s.rows == nil {
		return nil
	}
	err := s.rows.Close()
	s.rows = nil
	return err
}

func (s *Streaming) Next() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable("next"); err != nil {
		return false, err
	}
	s.cur = nil
	if s.rows == nil {
		return false, nil
	}
	if !s.rows.Next() {
		err := s.rows.Err()
		s.closeRows()
		if err != nil {
			return false, errors.Execution("next", err)
		}
		return false, nil
	}
	b, err := scanRow(s.rows, s.compiled, nil)
	if err != nil {
		s.closeRows()
		return false, errors.Execution("scan", err)
	}
	s.cur = row(b)
	return true, nil
}

func (s *Streaming) Seek(int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable("seek"); err != nil {
		return false, err
	}
	return false, errors.Execution("seek", errors.ErrRandomAccessUnsupported)
}

func (s *Streaming) RowCount() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable("rowCount"); err != nil {
		return 0, err
	}
	return 0, errors.Execution("rowCount", errors.ErrRandomAccessUnsupported)
}

// Refresh returns nil when the store has not been written since this query
// ran. Otherwise it returns a new streaming enumerator over the current data;
// rows are not compared, since they have not been kept.
func (s *Streaming) Refresh() (cursor.Enumerator, error) {
	s.mu.Lock()
	if err := s.usable("refresh"); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	src, c, opts, lastSeq := s.src, s.compiled, s.opts, s.lastSeq
	s.mu.Unlock()

	ctx := context.Background()
	seq, err := src.LastSequence(ctx)
	if err != nil {
		opts.Metrics.Refresh(false, err)
		return nil, errors.Execution("refresh", err)
	}
	if seq == lastSeq {
		opts.Metrics.Refresh(false, nil)
		return nil, nil
	}
	next, err := Execute(ctx, src, c, opts)
	if err != nil {
		opts.Metrics.Refresh(false, err)
		return nil, err
	}
	opts.Metrics.Refresh(true, nil)
	return next, nil
}

func (s *Streaming) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cur = nil
	if err := s.closeRows(); err != nil {
		s.opts.Logger.Warn("Failed to close result rows: %v", err)
	}
}

func (s *Streaming) Free() {
	s.mu.Lock()
	if s.freed {
		s.mu.Unlock()
		return
	}
	s.freed = true
	s.closed = true
	s.cur = nil
	err := s.closeRows()
	s.mu.Unlock()

	if err != nil {
		s.opts.Logger.Warn("Failed to close result rows: %v", err)
	}
	s.src.Untrack(s)
}

// Abandon releases the open statement when the store closes under it.
func (s *Streaming) Abandon() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abandoned = true
	s.closed = true
	s.cur = nil
	return s.closeRows()
}

func (s *Streaming) Abandoned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.abandoned
}
