package enumerator

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/kartikbazzad/bunbase/docquery/cursor"
	"github.com/kartikbazzad/bunbase/docquery/internal/errors"
	"github.com/kartikbazzad/bunbase/docquery/internal/query"
)

// Recorded holds a fully materialized result: every row packed back to back
// in one buffer, with an offsets table for random access.
type Recorded struct {
	rowAccessors

	mu       sync.Mutex
	src      Source
	compiled *query.Compiled
	opts     Options
	lastSeq  uint64
	buf      []byte
	offsets  []int // offsets[i] is the start of row i; len(offsets) = rows+1
	pos      int64 // -1 before the first row; rows after the last

	closed    bool
	freed     bool
	abandoned bool
}

var _ cursor.Enumerator = (*Recorded)(nil)

func newRecorded(ctx context.Context, src Source, c *query.Compiled, seq uint64, opts Options) (*Recorded, error) {
	rows, err := src.QueryContext(ctx, c.SQL, c.Args...)
	if err != nil {
		return nil, errors.Execution("query", err)
	}
	defer rows.Close()

	r := &Recorded{
		src:      src,
		compiled: c,
		opts:     opts,
		lastSeq:  seq,
		offsets:  []int{0},
		pos:      -1,
	}
	r.rowAccessors = rowAccessors{current: r.current}

	for rows.Next() {
		if opts.MaxRows > 0 && len(r.offsets) > opts.MaxRows {
			return nil, errors.Execution("query", fmt.Errorf("%w: more than %d rows", errors.ErrResultTooLarge, opts.MaxRows))
		}
		if r.buf, err = scanRow(rows, c, r.buf); err != nil {
			return nil, errors.Execution("scan", err)
		}
		r.offsets = append(r.offsets, len(r.buf))
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Execution("query", err)
	}
	return r, nil
}

func (r *Recorded) rows() int64 {
	return int64(len(r.offsets) - 1)
}

func (r *Recorded) usable(op string) error {
	if r.freed {
		return errors.InvalidState(op, "enumerator freed")
	}
	if r.closed {
		return errors.InvalidState(op, "enumerator closed")
	}
	return nil
}

func (r *Recorded) current(op string) (row, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.usable(op); err != nil {
		return nil, err
	}
	if r.pos < 0 || r.pos >= r.rows() {
		return nil, errors.InvalidState(op, "not positioned on a row")
	}
	return row(r.buf[r.offsets[r.pos]:r.offsets[r.pos+1]]), nil
}

func (r *Recorded) Next() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.usable("next"); err != nil {
		return false, err
	}
	if r.pos < r.rows() {
		r.pos++
	}
	return r.pos < r.rows(), nil
}

func (r *Recorded) Seek(i int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.usable("seek"); err != nil {
		return false, err
	}
	n := r.rows()
	if i < 0 || i >= n {
		r.pos = n
		return false, nil
	}
	r.pos = i
	return true, nil
}

func (r *Recorded) RowCount() (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.usable("rowCount"); err != nil {
		return 0, err
	}
	return r.rows(), nil
}

// Refresh returns nil when the store has not changed since the result was
// recorded, or when re-running the query produces identical rows. Otherwise
// it returns a new enumerator positioned before its first row.
func (r *Recorded) Refresh() (cursor.Enumerator, error) {
	r.mu.Lock()
	if err := r.usable("refresh"); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	src, c, opts, lastSeq := r.src, r.compiled, r.opts, r.lastSeq
	r.mu.Unlock()

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

	fresh, err := Execute(ctx, src, c, opts)
	if err != nil {
		opts.Metrics.Refresh(false, err)
		return nil, err
	}
	next := fresh.(*Recorded)

	r.mu.Lock()
	same := bytes.Equal(r.buf, next.buf) && len(r.offsets) == len(next.offsets)
	if same {
		r.lastSeq = next.lastSeq
	}
	r.mu.Unlock()

	if same {
		next.Free()
		opts.Metrics.Refresh(false, nil)
		opts.Logger.Debug("Refresh at sequence %d: rows unchanged", seq)
		return nil, nil
	}
	opts.Metrics.Refresh(true, nil)
	opts.Logger.Debug("Refresh at sequence %d: %d rows", seq, next.rows())
	return next, nil
}

func (r *Recorded) Abandoned() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.abandoned
}

// Close drops the recorded rows. Accessors fail afterwards.
func (r *Recorded) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.buf = nil
	r.offsets = []int{0}
}

// Free closes the enumerator and detaches it from the store. Freeing twice
// is a no-op.
func (r *Recorded) Free() {
	r.mu.Lock()
	if r.freed {
		r.mu.Unlock()
		return
	}
	r.freed = true
	r.closed = true
	r.buf = nil
	r.offsets = []int{0}
	r.mu.Unlock()

	r.src.Untrack(r)
}

// Abandon is called by the store when it closes underneath a live result.
func (r *Recorded) Abandon() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.abandoned = true
	r.closed = true
	r.buf = nil
	r.offsets = []int{0}
	return nil
}
