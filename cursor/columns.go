package cursor

import (
	"fmt"

	"github.com/tinylib/msgp/msgp"

	"github.com/kartikbazzad/bunbase/docquery/internal/errors"
)

// ColumnIterator walks the selected values of one row in the order the
// query named them. It owns a copy of the row's column data.
type ColumnIterator struct {
	data  []byte
	count int
	read  int
	cur   []byte
	err   error
}

func newColumnIterator(b []byte) (*ColumnIterator, error) {
	sz, rest, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return nil, errors.Execution("columns", fmt.Errorf("%w: %v", errors.ErrCorruptRow, err))
	}
	return &ColumnIterator{data: append([]byte(nil), rest...), count: int(sz)}, nil
}

// Count returns the number of columns.
func (it *ColumnIterator) Count() int {
	return it.count
}

// Next moves to the next column and reports whether there is one. It
// returns false at the end or on corrupt data; check Err.
func (it *ColumnIterator) Next() bool {
	if it.err != nil || it.read >= it.count {
		it.cur = nil
		return false
	}
	rest, err := msgp.Skip(it.data)
	if err != nil {
		it.err = errors.Execution("columns", fmt.Errorf("%w: column %d: %v", errors.ErrCorruptRow, it.read, err))
		it.cur = nil
		return false
	}
	it.cur = it.data[:len(it.data)-len(rest)]
	it.data = rest
	it.read++
	return true
}

// Err returns the error that stopped iteration, if any.
func (it *ColumnIterator) Err() error {
	return it.err
}

// Raw returns the current column's msgpack encoding.
func (it *ColumnIterator) Raw() []byte {
	return it.cur
}

// Value decodes the current column: nil, int64, float64, string, []byte or
// bool. Whole-document columns are returned as their JSON text.
func (it *ColumnIterator) Value() (any, error) {
	if it.cur == nil {
		return nil, errors.InvalidState("column", "iterator not positioned on a column")
	}
	v, _, err := msgp.ReadIntfBytes(it.cur)
	if err != nil {
		return nil, errors.Execution("column", fmt.Errorf("%w: %v", errors.ErrCorruptRow, err))
	}
	return v, nil
}

// Values decodes every remaining column.
func (it *ColumnIterator) Values() ([]any, error) {
	var vals []any
	for it.Next() {
		v, err := it.Value()
		if err != nil {
			return nil, err
		}
		vals = append(vals, v)
	}
	if it.err != nil {
		return nil, it.err
	}
	return vals, nil
}
