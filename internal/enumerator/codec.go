package enumerator

import (
	"fmt"

	"github.com/tinylib/msgp/msgp"

	"github.com/kartikbazzad/bunbase/docquery/internal/errors"
	"github.com/kartikbazzad/bunbase/docquery/internal/query"
	"github.com/kartikbazzad/bunbase/docquery/internal/store"
)

// Packed row layout, one msgpack array per row:
//
//	[docID str|nil, sequence uint, revID str|nil, flags uint, columns array,
//	 matchedText bin|nil, terms array]
//
// terms is flat: termIndex, start, length repeated.
const (
	fieldDocID = iota
	fieldSequence
	fieldRevision
	fieldFlags
	fieldColumns
	fieldMatched
	fieldTerms
	rowFields
)

// row is one encoded result row. Fields are decoded on every access.
type row []byte

func asInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case float64:
		return int64(x), nil
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("unexpected integer value %T", v)
	}
}

func appendOptString(dst []byte, v any) []byte {
	switch x := v.(type) {
	case string:
		if x == "" {
			return msgp.AppendNil(dst)
		}
		return msgp.AppendString(dst, x)
	case []byte:
		if len(x) == 0 {
			return msgp.AppendNil(dst)
		}
		return msgp.AppendString(dst, string(x))
	default:
		return msgp.AppendNil(dst)
	}
}

func textBytes(v any) []byte {
	switch x := v.(type) {
	case string:
		return []byte(x)
	case []byte:
		return x
	default:
		return nil
	}
}

// encodeRow appends the packed form of one scanned SQL row to dst.
func encodeRow(dst []byte, vals []any, c *query.Compiled) ([]byte, error) {
	if len(vals) != c.ScanWidth() {
		return dst, fmt.Errorf("%w: scanned %d columns, want %d", errors.ErrCorruptRow, len(vals), c.ScanWidth())
	}

	seq, err := asInt64(vals[query.ColSequence])
	if err != nil {
		return dst, err
	}
	flags, err := asInt64(vals[query.ColFlags])
	if err != nil {
		return dst, err
	}

	dst = msgp.AppendArrayHeader(dst, rowFields)
	dst = appendOptString(dst, vals[query.ColDocID])
	dst = msgp.AppendUint64(dst, uint64(seq))
	dst = appendOptString(dst, vals[query.ColRevision])
	dst = msgp.AppendUint32(dst, uint32(flags)|uint32(store.FlagExists))

	cols := vals[query.FixedColumns : query.FixedColumns+len(c.ColumnNames)]
	dst = msgp.AppendArrayHeader(dst, uint32(len(cols)))
	for _, v := range cols {
		if dst, err = msgp.AppendIntf(dst, v); err != nil {
			return dst, fmt.Errorf("encode column: %w", err)
		}
	}

	if !c.FullText {
		dst = msgp.AppendNil(dst)
		return msgp.AppendArrayHeader(dst, 0), nil
	}

	text := textBytes(vals[len(vals)-1])
	if text == nil {
		dst = msgp.AppendNil(dst)
	} else {
		dst = msgp.AppendBytes(dst, text)
	}
	spans := query.Locate(text, c.Terms)
	dst = msgp.AppendArrayHeader(dst, uint32(3*len(spans)))
	for _, s := range spans {
		dst = msgp.AppendInt(dst, s.TermIndex)
		dst = msgp.AppendInt(dst, s.Start)
		dst = msgp.AppendInt(dst, s.Length)
	}
	return dst, nil
}

func corrupt(err error) error {
	return fmt.Errorf("%w: %v", errors.ErrCorruptRow, err)
}

// field returns the bytes starting at field n of the row.
func (r row) field(n int) ([]byte, error) {
	sz, b, err := msgp.ReadArrayHeaderBytes(r)
	if err != nil {
		return nil, corrupt(err)
	}
	if int(sz) != rowFields {
		return nil, corrupt(fmt.Errorf("row has %d fields", sz))
	}
	for i := 0; i < n; i++ {
		if b, err = msgp.Skip(b); err != nil {
			return nil, corrupt(err)
		}
	}
	return b, nil
}

func (r row) optString(n int) (string, error) {
	b, err := r.field(n)
	if err != nil {
		return "", err
	}
	if msgp.IsNil(b) {
		return "", nil
	}
	s, _, err := msgp.ReadStringBytes(b)
	if err != nil {
		return "", corrupt(err)
	}
	return s, nil
}

func (r row) docID() (string, error) {
	return r.optString(fieldDocID)
}

func (r row) revisionID() (string, error) {
	return r.optString(fieldRevision)
}

func (r row) sequence() (uint64, error) {
	b, err := r.field(fieldSequence)
	if err != nil {
		return 0, err
	}
	seq, _, err := msgp.ReadUint64Bytes(b)
	if err != nil {
		return 0, corrupt(err)
	}
	return seq, nil
}

func (r row) flags() (uint32, error) {
	b, err := r.field(fieldFlags)
	if err != nil {
		return 0, err
	}
	f, _, err := msgp.ReadUint32Bytes(b)
	if err != nil {
		return 0, corrupt(err)
	}
	return f, nil
}

// columns returns the encoded columns array, header included.
func (r row) columns() ([]byte, error) {
	b, err := r.field(fieldColumns)
	if err != nil {
		return nil, err
	}
	rest, err := msgp.Skip(b)
	if err != nil {
		return nil, corrupt(err)
	}
	return b[:len(b)-len(rest)], nil
}

func (r row) matchedText() ([]byte, error) {
	b, err := r.field(fieldMatched)
	if err != nil {
		return nil, err
	}
	if msgp.IsNil(b) {
		return nil, nil
	}
	text, _, err := msgp.ReadBytesZC(b)
	if err != nil {
		return nil, corrupt(err)
	}
	return text, nil
}

func (r row) terms() (int, []byte, error) {
	b, err := r.field(fieldTerms)
	if err != nil {
		return 0, nil, err
	}
	sz, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return 0, nil, corrupt(err)
	}
	if sz%3 != 0 {
		return 0, nil, corrupt(fmt.Errorf("term array length %d", sz))
	}
	return int(sz / 3), b, nil
}

func (r row) termCount() (int, error) {
	n, _, err := r.terms()
	return n, err
}

func (r row) term(i int) (index, start, length int, err error) {
	n, b, err := r.terms()
	if err != nil {
		return 0, 0, 0, err
	}
	if i < 0 || i >= n {
		return 0, 0, 0, errors.OutOfRange("fullTextTerm", int64(i), int64(n))
	}
	for k := 0; k < 3*i; k++ {
		if b, err = msgp.Skip(b); err != nil {
			return 0, 0, 0, corrupt(err)
		}
	}
	var vals [3]int
	for k := range vals {
		if vals[k], b, err = msgp.ReadIntBytes(b); err != nil {
			return 0, 0, 0, corrupt(err)
		}
	}
	return vals[0], vals[1], vals[2], nil
}
