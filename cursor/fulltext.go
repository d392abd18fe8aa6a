package cursor

import (
	"github.com/kartikbazzad/bunbase/docquery/internal/errors"
)

// Term is one located occurrence of a query term in the matched text.
type Term struct {
	Index  int // Position of the term in the query's term list
	Start  int // Byte offset into MatchedText
	Length int // Byte length
}

// FullTextMatch is a view of the full-text match of the row a cursor was on
// when the view was created. Every method fails with ErrInvalidCursorState
// once the cursor has moved or been released.
//
// For queries without a full-text predicate, MatchedText is nil and
// TermCount is 0.
type FullTextMatch struct {
	cursor     *ResultCursor
	generation uint64
}

func (m *FullTextMatch) valid(op string) error {
	if err := m.cursor.onRow(op); err != nil {
		return err
	}
	if m.cursor.generation != m.generation {
		return errors.InvalidState(op, "cursor moved since the match was taken")
	}
	return nil
}

// MatchedText returns a copy of the indexed text that matched.
func (m *FullTextMatch) MatchedText() ([]byte, error) {
	if err := m.valid("matchedText"); err != nil {
		return nil, err
	}
	text, err := m.cursor.enum.FullTextMatched()
	if err != nil {
		return nil, wrapErr("matchedText", err)
	}
	if text == nil {
		return nil, nil
	}
	return append([]byte(nil), text...), nil
}

// TermCount returns how many term occurrences were located.
func (m *FullTextMatch) TermCount() (int, error) {
	if err := m.valid("termCount"); err != nil {
		return 0, err
	}
	n, err := m.cursor.enum.FullTextTermCount()
	return n, wrapErr("termCount", err)
}

// Term returns occurrence i, for i in [0, TermCount()).
func (m *FullTextMatch) Term(i int) (Term, error) {
	if err := m.valid("term"); err != nil {
		return Term{}, err
	}
	n, err := m.cursor.enum.FullTextTermCount()
	if err != nil {
		return Term{}, wrapErr("term", err)
	}
	if i < 0 || i >= n {
		return Term{}, errors.OutOfRange("term", int64(i), int64(n))
	}
	idx, start, length, err := m.cursor.enum.FullTextTerm(i)
	if err != nil {
		return Term{}, wrapErr("term", err)
	}
	return Term{Index: idx, Start: start, Length: length}, nil
}

// TermIndex returns the query term position of occurrence i.
func (m *FullTextMatch) TermIndex(i int) (int, error) {
	t, err := m.Term(i)
	return t.Index, err
}

// TextStart returns the byte offset of occurrence i in MatchedText.
func (m *FullTextMatch) TextStart(i int) (int, error) {
	t, err := m.Term(i)
	return t.Start, err
}

// TextLength returns the byte length of occurrence i.
func (m *FullTextMatch) TextLength(i int) (int, error) {
	t, err := m.Term(i)
	return t.Length, err
}

// Terms returns every located occurrence in order of Start.
func (m *FullTextMatch) Terms() ([]Term, error) {
	n, err := m.TermCount()
	if err != nil {
		return nil, err
	}
	terms := make([]Term, 0, n)
	for i := 0; i < n; i++ {
		t, err := m.Term(i)
		if err != nil {
			return nil, err
		}
		terms = append(terms, t)
	}
	return terms, nil
}
