package enumerator

import (
	"context"
	"fmt"
	"testing"

	"github.com/tinylib/msgp/msgp"

	"github.com/kartikbazzad/bunbase/docquery/cursor"
	"github.com/kartikbazzad/bunbase/docquery/internal/config"
	"github.com/kartikbazzad/bunbase/docquery/internal/errors"
	"github.com/kartikbazzad/bunbase/docquery/internal/logger"
	"github.com/kartikbazzad/bunbase/docquery/internal/metrics"
	"github.com/kartikbazzad/bunbase/docquery/internal/query"
	"github.com/kartikbazzad/bunbase/docquery/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	s, err := store.Open(context.Background(), cfg, logger.Discard(), metrics.New())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func put(t *testing.T, s *store.Store, id, body string) {
	t.Helper()
	if _, err := s.Put(context.Background(), store.Document{ID: id, Body: []byte(body)}); err != nil {
		t.Fatalf("put %s: %v", id, err)
	}
}

func compile(t *testing.T, q *query.Query) *query.Compiled {
	t.Helper()
	c, err := query.NewCompiler(8)
	if err != nil {
		t.Fatalf("NewCompiler: %v", err)
	}
	compiled, err := c.Compile(q)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return compiled
}

func execute(t *testing.T, s *store.Store, q *query.Query, opts Options) cursor.Enumerator {
	t.Helper()
	e, err := Execute(context.Background(), s, compile(t, q), opts)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	t.Cleanup(e.Free)
	return e
}

func docIDs(t *testing.T, e cursor.Enumerator) []string {
	t.Helper()
	var ids []string
	for {
		ok, err := e.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			return ids
		}
		id, err := e.DocID()
		if err != nil {
			t.Fatalf("DocID: %v", err)
		}
		ids = append(ids, id)
	}
}

func seedPeople(t *testing.T, s *store.Store) {
	put(t, s, "ann", `{"name":"Ann","age":31,"type":"user"}`)
	put(t, s, "bob", `{"name":"Bob","age":25,"type":"user"}`)
	put(t, s, "cat", `{"name":"Cat","age":40,"type":"admin"}`)
}

func TestRecordedRows(t *testing.T) {
	s := openTestStore(t)
	seedPeople(t, s)

	e := execute(t, s, &query.Query{
		What:    []string{"name", "age"},
		Where:   []query.Expression{{Field: "type", Op: "eq", Value: "user"}},
		OrderBy: []query.OrderSpec{{Field: "age"}},
	}, Options{})

	n, err := e.RowCount()
	if err != nil || n != 2 {
		t.Fatalf("RowCount = %d, %v", n, err)
	}
	if ok, err := e.Next(); !ok || err != nil {
		t.Fatalf("Next = %v, %v", ok, err)
	}

	id, _ := e.DocID()
	seq, _ := e.Sequence()
	rev, _ := e.RevisionID()
	flags, _ := e.Flags()
	if id != "bob" || seq != 2 || store.Generation(rev) != 1 {
		t.Errorf("row = %s/%d/%s", id, seq, rev)
	}
	if store.DocumentFlags(flags)&store.FlagExists == 0 {
		t.Errorf("flags = %v", store.DocumentFlags(flags))
	}

	cols, err := e.Columns()
	if err != nil {
		t.Fatalf("Columns: %v", err)
	}
	if n, _, err := msgp.ReadArrayHeaderBytes(cols); err != nil || n != 2 {
		t.Errorf("columns header = %d, %v", n, err)
	}

	if ok, _ := e.Seek(1); !ok {
		t.Fatal("Seek(1) failed")
	}
	if id, _ := e.DocID(); id != "ann" {
		t.Errorf("Seek(1) DocID = %q", id)
	}
	if ok, _ := e.Seek(2); ok {
		t.Error("Seek(2) succeeded on a two-row result")
	}
	if _, err := e.DocID(); !errors.Is(err, errors.ErrInvalidCursorState) {
		t.Errorf("DocID past end: %v", err)
	}
}

func TestColumnsThroughCursor(t *testing.T) {
	s := openTestStore(t)
	seedPeople(t, s)

	compiled := compile(t, &query.Query{What: []string{"name", "age", "missing"}, Where: []query.Expression{{Field: "name", Op: "eq", Value: "Cat"}}})
	e, err := Execute(context.Background(), s, compiled, Options{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	c := cursor.New(e)
	defer c.Release()

	if ok, err := c.Next(); !ok || err != nil {
		t.Fatalf("Next = %v, %v", ok, err)
	}
	it, err := c.Columns()
	if err != nil {
		t.Fatalf("Columns: %v", err)
	}
	vals, err := it.Values()
	if err != nil {
		t.Fatalf("Values: %v", err)
	}
	if len(vals) != 3 || vals[0] != "Cat" || vals[1] != int64(40) || vals[2] != nil {
		t.Errorf("Values = %#v", vals)
	}
}

func TestDeletedDocumentsExcluded(t *testing.T) {
	s := openTestStore(t)
	seedPeople(t, s)
	if _, err := s.Delete(context.Background(), "bob"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	e := execute(t, s, &query.Query{}, Options{})
	if got := fmt.Sprint(docIDs(t, e)); got != "[ann cat]" {
		t.Errorf("ids = %s", got)
	}

	e = execute(t, s, &query.Query{IncludeDeleted: true}, Options{})
	if got := fmt.Sprint(docIDs(t, e)); got != "[ann bob cat]" {
		t.Errorf("ids with deleted = %s", got)
	}
}

func TestRecordingLimit(t *testing.T) {
	s := openTestStore(t)
	seedPeople(t, s)

	_, err := Execute(context.Background(), s, compile(t, &query.Query{}), Options{MaxRows: 2})
	if !errors.Is(err, errors.ErrQueryExecution) || !errors.Is(err, errors.ErrResultTooLarge) {
		t.Fatalf("got %v, want ErrResultTooLarge", err)
	}
	if n := s.OpenResources(); n != 0 {
		t.Errorf("OpenResources = %d after failed execution", n)
	}

	e := execute(t, s, &query.Query{}, Options{MaxRows: 3})
	if n, _ := e.RowCount(); n != 3 {
		t.Errorf("RowCount = %d", n)
	}
}

func TestFullTextSpans(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.CreateFullTextIndex(ctx, "bio", "bio"); err != nil {
		t.Fatalf("CreateFullTextIndex: %v", err)
	}
	put(t, s, "doc1", `{"bio":"brown fox"}`)
	put(t, s, "doc2", `{"bio":"lazy dog"}`)

	e := execute(t, s, &query.Query{Match: &query.Match{Index: "bio", Text: "brown fox"}}, Options{})
	if ok, err := e.Next(); !ok || err != nil {
		t.Fatalf("Next = %v, %v", ok, err)
	}
	if id, _ := e.DocID(); id != "doc1" {
		t.Fatalf("DocID = %q", id)
	}

	text, err := e.FullTextMatched()
	if err != nil || string(text) != "brown fox" {
		t.Fatalf("FullTextMatched = %q, %v", text, err)
	}
	n, err := e.FullTextTermCount()
	if err != nil || n != 2 {
		t.Fatalf("FullTextTermCount = %d, %v", n, err)
	}
	want := [][3]int{{0, 0, 5}, {1, 6, 3}}
	for i, w := range want {
		idx, start, length, err := e.FullTextTerm(i)
		if err != nil {
			t.Fatalf("FullTextTerm(%d): %v", i, err)
		}
		if [3]int{idx, start, length} != w {
			t.Errorf("term %d = %d,%d,%d, want %v", i, idx, start, length, w)
		}
	}
	if _, _, _, err := e.FullTextTerm(2); !errors.Is(err, errors.ErrIndexOutOfRange) {
		t.Errorf("FullTextTerm(2): %v", err)
	}
	if ok, _ := e.Next(); ok {
		t.Error("lazy dog matched brown fox")
	}
}

func TestFullTextSpansFollowIndexFolding(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.CreateFullTextIndex(ctx, "bio", "bio"); err != nil {
		t.Fatalf("CreateFullTextIndex: %v", err)
	}
	put(t, s, "doc1", `{"bio":"Café au lait"}`)
	put(t, s, "doc2", `{"bio":"brown fox"}`)

	tests := []struct {
		match string
		id    string
		want  [3]int
	}{
		{"cafe", "doc1", [3]int{0, 0, len("Café")}},
		{"café", "doc1", [3]int{0, 0, len("Café")}},
		{`"bro"*`, "doc2", [3]int{0, 0, 5}},
	}
	for _, tt := range tests {
		e := execute(t, s, &query.Query{Match: &query.Match{Index: "bio", Text: tt.match}}, Options{})
		if ok, err := e.Next(); !ok || err != nil {
			t.Fatalf("%s: Next = %v, %v", tt.match, ok, err)
		}
		if id, _ := e.DocID(); id != tt.id {
			t.Fatalf("%s: DocID = %q, want %q", tt.match, id, tt.id)
		}
		n, err := e.FullTextTermCount()
		if err != nil || n != 1 {
			t.Fatalf("%s: FullTextTermCount = %d, %v", tt.match, n, err)
		}
		idx, start, length, err := e.FullTextTerm(0)
		if err != nil || [3]int{idx, start, length} != tt.want {
			t.Errorf("%s: term = %d,%d,%d (%v), want %v", tt.match, idx, start, length, err, tt.want)
		}
		if ok, _ := e.Next(); ok {
			t.Errorf("%s: more than one row", tt.match)
		}
	}
}

func TestNonFullTextRowsHaveNoMatch(t *testing.T) {
	s := openTestStore(t)
	seedPeople(t, s)

	e := execute(t, s, &query.Query{}, Options{})
	e.Next()
	if text, err := e.FullTextMatched(); text != nil || err != nil {
		t.Errorf("FullTextMatched = %q, %v", text, err)
	}
	if n, err := e.FullTextTermCount(); n != 0 || err != nil {
		t.Errorf("FullTextTermCount = %d, %v", n, err)
	}
}

func TestRecordedRefresh(t *testing.T) {
	s := openTestStore(t)
	seedPeople(t, s)
	q := &query.Query{What: []string{"name"}, Where: []query.Expression{{Field: "type", Op: "eq", Value: "user"}}}
	e := execute(t, s, q, Options{})

	next, err := e.Refresh()
	if err != nil || next != nil {
		t.Fatalf("Refresh without writes = %v, %v", next, err)
	}

	// A write outside the result leaves it unchanged.
	put(t, s, "dan", `{"name":"Dan","type":"admin"}`)
	next, err = e.Refresh()
	if err != nil || next != nil {
		t.Fatalf("Refresh after unrelated write = %v, %v", next, err)
	}

	e.Seek(1)
	put(t, s, "eve", `{"name":"Eve","type":"user"}`)
	next, err = e.Refresh()
	if err != nil || next == nil {
		t.Fatalf("Refresh after matching write = %v, %v", next, err)
	}
	defer next.Free()

	if got := fmt.Sprint(docIDs(t, next)); got != "[ann bob eve]" {
		t.Errorf("refreshed ids = %s", got)
	}
	if id, _ := e.DocID(); id != "bob" {
		t.Errorf("original moved to %q", id)
	}
}

func TestStreaming(t *testing.T) {
	s := openTestStore(t)
	seedPeople(t, s)

	e := execute(t, s, &query.Query{Streaming: true}, Options{})
	if _, ok := e.(*Streaming); !ok {
		t.Fatalf("got %T, want *Streaming", e)
	}
	if _, err := e.Seek(0); !errors.Is(err, errors.ErrRandomAccessUnsupported) {
		t.Errorf("Seek: %v", err)
	}
	if _, err := e.RowCount(); !errors.Is(err, errors.ErrQueryExecution) {
		t.Errorf("RowCount: %v", err)
	}
	if _, err := e.DocID(); !errors.Is(err, errors.ErrInvalidCursorState) {
		t.Errorf("DocID before Next: %v", err)
	}
	if got := fmt.Sprint(docIDs(t, e)); got != "[ann bob cat]" {
		t.Errorf("ids = %s", got)
	}
	if ok, err := e.Next(); ok || err != nil {
		t.Errorf("Next after end = %v, %v", ok, err)
	}

	next, err := e.Refresh()
	if err != nil || next != nil {
		t.Fatalf("Refresh without writes = %v, %v", next, err)
	}
	put(t, s, "dan", `{"name":"Dan"}`)
	next, err = e.Refresh()
	if err != nil || next == nil {
		t.Fatalf("Refresh after write = %v, %v", next, err)
	}
	defer next.Free()
	if got := len(docIDs(t, next)); got != 4 {
		t.Errorf("refreshed rows = %d", got)
	}
}

func TestFreeUntracks(t *testing.T) {
	s := openTestStore(t)
	seedPeople(t, s)

	e, err := Execute(context.Background(), s, compile(t, &query.Query{}), Options{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if n := s.OpenResources(); n != 1 {
		t.Fatalf("OpenResources = %d", n)
	}
	e.Free()
	e.Free()
	if n := s.OpenResources(); n != 0 {
		t.Errorf("OpenResources = %d after Free", n)
	}
	if _, err := e.Next(); !errors.Is(err, errors.ErrInvalidCursorState) {
		t.Errorf("Next after Free: %v", err)
	}
}

func TestStoreCloseAbandonsEnumerators(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	s, err := store.Open(context.Background(), cfg, logger.Discard(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	seedPeople(t, s)

	recorded, err := Execute(context.Background(), s, compile(t, &query.Query{}), Options{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	streaming, err := Execute(context.Background(), s, compile(t, &query.Query{Streaming: true}), Options{})
	if err != nil {
		t.Fatalf("Execute streaming: %v", err)
	}
	streaming.Next()

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for _, e := range []cursor.Enumerator{recorded, streaming} {
		if !e.Abandoned() {
			t.Errorf("%T Abandoned = false after store Close", e)
		}
		if _, err := e.Next(); !errors.Is(err, errors.ErrInvalidCursorState) {
			t.Errorf("%T Next after store Close: %v", e, err)
		}
		if next, err := e.Refresh(); next != nil || err == nil {
			t.Errorf("%T Refresh after store Close = %v, %v", e, next, err)
		}
		e.Free()
	}
}
