package query

import (
	"reflect"
	"strings"
	"testing"

	"github.com/kartikbazzad/bunbase/docquery/internal/errors"
)

func TestParseValidQuery(t *testing.T) {
	raw := []byte(`{
		"what": ["name", "address.city"],
		"where": [{"field": "type", "op": "eq", "value": "user"}, {"field": "age", "op": "gte", "value": 21}],
		"match": {"index": "bio", "text": "brown fox"},
		"order_by": [{"field": "name", "desc": true}],
		"limit": 10,
		"offset": 5
	}`)
	q, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(q.What) != 2 || q.Match == nil || q.Match.Index != "bio" || q.Limit != 10 || q.Offset != 5 {
		t.Errorf("unexpected query: %+v", q)
	}
	if !q.OrderBy[0].Desc {
		t.Error("order_by desc lost")
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{`},
		{"unknown key", `{"select": ["a"]}`},
		{"bad op", `{"where": [{"field": "a", "op": "like", "value": 1}]}`},
		{"object value", `{"where": [{"field": "a", "op": "eq", "value": {"x": 1}}]}`},
		{"bad index name", `{"match": {"index": "bad-name", "text": "x"}}`},
		{"negative limit", `{"limit": -1}`},
		{"operators only", `{"match": {"index": "bio", "text": "AND OR"}}`},
	}

	for _, tt := range tests {
		if _, err := Parse([]byte(tt.raw)); !errors.Is(err, errors.ErrInvalidQuery) {
			t.Errorf("%s: got %v, want ErrInvalidQuery", tt.name, err)
		}
	}
}

func TestValidateUnknownOperator(t *testing.T) {
	q := &Query{Where: []Expression{{Field: "a", Op: "like", Value: "x"}}}
	if err := q.Validate(); !errors.Is(err, errors.ErrUnknownOperator) {
		t.Fatalf("got %v, want ErrUnknownOperator", err)
	}
}

func TestCompilePlainQuery(t *testing.T) {
	c, err := NewCompiler(4)
	if err != nil {
		t.Fatalf("NewCompiler: %v", err)
	}
	compiled, err := c.Compile(&Query{
		What:  []string{"name"},
		Where: []Expression{{Field: "age", Op: "gt", Value: float64(30)}},
		Limit: 2,
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	wantSQL := "SELECT d.key, d.sequence, d.version, d.flags, json_extract(d.body, ?) FROM kv_default AS d" +
		" WHERE (d.flags & 1) = 0 AND json_extract(d.body, ?) > ? ORDER BY d.key LIMIT ? OFFSET ?"
	if compiled.SQL != wantSQL {
		t.Errorf("SQL =\n%s\nwant\n%s", compiled.SQL, wantSQL)
	}
	wantArgs := []any{"$.name", "$.age", float64(30), 2, 0}
	if !reflect.DeepEqual(compiled.Args, wantArgs) {
		t.Errorf("Args = %#v, want %#v", compiled.Args, wantArgs)
	}
	if compiled.FullText || compiled.ScanWidth() != FixedColumns+1 {
		t.Errorf("unexpected shape: %+v", compiled)
	}
}

func TestCompileFullTextQuery(t *testing.T) {
	c, _ := NewCompiler(4)
	compiled, err := c.Compile(&Query{Match: &Match{Index: "bio", Text: "brown fox*"}})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !compiled.FullText || compiled.Index != "bio" {
		t.Fatalf("not a full-text query: %+v", compiled)
	}
	if !strings.Contains(compiled.SQL, `JOIN "fts_bio" AS f ON f.rowid = d.rowid`) {
		t.Errorf("missing FTS join: %s", compiled.SQL)
	}
	if !strings.Contains(compiled.SQL, "ORDER BY f.rank, d.key") {
		t.Errorf("missing rank order: %s", compiled.SQL)
	}
	if compiled.ColumnNames[0] != "." || !strings.Contains(compiled.SQL, "d.body") {
		t.Errorf("whole body column expected: %s", compiled.SQL)
	}
	want := []Term{{Text: "brown"}, {Text: "fox", Prefix: true}}
	if !reflect.DeepEqual(compiled.Terms, want) {
		t.Errorf("Terms = %+v, want %+v", compiled.Terms, want)
	}
	if compiled.ScanWidth() != FixedColumns+2 {
		t.Errorf("ScanWidth = %d", compiled.ScanWidth())
	}
}

func TestCompileNullComparisons(t *testing.T) {
	c, _ := NewCompiler(4)
	compiled, err := c.Compile(&Query{Where: []Expression{{Field: "x", Op: "eq"}}, IncludeDeleted: true})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !strings.Contains(compiled.SQL, "IS NULL") || strings.Contains(compiled.SQL, "flags & 1") {
		t.Errorf("SQL = %s", compiled.SQL)
	}
	if _, err := c.Compile(&Query{Where: []Expression{{Field: "x", Op: "gt"}}}); !errors.Is(err, errors.ErrInvalidQuery) {
		t.Errorf("gt null: got %v", err)
	}
}

func TestCompileUsesCache(t *testing.T) {
	c, _ := NewCompiler(2)
	q := &Query{What: []string{"a"}}

	first, err := c.Compile(q)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	second, err := c.Compile(&Query{What: []string{"a"}})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if first != second {
		t.Error("expected cached compiled query")
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}

func TestOffsetWithoutLimit(t *testing.T) {
	c, _ := NewCompiler(2)
	compiled, err := c.Compile(&Query{Offset: 3})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	n := len(compiled.Args)
	if compiled.Args[n-2] != -1 || compiled.Args[n-1] != 3 {
		t.Errorf("Args = %#v", compiled.Args)
	}
}

func TestParseTerms(t *testing.T) {
	tests := []struct {
		expr string
		want []Term
	}{
		{"brown fox", []Term{{Text: "brown"}, {Text: "fox"}}},
		{"Brown AND fox*", []Term{{Text: "brown"}, {Text: "fox", Prefix: true}}},
		{`"quick brown" OR brown`, []Term{{Text: "quick"}, {Text: "brown"}}},
		{"text:fox NOT cat", []Term{{Text: "fox"}, {Text: "cat"}}},
		{`"NOT here"`, []Term{{Text: "not"}, {Text: "here"}}},
		{"(a OR b) NEAR c", []Term{{Text: "a"}, {Text: "b"}, {Text: "c"}}},
		{`"bro"*`, []Term{{Text: "bro", Prefix: true}}},
		{`"quick bro"* fox`, []Term{{Text: "quick"}, {Text: "bro", Prefix: true}, {Text: "fox"}}},
		{"Café", []Term{{Text: "cafe"}}},
	}
	for _, tt := range tests {
		if got := ParseTerms(tt.expr); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseTerms(%q) = %+v, want %+v", tt.expr, got, tt.want)
		}
	}
}

func TestLocate(t *testing.T) {
	text := []byte("brown fox")
	spans := Locate(text, []Term{{Text: "brown"}, {Text: "fox"}})
	want := []Span{{TermIndex: 0, Start: 0, Length: 5}, {TermIndex: 1, Start: 6, Length: 3}}
	if !reflect.DeepEqual(spans, want) {
		t.Fatalf("Locate = %+v, want %+v", spans, want)
	}

	text = []byte("Foxes, FOX and foxglove")
	spans = Locate(text, []Term{{Text: "fox", Prefix: true}})
	if len(spans) != 3 {
		t.Fatalf("prefix spans = %+v", spans)
	}
	for _, s := range spans {
		if s.Start+s.Length > len(text) {
			t.Errorf("span %+v out of bounds", s)
		}
	}
	if string(text[spans[1].Start:spans[1].Start+spans[1].Length]) != "FOX" {
		t.Errorf("second span = %+v", spans[1])
	}
}

func TestTokenizeMultibyte(t *testing.T) {
	toks := Tokenize([]byte("café au lait"))
	if len(toks) != 3 {
		t.Fatalf("tokens = %+v", toks)
	}
	if toks[0].Text != "cafe" || toks[0].End != len("café") {
		t.Errorf("first token = %+v", toks[0])
	}
	if toks[1].Start != len("café ") {
		t.Errorf("second token start = %d", toks[1].Start)
	}
}

func TestLocateFoldsDiacritics(t *testing.T) {
	// Precomposed and decomposed forms both match the unaccented term.
	for _, text := range []string{"Café au lait", "Cafe\u0301 au lait"} {
		spans := Locate([]byte(text), []Term{{Text: "cafe"}})
		word := strings.Fields(text)[0]
		want := []Span{{TermIndex: 0, Start: 0, Length: len(word)}}
		if !reflect.DeepEqual(spans, want) {
			t.Errorf("Locate(%q) = %+v, want %+v", text, spans, want)
		}
	}
}
