package shell

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"

	"github.com/kartikbazzad/bunbase/docquery"
	"github.com/kartikbazzad/bunbase/docquery/cursor"
)

type Result interface {
	Print(w io.Writer)
	IsExit() bool
}

type ErrorResult struct {
	Err string
}

func (e ErrorResult) Print(w io.Writer) {
	fmt.Fprintln(w, "ERROR")
	fmt.Fprintln(w, e.Err)
}

func (e ErrorResult) IsExit() bool {
	return false
}

func errorf(format string, args ...any) ErrorResult {
	return ErrorResult{Err: fmt.Sprintf(format, args...)}
}

type ExitResult struct{}

func (e ExitResult) Print(w io.Writer) {}

func (e ExitResult) IsExit() bool {
	return true
}

type OKResult struct {
	Lines []string
}

func ok(lines ...string) OKResult {
	return OKResult{Lines: lines}
}

func (o OKResult) Print(w io.Writer) {
	fmt.Fprintln(w, "OK")
	for _, l := range o.Lines {
		fmt.Fprintln(w, l)
	}
}

func (o OKResult) IsExit() bool {
	return false
}

type HelpResult struct{}

func (h HelpResult) Print(w io.Writer) {
	fmt.Fprintln(w, "DocQuery Shell Commands:")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Meta Commands:")
	fmt.Fprintln(w, "  .help                     Show this help message")
	fmt.Fprintln(w, "  .exit                     Exit the shell")
	fmt.Fprintln(w, "  .pretty on|off            Toggle JSON formatting")
	fmt.Fprintln(w, "  .stats                    Print store statistics")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Documents:")
	fmt.Fprintln(w, "  .put <doc_id> <json>      Store a document revision")
	fmt.Fprintln(w, "  .get <doc_id>             Read a document")
	fmt.Fprintln(w, "  .del <doc_id>             Delete a document")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Full-text Indexes:")
	fmt.Fprintln(w, "  .index <name> <path>      Create a full-text index on a field")
	fmt.Fprintln(w, "  .drop-index <name>        Delete a full-text index")
	fmt.Fprintln(w, "  .indexes                  List full-text indexes")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Cursor:")
	fmt.Fprintln(w, "  .query <json>             Run a query and open a cursor")
	fmt.Fprintln(w, "  .next                     Advance to the next row")
	fmt.Fprintln(w, "  .seek <row>               Move to a zero-based row")
	fmt.Fprintln(w, "  .count                    Print the row count")
	fmt.Fprintln(w, "  .row                      Print the current row")
	fmt.Fprintln(w, "  .fts                      Print the current full-text match")
	fmt.Fprintln(w, "  .refresh                  Replace the cursor if the result changed")
	fmt.Fprintln(w, "  .close                    Release the cursor")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Query Format:")
	fmt.Fprintln(w, `  .query {"what":["name"],"where":[{"field":"age","op":"gt","value":30}]}`)
	fmt.Fprintln(w, `  .query {"match":{"index":"bio","text":"brown fox"}}`)
}

func (h HelpResult) IsExit() bool {
	return false
}

type DocResult struct {
	Doc    *docquery.Document
	Pretty bool
}

func (d DocResult) Print(w io.Writer) {
	fmt.Fprintln(w, "OK")
	fmt.Fprintf(w, "id=%s seq=%d rev=%s flags=%s\n", d.Doc.ID, d.Doc.Sequence, d.Doc.RevisionID, d.Doc.Flags)
	if d.Doc.Body != nil {
		fmt.Fprintln(w, formatJSON(d.Doc.Body, d.Pretty))
	}
}

func (d DocResult) IsExit() bool {
	return false
}

type RowResult struct {
	ID       string
	Sequence uint64
	Revision string
	Flags    cursor.DocumentFlags
	Columns  []any
	Pretty   bool
}

func (r RowResult) Print(w io.Writer) {
	fmt.Fprintln(w, "OK")
	fmt.Fprintf(w, "id=%s seq=%d rev=%s flags=%s\n", r.ID, r.Sequence, r.Revision, r.Flags)
	for _, v := range r.Columns {
		fmt.Fprintln(w, formatValue(v, r.Pretty))
	}
}

func (r RowResult) IsExit() bool {
	return false
}

type FTSResult struct {
	Text  []byte
	Terms []cursor.Term
}

func (f FTSResult) Print(w io.Writer) {
	fmt.Fprintln(w, "OK")
	if f.Text == nil {
		fmt.Fprintln(w, "no full-text match")
		return
	}
	fmt.Fprintln(w, highlight(f.Text, f.Terms))
	for _, t := range f.Terms {
		fmt.Fprintf(w, "term=%d start=%d length=%d %q\n", t.Index, t.Start, t.Length, f.Text[t.Start:t.Start+t.Length])
	}
}

func (f FTSResult) IsExit() bool {
	return false
}

// highlight brackets every located term.
func highlight(text []byte, terms []cursor.Term) string {
	var sb strings.Builder
	prev := 0
	for _, t := range terms {
		if t.Start < prev {
			continue
		}
		sb.Write(text[prev:t.Start])
		sb.WriteByte('[')
		sb.Write(text[t.Start : t.Start+t.Length])
		sb.WriteByte(']')
		prev = t.Start + t.Length
	}
	sb.Write(text[prev:])
	return sb.String()
}

type StatsResult struct {
	Stats *docquery.Stats
}

func (s StatsResult) Print(w io.Writer) {
	fmt.Fprintln(w, "OK")
	fmt.Fprintf(w, "documents=%s\n", humanize.Comma(s.Stats.Documents))
	fmt.Fprintf(w, "tombstones=%s\n", humanize.Comma(s.Stats.Tombstones))
	fmt.Fprintf(w, "last_sequence=%d\n", s.Stats.LastSequence)
	fmt.Fprintf(w, "file_size=%s\n", humanize.Bytes(s.Stats.FileSizeBytes))
	fmt.Fprintf(w, "fts_indexes=%d\n", s.Stats.FullTextIndexes)
	fmt.Fprintf(w, "open_enumerators=%d\n", s.Stats.OpenResources)
}

func (s StatsResult) IsExit() bool {
	return false
}

func formatJSON(b []byte, pretty bool) string {
	if !pretty || !json.Valid(b) {
		return string(b)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return string(b)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(b)
	}
	return string(out)
}

// formatValue prints one column. Whole-body and sub-object columns arrive
// as JSON text.
func formatValue(v any, pretty bool) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		if json.Valid([]byte(x)) && (strings.HasPrefix(x, "{") || strings.HasPrefix(x, "[")) {
			return formatJSON([]byte(x), pretty)
		}
		out, _ := json.Marshal(x)
		return string(out)
	case []byte:
		return formatJSON(x, pretty)
	default:
		out, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(out)
	}
}
