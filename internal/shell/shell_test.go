package shell

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/kartikbazzad/bunbase/docquery"
	"github.com/kartikbazzad/bunbase/docquery/cursor"
	"github.com/kartikbazzad/bunbase/docquery/internal/logger"
)

func TestParse(t *testing.T) {
	cmd, err := Parse(`  .put doc1 {"a": 1, "b": "x y"}  `)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cmd.Name != ".put" || cmd.Args[0] != "doc1" {
		t.Errorf("cmd = %+v", cmd)
	}
	if got := cmd.Rest(1); got != `{"a": 1, "b": "x y"}` {
		t.Errorf("Rest(1) = %q", got)
	}
	if got := cmd.Rest(0); got != `doc1 {"a": 1, "b": "x y"}` {
		t.Errorf("Rest(0) = %q", got)
	}
	if got := cmd.Rest(9); got != "" {
		t.Errorf("Rest(9) = %q", got)
	}

	for _, line := range []string{"", "   ", "put a b"} {
		if _, err := Parse(line); err == nil {
			t.Errorf("Parse(%q) should error", line)
		}
	}
}

func TestValidateArgs(t *testing.T) {
	cmd := &Command{Name: ".test", Args: []string{"arg1", "arg2"}}
	if err := ValidateArgs(cmd, 2); err != nil {
		t.Errorf("ValidateArgs(2) should not error, got: %v", err)
	}
	if err := ValidateArgs(cmd, 3); err == nil {
		t.Error("ValidateArgs(3) should error")
	}
}

func TestHighlight(t *testing.T) {
	got := highlight([]byte("the brown fox"), []cursor.Term{{Index: 0, Start: 4, Length: 5}, {Index: 1, Start: 10, Length: 3}})
	if got != "the [brown] [fox]" {
		t.Errorf("highlight = %q", got)
	}
}

type session struct {
	t  *testing.T
	sh *Shell
}

func newSession(t *testing.T) *session {
	t.Helper()
	cfg := docquery.DefaultConfig()
	cfg.DataDir = t.TempDir()
	db, err := docquery.Open(context.Background(), cfg, docquery.WithLogger(logger.Discard()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sh := New(db)
	t.Cleanup(func() {
		sh.Close()
		db.Close()
	})
	return &session{t: t, sh: sh}
}

func (s *session) run(line string) string {
	s.t.Helper()
	cmd, err := Parse(line)
	if err != nil {
		s.t.Fatalf("Parse(%q): %v", line, err)
	}
	var buf bytes.Buffer
	s.sh.Execute(context.Background(), cmd).Print(&buf)
	return buf.String()
}

func (s *session) expect(line, want string) {
	s.t.Helper()
	if out := s.run(line); !strings.Contains(out, want) {
		s.t.Errorf("%s:\n%s\nwant substring %q", line, out, want)
	}
}

func TestSessionCursorCommands(t *testing.T) {
	s := newSession(t)

	s.expect(`.put a {"name":"Ann","age":31}`, "seq=1")
	s.expect(`.put b {"name":"Bob","age":25}`, "seq=2")
	s.expect(`.put c {"name":"Cat","age":40}`, "seq=3")
	s.expect(`.get b`, `"name":"Bob"`)
	s.expect(`.get zzz`, "ERROR")

	s.expect(`.next`, "no open cursor")
	s.expect(`.query {"what": ["name"], "order_by": [{"field": "age"}]}`, "rows=3")
	s.expect(`.row`, "invalid cursor state")
	s.expect(`.next`, "id=b")
	s.expect(`.next`, `"Ann"`)
	s.expect(`.next`, "id=c")
	s.expect(`.next`, "END")
	s.expect(`.seek 0`, "id=b")
	s.expect(`.seek 7`, "END")
	s.expect(`.seek -1`, "index out of range")
	s.expect(`.count`, "rows=3")

	s.expect(`.refresh`, "UNCHANGED")
	s.expect(`.del a`, "seq=4")
	s.expect(`.refresh`, "rows=2")
	s.expect(`.close`, "OK")
	s.expect(`.close`, "no open cursor")
}

func TestSessionFullText(t *testing.T) {
	s := newSession(t)

	s.expect(`.index bio bio`, "OK")
	s.expect(`.indexes`, "bio path=bio")
	s.expect(`.put d1 {"bio":"the brown fox"}`, "OK")
	s.expect(`.query {"match": {"index": "bio", "text": "brown fox"}}`, "rows=1")
	s.expect(`.next`, "id=d1")
	s.expect(`.fts`, "the [brown] [fox]")
	s.expect(`.fts`, `term=1 start=10 length=3 "fox"`)
	s.expect(`.drop-index bio`, "OK")
	s.expect(`.query {"match": {"index": "bio", "text": "fox"}}`, "full-text index not found")
}

func TestSessionStreamingAndStats(t *testing.T) {
	s := newSession(t)

	s.expect(`.put a {"n":1}`, "OK")
	s.expect(`.query {"streaming": true}`, "streaming")
	s.expect(`.count`, "random access not supported")
	s.expect(`.next`, "id=a")
	s.expect(`.stats`, "documents=1")
	s.expect(`.stats`, "open_enumerators=1")
	s.expect(`.bogus`, "unknown command")
	s.expect(`.pretty maybe`, "usage")
	s.expect(`.pretty on`, "OK")

	if !s.sh.Execute(context.Background(), &Command{Name: ".exit"}).IsExit() {
		t.Error(".exit did not exit")
	}
}
