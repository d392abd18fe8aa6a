// Package shell is the interactive docquery REPL: document writes, index
// management and a single open cursor driven one command at a time.
package shell

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"github.com/kartikbazzad/bunbase/docquery"
	"github.com/kartikbazzad/bunbase/docquery/cursor"
	"github.com/kartikbazzad/bunbase/docquery/internal/errors"
)

const (
	prompt      = "docquery> "
	historyFile = ".docquery_history"
)

var commandNames = []string{
	".close", ".count", ".del", ".drop-index", ".exit", ".fts", ".get", ".help",
	".index", ".indexes", ".next", ".pretty", ".put", ".query", ".refresh",
	".row", ".seek", ".stats",
}

type Shell struct {
	db     *docquery.DB
	cur    *cursor.ResultCursor
	pretty bool
}

func New(db *docquery.DB) *Shell {
	return &Shell{db: db}
}

// Close releases the open cursor, if any.
func (s *Shell) Close() {
	s.releaseCursor()
}

func (s *Shell) releaseCursor() {
	if s.cur != nil {
		s.cur.Release()
		s.cur = nil
	}
}

func (s *Shell) Execute(ctx context.Context, cmd *Command) Result {
	switch cmd.Name {
	case ".help":
		return HelpResult{}
	case ".exit":
		return ExitResult{}
	case ".pretty":
		return s.setPretty(cmd)
	case ".stats":
		return s.stats(ctx)
	case ".put":
		return s.put(ctx, cmd)
	case ".get":
		return s.get(ctx, cmd)
	case ".del":
		return s.del(ctx, cmd)
	case ".index":
		return s.createIndex(ctx, cmd)
	case ".drop-index":
		return s.dropIndex(ctx, cmd)
	case ".indexes":
		return s.indexes(ctx)
	case ".query":
		return s.query(ctx, cmd)
	case ".next":
		return s.next()
	case ".seek":
		return s.seek(cmd)
	case ".count":
		return s.count()
	case ".row":
		return s.row()
	case ".fts":
		return s.fts()
	case ".refresh":
		return s.refresh()
	case ".close":
		if s.cur == nil {
			return errorf("no open cursor")
		}
		s.releaseCursor()
		return ok()
	default:
		return errorf("unknown command: %s", cmd.Name)
	}
}

func (s *Shell) setPretty(cmd *Command) Result {
	if err := ValidateArgs(cmd, 1); err != nil {
		return errorf("%v", err)
	}
	switch cmd.Args[0] {
	case "on":
		s.pretty = true
	case "off":
		s.pretty = false
	default:
		return errorf("usage: .pretty on|off")
	}
	return ok()
}

func (s *Shell) stats(ctx context.Context) Result {
	st, err := s.db.Stats(ctx)
	if err != nil {
		return errorf("%v", err)
	}
	return StatsResult{Stats: st}
}

func (s *Shell) put(ctx context.Context, cmd *Command) Result {
	if err := ValidateArgs(cmd, 2); err != nil {
		return errorf("%v", err)
	}
	rev, err := s.db.Put(ctx, cmd.Args[0], []byte(cmd.Rest(1)))
	if err != nil {
		return errorf("%v", err)
	}
	return ok(fmt.Sprintf("seq=%d rev=%s", rev.Sequence, rev.RevisionID))
}

func (s *Shell) get(ctx context.Context, cmd *Command) Result {
	if err := ValidateArgs(cmd, 1); err != nil {
		return errorf("%v", err)
	}
	doc, err := s.db.Get(ctx, cmd.Args[0])
	if err != nil {
		return errorf("%v", err)
	}
	return DocResult{Doc: doc, Pretty: s.pretty}
}

func (s *Shell) del(ctx context.Context, cmd *Command) Result {
	if err := ValidateArgs(cmd, 1); err != nil {
		return errorf("%v", err)
	}
	rev, err := s.db.Delete(ctx, cmd.Args[0])
	if err != nil {
		return errorf("%v", err)
	}
	return ok(fmt.Sprintf("seq=%d rev=%s", rev.Sequence, rev.RevisionID))
}

func (s *Shell) createIndex(ctx context.Context, cmd *Command) Result {
	if err := ValidateArgs(cmd, 2); err != nil {
		return errorf("%v", err)
	}
	if err := s.db.CreateFullTextIndex(ctx, cmd.Args[0], cmd.Args[1]); err != nil {
		return errorf("%v", err)
	}
	return ok()
}

func (s *Shell) dropIndex(ctx context.Context, cmd *Command) Result {
	if err := ValidateArgs(cmd, 1); err != nil {
		return errorf("%v", err)
	}
	if err := s.db.DeleteIndex(ctx, cmd.Args[0]); err != nil {
		return errorf("%v", err)
	}
	return ok()
}

func (s *Shell) indexes(ctx context.Context) Result {
	idx, err := s.db.Indexes(ctx)
	if err != nil {
		return errorf("%v", err)
	}
	lines := make([]string, 0, len(idx))
	for _, i := range idx {
		lines = append(lines, fmt.Sprintf("%s path=%s", i.Name, i.Path))
	}
	return ok(lines...)
}

func (s *Shell) query(ctx context.Context, cmd *Command) Result {
	raw := cmd.Rest(0)
	if raw == "" {
		return errorf("usage: .query <json>")
	}
	c, err := s.db.QueryJSON(ctx, []byte(raw))
	if err != nil {
		return errorf("%v", err)
	}
	s.releaseCursor()
	s.cur = c

	n, err := c.RowCount()
	if errors.Is(err, cursor.ErrRandomAccessUnsupported) {
		return ok("streaming")
	}
	if err != nil {
		return errorf("%v", err)
	}
	return ok(fmt.Sprintf("rows=%d", n))
}

func (s *Shell) needCursor() error {
	if s.cur == nil {
		return fmt.Errorf("no open cursor; run .query first")
	}
	return nil
}

func (s *Shell) next() Result {
	if err := s.needCursor(); err != nil {
		return errorf("%v", err)
	}
	more, err := s.cur.Next()
	if err != nil {
		return errorf("%v", err)
	}
	if !more {
		return ok("END")
	}
	return s.row()
}

func (s *Shell) seek(cmd *Command) Result {
	if err := s.needCursor(); err != nil {
		return errorf("%v", err)
	}
	if err := ValidateArgs(cmd, 1); err != nil {
		return errorf("%v", err)
	}
	i, err := ParseInt64(cmd.Args[0])
	if err != nil {
		return errorf("invalid row: %v", err)
	}
	found, err := s.cur.Seek(i)
	if err != nil {
		return errorf("%v", err)
	}
	if !found {
		return ok("END")
	}
	return s.row()
}

func (s *Shell) count() Result {
	if err := s.needCursor(); err != nil {
		return errorf("%v", err)
	}
	n, err := s.cur.RowCount()
	if err != nil {
		return errorf("%v", err)
	}
	return ok(fmt.Sprintf("rows=%d", n))
}

func (s *Shell) row() Result {
	if err := s.needCursor(); err != nil {
		return errorf("%v", err)
	}
	r := RowResult{Pretty: s.pretty}
	var err error
	if r.ID, err = s.cur.DocID(); err != nil {
		return errorf("%v", err)
	}
	if r.Sequence, err = s.cur.Sequence(); err != nil {
		return errorf("%v", err)
	}
	if r.Revision, err = s.cur.RevisionID(); err != nil {
		return errorf("%v", err)
	}
	if r.Flags, err = s.cur.Flags(); err != nil {
		return errorf("%v", err)
	}
	it, err := s.cur.Columns()
	if err != nil {
		return errorf("%v", err)
	}
	if r.Columns, err = it.Values(); err != nil {
		return errorf("%v", err)
	}
	return r
}

func (s *Shell) fts() Result {
	if err := s.needCursor(); err != nil {
		return errorf("%v", err)
	}
	m, err := s.cur.FullTextMatch()
	if err != nil {
		return errorf("%v", err)
	}
	text, err := m.MatchedText()
	if err != nil {
		return errorf("%v", err)
	}
	terms, err := m.Terms()
	if err != nil {
		return errorf("%v", err)
	}
	return FTSResult{Text: text, Terms: terms}
}

func (s *Shell) refresh() Result {
	if err := s.needCursor(); err != nil {
		return errorf("%v", err)
	}
	next, err := s.cur.Refresh()
	if err != nil {
		return errorf("%v", err)
	}
	if next == nil {
		return ok("UNCHANGED")
	}
	s.releaseCursor()
	s.cur = next
	if n, err := next.RowCount(); err == nil {
		return ok("CHANGED", fmt.Sprintf("rows=%d", n))
	}
	return ok("CHANGED")
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, historyFile)
}

// Run reads commands with line editing until .exit or end of input.
func (s *Shell) Run(ctx context.Context, out io.Writer) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(func(l string) []string {
		var c []string
		for _, name := range commandNames {
			if strings.HasPrefix(name, l) {
				c = append(c, name)
			}
		}
		return c
	})

	hist := historyPath()
	if hist != "" {
		if f, err := os.Open(hist); err == nil {
			line.ReadHistory(f)
			f.Close()
		}
		defer func() {
			if f, err := os.Create(hist); err == nil {
				line.WriteHistory(f)
				f.Close()
			}
		}()
	}

	for {
		input, err := line.Prompt(prompt)
		if err == liner.ErrPromptAborted || err == io.EOF {
			fmt.Fprintln(out)
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		if strings.TrimSpace(input) == "" {
			continue
		}
		line.AppendHistory(input)

		cmd, err := Parse(input)
		if err != nil {
			ErrorResult{Err: err.Error()}.Print(out)
			fmt.Fprintln(out)
			continue
		}
		result := s.Execute(ctx, cmd)
		if result.IsExit() {
			return nil
		}
		result.Print(out)
		fmt.Fprintln(out)
	}
}
