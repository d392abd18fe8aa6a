package query

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kartikbazzad/bunbase/docquery/internal/errors"
	"github.com/kartikbazzad/bunbase/docquery/internal/store"
)

var operators = map[string]string{
	"eq":  "=",
	"neq": "!=",
	"gt":  ">",
	"gte": ">=",
	"lt":  "<",
	"lte": "<=",
}

// Compiler translates queries into SQL and caches the result by the query's
// canonical JSON form.
type Compiler struct {
	cache *lru.Cache[string, *Compiled]
}

func NewCompiler(cacheSize int) (*Compiler, error) {
	cache, err := lru.New[string, *Compiled](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("query cache: %w", err)
	}
	return &Compiler{cache: cache}, nil
}

// Compile returns the compiled form of q, from cache when possible.
func (c *Compiler) Compile(q *Query) (*Compiled, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	keyBytes, err := json.Marshal(q)
	if err != nil {
		return nil, errors.New("compile", errors.ErrInvalidQuery, err)
	}
	key := string(keyBytes)

	if compiled, ok := c.cache.Get(key); ok {
		return compiled, nil
	}

	compiled, err := compile(q)
	if err != nil {
		return nil, err
	}
	compiled.Key = key
	c.cache.Add(key, compiled)
	return compiled, nil
}

// Len reports how many compiled queries are cached.
func (c *Compiler) Len() int {
	return c.cache.Len()
}

func compile(q *Query) (*Compiled, error) {
	var (
		sb    strings.Builder
		args  []any
		conds []string
	)
	out := &Compiled{Streaming: q.Streaming}

	sb.WriteString("SELECT d.key, d.sequence, d.version, d.flags")

	what := q.What
	if len(what) == 0 {
		what = []string{"."}
	}
	for _, path := range what {
		jp, err := store.JSONPath(path)
		if err != nil {
			return nil, err
		}
		if jp == "$" {
			sb.WriteString(", d.body")
		} else {
			sb.WriteString(", json_extract(d.body, ?)")
			args = append(args, jp)
		}
		out.ColumnNames = append(out.ColumnNames, path)
	}

	if q.Match != nil {
		if !store.ValidIndexName(q.Match.Index) {
			return nil, errors.New("compile", errors.ErrInvalidIndex, fmt.Errorf("%q", q.Match.Index))
		}
		out.FullText = true
		out.Index = q.Match.Index
		out.Terms = ParseTerms(q.Match.Text)
		sb.WriteString(", f.text")
	}

	sb.WriteString(" FROM kv_default AS d")
	if out.FullText {
		sb.WriteString(" JOIN " + store.FTSTable(out.Index) + " AS f ON f.rowid = d.rowid")
		conds = append(conds, "f.text MATCH ?")
		args = append(args, q.Match.Text)
	}

	if !q.IncludeDeleted {
		conds = append(conds, "(d.flags & 1) = 0")
	}

	for _, e := range q.Where {
		jp, err := store.JSONPath(e.Field)
		if err != nil {
			return nil, err
		}
		op := operators[e.Op]
		switch {
		case e.Value == nil && e.Op == "eq":
			conds = append(conds, "json_extract(d.body, ?) IS NULL")
			args = append(args, jp)
		case e.Value == nil && e.Op == "neq":
			conds = append(conds, "json_extract(d.body, ?) IS NOT NULL")
			args = append(args, jp)
		case e.Value == nil:
			return nil, errors.New("compile", errors.ErrInvalidQuery,
				fmt.Errorf("field %q: null only supports eq/neq", e.Field))
		default:
			conds = append(conds, fmt.Sprintf("json_extract(d.body, ?) %s ?", op))
			args = append(args, jp, sqlValue(e.Value))
		}
	}

	if len(conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conds, " AND "))
	}

	var order []string
	for _, o := range q.OrderBy {
		jp, err := store.JSONPath(o.Field)
		if err != nil {
			return nil, err
		}
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		order = append(order, "json_extract(d.body, ?) "+dir)
		args = append(args, jp)
	}
	if len(order) == 0 && out.FullText {
		order = append(order, "f.rank")
	}
	order = append(order, "d.key")
	sb.WriteString(" ORDER BY ")
	sb.WriteString(strings.Join(order, ", "))

	if q.Limit > 0 || q.Offset > 0 {
		limit := q.Limit
		if limit == 0 {
			limit = -1
		}
		sb.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, limit, q.Offset)
	}

	out.SQL = sb.String()
	out.Args = args
	return out, nil
}

func sqlValue(v any) any {
	switch x := v.(type) {
	case bool:
		if x {
			return int64(1)
		}
		return int64(0)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64()
		return f
	default:
		return v
	}
}
