// Package query defines stored queries and translates them into the SQL the
// enumerator executes.
package query

// Query is a stored query definition.
type Query struct {
	What           []string     `json:"what,omitempty"`     // Projected property paths (empty = whole body)
	Where          []Expression `json:"where,omitempty"`    // ANDed predicates
	Match          *Match       `json:"match,omitempty"`    // Optional full-text predicate
	OrderBy        []OrderSpec  `json:"order_by,omitempty"` // Optional sort (default: FTS rank, then docID)
	Limit          int          `json:"limit,omitempty"`    // Max rows (0 = no limit)
	Offset         int          `json:"offset,omitempty"`
	IncludeDeleted bool         `json:"include_deleted,omitempty"`
	Streaming      bool         `json:"streaming,omitempty"` // Stream rows instead of recording them
}

// Expression is a simple predicate (field op value).
type Expression struct {
	Field string      `json:"field"`
	Op    string      `json:"op"` // "eq", "neq", "gt", "gte", "lt", "lte"
	Value interface{} `json:"value"`
}

// Match is a full-text predicate against a named index.
type Match struct {
	Index string `json:"index"`
	Text  string `json:"text"`
}

// OrderSpec specifies sort order.
type OrderSpec struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc,omitempty"`
}

// Term is one search term of a full-text expression.
type Term struct {
	Text   string // Case- and diacritic-folded
	Prefix bool   // Trailing '*' in the expression
}

// Compiled is a query ready for execution. It is shared through the compile
// cache and must not be mutated.
type Compiled struct {
	Key         string
	SQL         string
	Args        []any
	ColumnNames []string
	FullText    bool
	Index       string
	Terms       []Term
	Streaming   bool
}

// Fixed result columns preceding the projected ones.
const (
	ColDocID = iota
	ColSequence
	ColRevision
	ColFlags
	FixedColumns
)

// ScanWidth is the number of SQL result columns a row of c carries.
func (c *Compiled) ScanWidth() int {
	n := FixedColumns + len(c.ColumnNames)
	if c.FullText {
		n++
	}
	return n
}
