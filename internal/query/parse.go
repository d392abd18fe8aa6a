package query

import (
	"fmt"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/xeipuuv/gojsonschema"

	"github.com/kartikbazzad/bunbase/docquery/internal/errors"
)

const querySchema = `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "what": {"type": "array", "items": {"type": "string"}},
    "where": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["field", "op"],
        "properties": {
          "field": {"type": "string", "minLength": 1},
          "op": {"enum": ["eq", "neq", "gt", "gte", "lt", "lte"]},
          "value": {"type": ["string", "number", "boolean", "null"]}
        }
      }
    },
    "match": {
      "type": "object",
      "additionalProperties": false,
      "required": ["index", "text"],
      "properties": {
        "index": {"type": "string", "pattern": "^[A-Za-z_][A-Za-z0-9_]*$"},
        "text": {"type": "string", "minLength": 1}
      }
    },
    "order_by": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["field"],
        "properties": {
          "field": {"type": "string", "minLength": 1},
          "desc": {"type": "boolean"}
        }
      }
    },
    "limit": {"type": "integer", "minimum": 0},
    "offset": {"type": "integer", "minimum": 0},
    "include_deleted": {"type": "boolean"},
    "streaming": {"type": "boolean"}
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *gojsonschema.Schema
	schemaErr      error
)

func loadSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiledSchema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(querySchema))
	})
	return compiledSchema, schemaErr
}

// Parse validates raw against the query schema and decodes it.
func Parse(raw []byte) (*Query, error) {
	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load query schema: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, errors.New("parse", errors.ErrInvalidQuery, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, errors.New("parse", errors.ErrInvalidQuery, fmt.Errorf("%s", strings.Join(msgs, "; ")))
	}

	var q Query
	if err := json.Unmarshal(raw, &q); err != nil {
		return nil, errors.New("parse", errors.ErrInvalidQuery, err)
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return &q, nil
}

// Validate checks a Query built in code, which bypasses the JSON schema.
func (q *Query) Validate() error {
	if q.Limit < 0 || q.Offset < 0 {
		return errors.New("validate", errors.ErrInvalidQuery, fmt.Errorf("limit and offset must be >= 0"))
	}
	for _, e := range q.Where {
		if _, ok := operators[e.Op]; !ok {
			return errors.New("validate", errors.ErrUnknownOperator, fmt.Errorf("%q", e.Op))
		}
		switch e.Value.(type) {
		case nil, string, bool, float64, float32, int, int64, int32, uint, uint64, uint32, json.Number:
		default:
			return errors.New("validate", errors.ErrInvalidQuery, fmt.Errorf("field %q: value must be a scalar", e.Field))
		}
	}
	if q.Match != nil {
		if q.Match.Text == "" {
			return errors.New("validate", errors.ErrInvalidQuery, fmt.Errorf("match text is empty"))
		}
		if len(ParseTerms(q.Match.Text)) == 0 {
			return errors.New("validate", errors.ErrInvalidQuery, fmt.Errorf("match %q has no search terms", q.Match.Text))
		}
	}
	return nil
}
