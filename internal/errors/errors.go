package errors

import (
	"errors"
	"fmt"
)

// Cursor error kinds. Every failure surfaced by a cursor matches exactly one of
// these with errors.Is.
var (
	// ErrQueryExecution is returned when an enumeration, seek, count or refresh
	// step fails below the cursor. The cursor keeps its prior state.
	ErrQueryExecution = errors.New("query execution failed")

	// ErrInvalidCursorState is returned when a cursor is used after release, or a
	// row accessor is used while the cursor is not positioned on a row.
	ErrInvalidCursorState = errors.New("invalid cursor state")

	// ErrIndexOutOfRange is returned for negative seeks and term indexes outside
	// [0, TermCount()).
	ErrIndexOutOfRange = errors.New("index out of range")
)

// Causes wrapped by ErrQueryExecution.
var (
	ErrRandomAccessUnsupported = errors.New("random access not supported by this enumerator")
	ErrResultTooLarge          = errors.New("result set exceeds recording limit")
	ErrCorruptRow              = errors.New("corrupt row in result buffer")
)

// Store errors
var (
	// ErrInvalidJSON is returned when a document body is not valid JSON.
	ErrInvalidJSON = errors.New("payload must be valid JSON")

	// ErrInvalidDocID is returned for empty document IDs.
	ErrInvalidDocID = errors.New("document ID must not be empty")

	// ErrDocNotFound is returned when reading/deleting non-existent document
	ErrDocNotFound = errors.New("document not found")

	// ErrDBNotOpen is returned when operating on closed database
	ErrDBNotOpen = errors.New("database not open")

	// ErrFileOpen is returned when the database file cannot be opened
	ErrFileOpen = errors.New("failed to open file")

	ErrIndexNotFound = errors.New("full-text index not found")
	ErrIndexExists   = errors.New("full-text index already exists")
	ErrInvalidIndex  = errors.New("invalid full-text index name")
)

// Query definition errors
var (
	ErrInvalidQuery    = errors.New("invalid query definition")
	ErrUnknownOperator = errors.New("unknown comparison operator")
)

// Live query errors
var (
	ErrPoolStopped     = errors.New("pool is stopped")
	ErrObserverStopped = errors.New("observer is stopped")
)

// Error carries the operation that failed, its kind (one of the sentinels
// above) and the underlying cause. Both the kind and the cause match errors.Is.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Kind)
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// New builds an *Error for op.
func New(op string, kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// Execution wraps err as an ErrQueryExecution failure of op. A nil err yields nil.
func Execution(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) && e.Kind == ErrQueryExecution {
		return err
	}
	return New(op, ErrQueryExecution, err)
}

// InvalidState reports a use of a released or unpositioned cursor.
func InvalidState(op, reason string) error {
	return New(op, ErrInvalidCursorState, errors.New(reason))
}

// OutOfRange reports an index outside [0, n).
func OutOfRange(op string, i, n int64) error {
	return New(op, ErrIndexOutOfRange, fmt.Errorf("index %d not in [0, %d)", i, n))
}

// Is and As forward to the standard library so callers can use a single
// errors import.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }
