package cursor

import "github.com/kartikbazzad/bunbase/docquery/internal/errors"

// Errors returned by cursors. Match with errors.Is.
var (
	ErrQueryExecution     = errors.ErrQueryExecution
	ErrInvalidCursorState = errors.ErrInvalidCursorState
	ErrIndexOutOfRange    = errors.ErrIndexOutOfRange

	ErrRandomAccessUnsupported = errors.ErrRandomAccessUnsupported
	ErrResultTooLarge          = errors.ErrResultTooLarge
	ErrCorruptRow              = errors.ErrCorruptRow
)
