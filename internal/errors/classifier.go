package errors

import (
	"errors"
	"syscall"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrorCategory represents the category of an error for retry logic.
type ErrorCategory int

const (
	ErrorTransient  ErrorCategory = iota // Temporary errors - retry with backoff
	ErrorPermanent                       // Permanent errors - no retry
	ErrorCritical                        // System-level errors - alert immediately
	ErrorValidation                      // Data validation errors - no retry
)

func (c ErrorCategory) String() string {
	switch c {
	case ErrorTransient:
		return "transient"
	case ErrorPermanent:
		return "permanent"
	case ErrorCritical:
		return "critical"
	case ErrorValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Classifier categorizes errors so callers can decide whether re-running a
// query is worthwhile. Cursors themselves never retry.
type Classifier struct{}

// NewClassifier creates a new error classifier.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify determines the category of an error.
func (c *Classifier) Classify(err error) ErrorCategory {
	if err == nil {
		return ErrorPermanent
	}

	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return ErrorTransient
		case sqlite3.SQLITE_IOERR, sqlite3.SQLITE_FULL, sqlite3.SQLITE_CORRUPT:
			return ErrorCritical
		}
		return ErrorPermanent
	}

	var sysErr syscall.Errno
	if errors.As(err, &sysErr) {
		switch sysErr {
		case syscall.EAGAIN, syscall.ENOMEM, syscall.ETIMEDOUT:
			return ErrorTransient
		case syscall.ENOENT, syscall.EINVAL, syscall.EEXIST:
			return ErrorPermanent
		case syscall.EIO, syscall.ENOSPC:
			return ErrorCritical
		}
	}

	switch {
	case errors.Is(err, ErrInvalidJSON), errors.Is(err, ErrInvalidQuery),
		errors.Is(err, ErrUnknownOperator), errors.Is(err, ErrInvalidDocID),
		errors.Is(err, ErrInvalidIndex):
		return ErrorValidation
	case errors.Is(err, ErrCorruptRow):
		return ErrorCritical
	case errors.Is(err, ErrFileOpen):
		return ErrorTransient
	case errors.Is(err, ErrInvalidCursorState), errors.Is(err, ErrIndexOutOfRange),
		errors.Is(err, ErrRandomAccessUnsupported), errors.Is(err, ErrResultTooLarge):
		return ErrorPermanent
	case errors.Is(err, ErrDocNotFound), errors.Is(err, ErrDBNotOpen),
		errors.Is(err, ErrIndexNotFound), errors.Is(err, ErrIndexExists):
		return ErrorPermanent
	}

	return ErrorPermanent
}

// ShouldRetry returns true if the error category indicates retry is appropriate.
func (c *Classifier) ShouldRetry(category ErrorCategory) bool {
	return category == ErrorTransient
}

// IsCritical returns true if the error requires immediate attention.
func (c *Classifier) IsCritical(category ErrorCategory) bool {
	return category == ErrorCritical
}
