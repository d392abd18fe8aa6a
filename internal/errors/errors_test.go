package errors

import (
	"context"
	"fmt"
	"io"
	"syscall"
	"testing"
	"time"
)

func TestErrorMatchesKindAndCause(t *testing.T) {
	err := Execution("next", io.ErrUnexpectedEOF)

	if !Is(err, ErrQueryExecution) {
		t.Fatalf("want ErrQueryExecution, got %v", err)
	}
	if !Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("want cause to match, got %v", err)
	}
	if Is(err, ErrInvalidCursorState) {
		t.Fatalf("unexpected kind match: %v", err)
	}
}

func TestExecutionDoesNotDoubleWrap(t *testing.T) {
	inner := Execution("seek", ErrRandomAccessUnsupported)
	outer := Execution("cursor.seek", inner)
	if outer != inner {
		t.Fatalf("expected the same error back, got %v", outer)
	}
	if Execution("noop", nil) != nil {
		t.Fatal("nil cause must produce nil")
	}
}

func TestOutOfRangeMessage(t *testing.T) {
	err := OutOfRange("term", 3, 2)
	if !Is(err, ErrIndexOutOfRange) {
		t.Fatalf("want ErrIndexOutOfRange, got %v", err)
	}
	want := "term: index out of range: index 3 not in [0, 2)"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestClassify(t *testing.T) {
	c := NewClassifier()
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"nil", nil, ErrorPermanent},
		{"eagain", fmt.Errorf("read: %w", syscall.EAGAIN), ErrorTransient},
		{"eio", syscall.EIO, ErrorCritical},
		{"invalid json", ErrInvalidJSON, ErrorValidation},
		{"invalid query wrapped", New("parse", ErrInvalidQuery, nil), ErrorValidation},
		{"cursor state", InvalidState("docID", "released"), ErrorPermanent},
		{"corrupt row", Execution("next", ErrCorruptRow), ErrorCritical},
		{"unsupported seek", Execution("seek", ErrRandomAccessUnsupported), ErrorPermanent},
		{"not found", ErrDocNotFound, ErrorPermanent},
	}

	for _, tt := range tests {
		if got := c.Classify(tt.err); got != tt.want {
			t.Errorf("%s: Classify() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	rc := NewRetryControllerWith(time.Millisecond, time.Millisecond, 5)
	calls := 0
	err := rc.Retry(context.Background(), func() error {
		calls++
		return ErrDocNotFound
	}, NewClassifier())

	if !Is(err, ErrDocNotFound) {
		t.Fatalf("want ErrDocNotFound, got %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryRetriesTransientErrors(t *testing.T) {
	rc := NewRetryControllerWith(time.Millisecond, 2*time.Millisecond, 3)
	calls := 0
	err := rc.Retry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return syscall.EAGAIN
		}
		return nil
	}, NewClassifier())

	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryHonoursContext(t *testing.T) {
	rc := NewRetryControllerWith(time.Hour, time.Hour, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := rc.Retry(ctx, func() error {
		calls++
		return syscall.EAGAIN
	}, NewClassifier())

	if err != syscall.EAGAIN {
		t.Fatalf("want EAGAIN, got %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
