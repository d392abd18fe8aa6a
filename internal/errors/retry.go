package errors

import (
	"context"
	"math/rand"
	"time"
)

// RetryController implements exponential backoff with jitter for retry logic.
type RetryController struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	maxRetries   int
}

// NewRetryControllerWith creates a retry controller with explicit limits.
func NewRetryControllerWith(initialDelay, maxDelay time.Duration, maxRetries int) *RetryController {
	if initialDelay <= 0 {
		initialDelay = 10 * time.Millisecond
	}
	if maxDelay < initialDelay {
		maxDelay = initialDelay
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &RetryController{
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
		maxRetries:   maxRetries,
	}
}

// Retry executes fn until it succeeds, returns a non-retryable error, the
// attempts are exhausted, or ctx is done.
func (rc *RetryController) Retry(ctx context.Context, fn func() error, classifier *Classifier) error {
	var lastErr error

	for attempt := 0; attempt <= rc.maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err
		if !classifier.ShouldRetry(classifier.Classify(err)) {
			return err
		}

		if attempt >= rc.maxRetries {
			return err
		}

		timer := time.NewTimer(rc.calculateDelay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}

	return lastErr
}

// calculateDelay calculates the delay for a given attempt using exponential backoff + jitter.
func (rc *RetryController) calculateDelay(attempt int) time.Duration {
	delay := rc.initialDelay * time.Duration(1<<uint(attempt))

	if delay > rc.maxDelay {
		delay = rc.maxDelay
	}

	// ±25%
	jitter := time.Duration(float64(delay) * 0.25 * (rand.Float64()*2 - 1))
	delay += jitter

	if delay < 0 {
		delay = rc.initialDelay
	}

	return delay
}
