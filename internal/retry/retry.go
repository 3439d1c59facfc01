// Package retry provides the shared retry policy used for every external call in the
// ingestion pipeline (extraction, embedding, vector upserts and status writes).
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrInvalidPolicy is returned when a policy has no attempts configured.
var ErrInvalidPolicy = errors.New("retry policy requires at least one attempt")

// BackoffFunc returns the delay to wait after the given failed attempt (1-based).
type BackoffFunc func(attempt int) time.Duration

// Linear waits attempt*step after each failure: step, 2*step, 3*step...
func Linear(step time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		return time.Duration(attempt) * step
	}
}

// Constant waits the same delay after every failure.
func Constant(delay time.Duration) BackoffFunc {
	return func(int) time.Duration {
		return delay
	}
}

// Policy describes how a single call site retries.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first one.
	MaxAttempts int

	// Backoff computes the wait between attempts. Nil means no wait.
	Backoff BackoffFunc

	// Retryable classifies errors. Nil treats every error as retryable.
	// Errors classified as non-retryable stop the loop immediately.
	Retryable func(error) bool

	// Name labels log lines emitted on failed attempts.
	Name string
}

// Default returns the pipeline-wide policy: 3 attempts with linear backoff.
func Default(name string, step time.Duration) Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff:     Linear(step),
		Name:        name,
	}
}

// Do runs op until it succeeds, returns a non-retryable error, exhausts MaxAttempts, or ctx
// is done. It returns the last error from op, or ctx.Err() when the context ended the loop.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := p.DoCount(ctx, op)
	return err
}

// DoCount behaves like Do and also reports how many attempts were made.
func (p Policy) DoCount(ctx context.Context, op func(ctx context.Context) error) (int, error) {
	if p.MaxAttempts <= 0 {
		return 0, ErrInvalidPolicy
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	attempts := 0
	operation := func() error {
		attempts++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		slog.Debug("operation failed, will retry",
			"operation", p.Name,
			"attempt", attempts,
			"max_attempts", p.MaxAttempts,
			"wait", wait,
			"error", err,
		)
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(&funcBackOff{fn: p.Backoff}, uint64(p.MaxAttempts-1)),
		ctx,
	)
	return attempts, backoff.RetryNotify(operation, b, notify)
}

// funcBackOff adapts a BackoffFunc to backoff.BackOff.
type funcBackOff struct {
	fn      BackoffFunc
	attempt int
}

var _ backoff.BackOff = (*funcBackOff)(nil)

func (b *funcBackOff) NextBackOff() time.Duration {
	b.attempt++
	if b.fn == nil {
		return 0
	}
	d := b.fn(b.attempt)
	if d < 0 {
		return 0
	}
	return d
}

func (b *funcBackOff) Reset() {
	b.attempt = 0
}

// IsTimeout reports whether err came from a deadline. Timeouts are always worth retrying.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
