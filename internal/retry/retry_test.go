package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicy_SucceedsFirstTry(t *testing.T) {
	p := Default("test", time.Millisecond)

	attempts, err := p.DoCount(context.Background(), func(context.Context) error {
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestPolicy_EventualSuccess(t *testing.T) {
	p := Default("test", time.Millisecond)

	calls := 0
	attempts, err := p.DoCount(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("temporary error")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestPolicy_ExhaustsAttempts(t *testing.T) {
	p := Default("test", time.Millisecond)
	expected := errors.New("persistent error")

	attempts, err := p.DoCount(context.Background(), func(context.Context) error {
		return expected
	})
	require.Error(t, err)
	assert.Equal(t, expected, err, "should return the last error unwrapped")
	assert.Equal(t, 3, attempts, "should attempt exactly MaxAttempts times")
}

func TestPolicy_NonRetryableStopsImmediately(t *testing.T) {
	fatal := errors.New("bad request")
	p := Policy{
		MaxAttempts: 5,
		Backoff:     Linear(time.Millisecond),
		Retryable:   func(err error) bool { return !errors.Is(err, fatal) },
	}

	attempts, err := p.DoCount(context.Background(), func(context.Context) error {
		return fatal
	})
	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, attempts)
}

func TestPolicy_InvalidAttempts(t *testing.T) {
	for _, n := range []int{0, -1} {
		calls := 0
		err := Policy{MaxAttempts: n}.Do(context.Background(), func(context.Context) error {
			calls++
			return nil
		})
		assert.ErrorIs(t, err, ErrInvalidPolicy)
		assert.Equal(t, 0, calls)
	}
}

func TestPolicy_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 10, Backoff: Constant(5 * time.Millisecond)}

	calls := 0
	err := p.Do(ctx, func(context.Context) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return errors.New("error")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.LessOrEqual(t, calls, 2)
}

func TestPolicy_LinearBackoffGrows(t *testing.T) {
	p := Policy{MaxAttempts: 4, Backoff: Linear(10 * time.Millisecond)}

	var stamps []time.Time
	_ = p.Do(context.Background(), func(context.Context) error {
		stamps = append(stamps, time.Now())
		return errors.New("error")
	})
	require.Len(t, stamps, 4)

	first := stamps[1].Sub(stamps[0])
	third := stamps[3].Sub(stamps[2])
	assert.GreaterOrEqual(t, first, 10*time.Millisecond)
	assert.GreaterOrEqual(t, third, 30*time.Millisecond)
}

func TestLinear(t *testing.T) {
	b := Linear(time.Second)
	assert.Equal(t, time.Second, b(1))
	assert.Equal(t, 2*time.Second, b(2))
	assert.Equal(t, 3*time.Second, b(3))
}

func TestIsTimeout(t *testing.T) {
	assert.True(t, IsTimeout(context.DeadlineExceeded))
	assert.True(t, IsTimeout(errors.Join(errors.New("wrap"), context.DeadlineExceeded)))
	assert.False(t, IsTimeout(context.Canceled))
}
