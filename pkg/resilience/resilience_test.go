package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	var transitions []State
	cb := NewCircuitBreaker("postings", CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
		OnStateChange:    func(_ string, s State) { transitions = append(transitions, s) },
	})

	assert.ErrorIs(t, cb.Execute(func() error { return errBoom }), errBoom)
	assert.Equal(t, StateClosed, cb.GetState())
	assert.ErrorIs(t, cb.Execute(func() error { return errBoom }), errBoom)
	assert.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
	assert.Equal(t, []State{StateOpen}, transitions)
}

func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := NewCircuitBreaker("documents", CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Second})
	cb.now = func() time.Time { return now }

	_ = cb.Execute(func() error { return errBoom })
	require.Equal(t, StateOpen, cb.GetState())

	now = now.Add(2 * time.Second)
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := NewCircuitBreaker("documents", CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Second})
	cb.now = func() time.Time { return now }

	_ = cb.Execute(func() error { return errBoom })
	now = now.Add(2 * time.Second)
	_ = cb.Execute(func() error { return errBoom })
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestCircuitBreaker_IgnoredErrorsDoNotTrip(t *testing.T) {
	cb := NewCircuitBreaker("postings", CircuitBreakerConfig{FailureThreshold: 1})
	err := cb.ExecuteIgnoring(func() error { return context.Canceled }, func(err error) bool {
		return errors.Is(err, context.Canceled)
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), "fetch", RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond}, func() error {
		attempts++
		if attempts < 3 {
			return errBoom
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), "fetch", RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond}, func() error {
		attempts++
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 2, attempts)
}

func TestRetry_StopsOnNonRetryable(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), "fetch", RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond}, func() error {
		attempts++
		return ErrCircuitOpen
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 1, attempts)
}

func TestRetry_AbortsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := Retry(ctx, "fetch", RetryConfig{MaxAttempts: 5, InitialDelay: time.Hour}, func() error {
		attempts++
		cancel()
		return errBoom
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestWithTimeout_AnnotatesDeadline(t *testing.T) {
	err := WithTimeout(context.Background(), 10*time.Millisecond, "fetch_postings", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "fetch_postings")
}

func TestWithTimeout_ZeroRunsDirectly(t *testing.T) {
	err := WithTimeout(context.Background(), 0, "fetch", func(ctx context.Context) error {
		_, has := ctx.Deadline()
		assert.False(t, has)
		return nil
	})
	assert.NoError(t, err)
}

func TestRetryValue_ReturnsValueAndReportsRetries(t *testing.T) {
	var retried []int
	attempts := 0
	v, err := RetryValue(context.Background(), "fetch", RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		OnRetry:      func(attempt int, _ error) { retried = append(retried, attempt) },
	}, func() (int, error) {
		attempts++
		if attempts == 1 {
			return 0, errBoom
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, []int{1}, retried)
}

func TestRetryConfig_Backoff(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2, JitterFraction: 0.1}

	assert.Equal(t, 100*time.Millisecond, cfg.Backoff(1, 0))
	assert.Equal(t, 400*time.Millisecond, cfg.Backoff(3, 0))
	assert.Equal(t, 440*time.Millisecond, cfg.Backoff(3, 1))
	assert.Equal(t, 360*time.Millisecond, cfg.Backoff(3, -1))
	assert.Equal(t, time.Second, cfg.Backoff(10, 0))
}

func TestCircuitBreaker_Snapshot(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := NewCircuitBreaker("postings", CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: 10 * time.Second})
	cb.now = func() time.Time { return now }

	_ = cb.Execute(func() error { return errBoom })
	now = now.Add(4 * time.Second)

	s := cb.Snapshot()
	assert.Equal(t, "postings", s.Name)
	assert.Equal(t, StateOpen, s.State)
	assert.Equal(t, 1, s.ConsecutiveFailures)
	assert.Equal(t, 6*time.Second, s.RetryAfter)

	cb.Reset()
	assert.Equal(t, Snapshot{Name: "postings", State: StateClosed}, cb.Snapshot())
}
