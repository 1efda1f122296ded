package peersync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Retry policy tests ---

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 5, p.Attempts)
	assert.Equal(t, []time.Duration{
		2 * time.Second,
		3 * time.Second,
		4500 * time.Millisecond,
		6750 * time.Millisecond,
	}, p.Delays())
}

func TestRetryPolicy_DelaysCapped(t *testing.T) {
	p := DefaultRetryPolicy()
	p.Attempts = 8
	delays := p.Delays()
	require.Len(t, delays, 7)
	for _, d := range delays[5:] {
		assert.Equal(t, 10*time.Second, d)
	}
}

func TestRetry_TransientThenSuccess(t *testing.T) {
	calls := 0
	var waits []time.Duration
	err := Retry(context.Background(), fastPolicy(), func() error {
		calls++
		if calls < 2 {
			return transient(errors.New("reset"))
		}
		return nil
	}, func(_ error, d time.Duration) { waits = append(waits, d) })
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []time.Duration{time.Millisecond}, waits)
}

func TestRetry_Exhausted(t *testing.T) {
	p := fastPolicy()
	p.Attempts = 3
	calls := 0
	err := Retry(context.Background(), p, func() error {
		calls++
		return ErrTransient
	}, nil)
	assert.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, 3, calls)
}

func TestRetry_PermanentNotRetried(t *testing.T) {
	for _, want := range []error{ErrResourceAbsent, ErrIntegrity, ErrUnauthorized, errors.New("disk full")} {
		calls := 0
		err := Retry(context.Background(), fastPolicy(), func() error {
			calls++
			return want
		}, nil)
		assert.ErrorIs(t, err, want)
		assert.Equal(t, 1, calls, want.Error())
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := RetryPolicy{Attempts: 100, InitialDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond}
	calls := 0
	err := Retry(ctx, p, func() error {
		calls++
		if calls == 3 {
			cancel()
		}
		return ErrTransient
	}, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, calls, 100)
}

func TestRetry_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryPolicy{}, func() error {
		calls++
		return ErrTransient
	}, nil)
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
