package peersync

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds how often a single transfer is attempted against one peer.
type RetryPolicy struct {
	// Attempts is the total number of tries, including the first.
	Attempts     int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultRetryPolicy returns 5 attempts, starting at 2s and growing by 1.5x
// up to 10s between attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:     5,
		InitialDelay: 2 * time.Second,
		Multiplier:   1.5,
		MaxDelay:     10 * time.Second,
	}
}

// Delays lists the waits between consecutive attempts.
func (p RetryPolicy) Delays() []time.Duration {
	b := p.exponential()
	var out []time.Duration
	for i := 1; i < p.attempts(); i++ {
		out = append(out, b.NextBackOff())
	}
	return out
}

func (p RetryPolicy) attempts() int {
	if p.Attempts < 1 {
		return 1
	}
	return p.Attempts
}

func (p RetryPolicy) exponential() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.Multiplier = p.Multiplier
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	b.MaxInterval = p.MaxDelay
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Retry runs op until it succeeds, fails with an error that is not
// ErrTransient, the policy is exhausted or ctx is done. The last error is
// returned. notify, when non-nil, is called before each wait.
func Retry(ctx context.Context, p RetryPolicy, op func() error, notify func(err error, wait time.Duration)) error {
	bkoff := backoff.WithContext(backoff.WithMaxRetries(p.exponential(), uint64(p.attempts()-1)), ctx)
	return backoff.RetryNotify(
		func() error {
			err := op()
			if err != nil && !errors.Is(err, ErrTransient) {
				return backoff.Permanent(err)
			}
			return err
		},
		bkoff,
		notify,
	)
}
