// Package retry retries transient oracle failures with jittered exponential
// backoff.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy configures retries of one guarded call.
type Policy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration

	// Retryable reports whether a failure is transient. Defaults to IsTransient.
	Retryable func(error) bool
	// OnRetry runs before each wait with the failure that caused it.
	OnRetry func(err error, delay time.Duration)
}

// OraclePolicy retries the failures IsRetryableOracleError accepts.
// Zero intervals keep the library defaults.
func OraclePolicy(maxRetries int, initial, maxInterval time.Duration) Policy {
	return Policy{
		MaxRetries:      maxRetries,
		InitialInterval: initial,
		MaxInterval:     maxInterval,
		Retryable:       IsRetryableOracleError,
	}
}

func (p Policy) exponential() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	return b
}

// Do calls fn until it succeeds, fails with an error the policy does not
// retry, runs out of retries or ctx is done. It returns the last failure
// unwrapped, or the context's cause.
func Do(ctx context.Context, p Policy, fn func() error) error {
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(p.exponential()),
		backoff.WithMaxTries(uint(max(p.MaxRetries, 0)) + 1),
	}
	if p.OnRetry != nil {
		opts = append(opts, backoff.WithNotify(p.OnRetry))
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := fn(); err != nil {
			if !retryable(err) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, opts...)
	return err
}
