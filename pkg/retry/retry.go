// Package retry wraps calls to external provider APIs with categorized
// exponential backoff. Callers see a single blocking operation that either
// returns once or fails with a classified error; the only suspension point
// is the inter-attempt delay.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy controls attempt count and delay shape.
//
// Delay before attempt k (k>=1) is
// min(MaxDelay, InitialDelay*BackoffFactor^(k-1)) * uniform(1-j, 1+j).
type Policy struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	BackoffFactor  float64
	JitterFraction float64
}

// DefaultPolicy is used by callers that have no endpoint-specific tuning.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    4,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       10 * time.Second,
		BackoffFactor:  2.0,
		JitterFraction: 0.2,
	}
}

func (p Policy) withDefaults() Policy {
	out := p
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 1
	}
	if out.InitialDelay <= 0 {
		out.InitialDelay = 500 * time.Millisecond
	}
	if out.MaxDelay <= 0 {
		out.MaxDelay = 10 * time.Second
	}
	if out.BackoffFactor < 1 {
		out.BackoffFactor = 2.0
	}
	if out.JitterFraction < 0 || out.JitterFraction >= 1 {
		out.JitterFraction = 0.2
	}
	return out
}

// Do runs op under the policy. Transient failures are retried with
// exponential backoff; Auth, Resource and Unknown failures surface
// immediately. Exhausting MaxAttempts returns the last classified error.
func Do[T any](ctx context.Context, policy Policy, op func(ctx context.Context) (T, error)) (T, error) {
	policy = policy.withDefaults()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = policy.InitialDelay
	eb.MaxInterval = policy.MaxDelay
	eb.Multiplier = policy.BackoffFactor
	eb.RandomizationFactor = policy.JitterFraction
	// Attempt count is the bound, not wall time.
	eb.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(policy.MaxAttempts-1)), ctx)

	return backoff.RetryWithData(func() (T, error) {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		ce := Classify(err)
		if ce.Category != CategoryTransient {
			return v, backoff.Permanent(error(ce))
		}
		return v, ce
	}, b)
}
