// Package retry holds the backoff policy shared by the client retry queue and
// the server-side fulfillment queue, plus a helper for inline bounded retries.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy computes retry delays from a stored retry count. Unlike an in-memory
// backoff, the delay must be reconstructible from the count alone because queue
// entries persist their bookkeeping across process restarts.
type Policy struct {
	Base       time.Duration
	Cap        time.Duration
	MaxRetries int
}

// ClientQueuePolicy matches the extension-side retry queue tuning.
func ClientQueuePolicy() Policy {
	return Policy{Base: time.Second, Cap: 30 * time.Second, MaxRetries: 3}
}

// FulfillmentPolicy matches the supplier-placement queue tuning. The two are
// deliberately independent knobs; see DESIGN.md.
func FulfillmentPolicy() Policy {
	return Policy{Base: time.Minute, Cap: time.Hour, MaxRetries: 3}
}

// Delay returns min(Base*2^retryCount, Cap) perturbed by symmetric jitter of
// ±25%, so many queued entries do not retry in lockstep.
func (p Policy) Delay(retryCount int) time.Duration {
	d := p.raw(retryCount)
	jitter := time.Duration(float64(d) * 0.25 * (rand.Float64()*2 - 1))
	return d + jitter
}

func (p Policy) raw(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	d := p.Base
	for i := 0; i < retryCount; i++ {
		d *= 2
		if d >= p.Cap {
			return p.Cap
		}
	}
	if d > p.Cap {
		return p.Cap
	}
	return d
}

// Exhausted reports whether an entry with the given retry count has used up its budget.
func (p Policy) Exhausted(retryCount int) bool {
	return retryCount >= p.MaxRetries
}

// Do runs op up to maxTries times with exponential backoff starting at initial.
// This is for short, in-process retries (e.g. the pipeline's commit call); it is
// never persisted. Wrap an error with backoff.Permanent to stop early.
func Do[T any](ctx context.Context, maxTries uint, initial time.Duration, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.Multiplier = 2
	b.RandomizationFactor = 0.25
	return backoff.Retry(ctx, op, backoff.WithBackOff(b), backoff.WithMaxTries(maxTries))
}

// Permanent marks err as non-retryable for Do.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
