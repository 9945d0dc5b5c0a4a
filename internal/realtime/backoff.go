package realtime

import (
	"time"

	"github.com/cenkalti/backoff"
)

// linearBackOff waits base*n before the n-th attempt.
// Not thread-safe; guarded by Transport.mu.
type linearBackOff struct {
	base    time.Duration
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return b.base * time.Duration(b.attempt)
}

func (b *linearBackOff) Reset() {
	b.attempt = 0
}

// newReconnectPolicy returns a policy that yields base, 2*base, ...,
// maxAttempts*base and then backoff.Stop.
func newReconnectPolicy(base time.Duration, maxAttempts int) backoff.BackOff {
	if maxAttempts < 1 {
		// WithMaxRetries treats 0 as unlimited.
		maxAttempts = 1
	}
	return backoff.WithMaxRetries(&linearBackOff{base: base}, uint64(maxAttempts))
}
