package session

import (
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

// ReconnectPolicy hands out exponentially growing, capped delays for a bounded
// number of consecutive reconnection attempts.
type ReconnectPolicy struct {
	maxAttempts int
	base        time.Duration
	ceiling     time.Duration

	mu       sync.Mutex
	attempts int
	backoff  retry.Backoff
}

// NewReconnectPolicy builds a policy; non-positive inputs fall back to 3 attempts,
// a 1 s base, and a 10 s ceiling.
func NewReconnectPolicy(maxAttempts int, base, ceiling time.Duration) *ReconnectPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if base <= 0 {
		base = time.Second
	}
	if ceiling <= 0 {
		ceiling = 10 * time.Second
	}
	p := &ReconnectPolicy{maxAttempts: maxAttempts, base: base, ceiling: ceiling}
	p.backoff = p.newBackoff()
	return p
}

func (p *ReconnectPolicy) newBackoff() retry.Backoff {
	b := retry.NewExponential(p.base)
	b = retry.WithCappedDuration(p.ceiling, b)
	return retry.WithMaxRetries(uint64(p.maxAttempts), b)
}

// Next consumes one attempt. ok is false once every attempt has been used.
func (p *ReconnectPolicy) Next() (attempt int, delay time.Duration, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delay, stop := p.backoff.Next()
	if stop {
		return p.attempts, 0, false
	}
	p.attempts++
	return p.attempts, delay, true
}

// Reset returns the policy to zero attempts.
func (p *ReconnectPolicy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts = 0
	p.backoff = p.newBackoff()
}

// Attempts reports how many attempts have been consumed since the last reset.
func (p *ReconnectPolicy) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

// MaxAttempts reports the configured bound.
func (p *ReconnectPolicy) MaxAttempts() int {
	return p.maxAttempts
}
