package ledger

import (
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned while the breaker is cooling down after repeated
// transport failures. Callers surface it as a transient outcome.
var ErrBreakerOpen = errors.New("ledger node unreachable, breaker open")

// breaker trips after maxFailures consecutive transport failures and fails
// fast until cooldown passes. One probe is allowed through after cooldown;
// success closes it again.
type breaker struct {
	maxFailures int
	cooldown    time.Duration

	mu          sync.Mutex
	failures    int
	openedAt    time.Time
	probing     bool
}

func newBreaker(maxFailures int, cooldown time.Duration) *breaker {
	return &breaker{maxFailures: maxFailures, cooldown: cooldown}
}

// allow reports whether a request may go out now.
func (b *breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failures < b.maxFailures {
		return nil
	}
	if time.Since(b.openedAt) < b.cooldown {
		return ErrBreakerOpen
	}
	if b.probing {
		return ErrBreakerOpen
	}
	b.probing = true
	return nil
}

func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.probing = false
}

func (b *breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.probing = false
	if b.failures >= b.maxFailures {
		b.openedAt = time.Now()
	}
}
