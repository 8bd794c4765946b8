package risk

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrTradingHalted means the breaker is open and the tick must be skipped
// until a manual Reset.
var ErrTradingHalted = errors.New("risk: trading halted by breaker")

// Breaker halts the trading tick after too many consecutive failures. A run
// of failed ticks usually means the exchange or the network is unhealthy, and
// trading blind on stale history is worse than not trading.
//
// A limit <= 0 disables the breaker. The zero value and a nil receiver are
// both usable no-ops.
type Breaker struct {
	mu       sync.Mutex
	limit    int64
	failures int64
	open     bool
}

// NewBreaker creates a breaker that opens after limit consecutive failures.
func NewBreaker(limit int64) *Breaker {
	return &Breaker{limit: limit}
}

// Check reports whether the tick may run. Crossing the failure limit opens
// the breaker, and an open breaker stays open until Reset.
func (b *Breaker) Check() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open && b.limit > 0 && b.failures >= b.limit {
		b.open = true
	}
	if b.open {
		return ErrTradingHalted
	}
	return nil
}

// Failure records one failed tick.
func (b *Breaker) Failure() {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.failures++
	b.mu.Unlock()
}

// Success ends the current failure run.
func (b *Breaker) Success() {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.failures = 0
	b.mu.Unlock()
}

// Trip opens the breaker manually.
func (b *Breaker) Trip() {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.open = true
	b.mu.Unlock()
}

// Reset closes the breaker and clears the failure run.
func (b *Breaker) Reset() {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.open = false
	b.failures = 0
	b.mu.Unlock()
}
