package internal

import (
	"sync"
	"time"
)

// CircuitBreaker opens after threshold failures within window and stays open
// for openDuration.
type CircuitBreaker struct {
	mu           sync.Mutex
	failures     []time.Time
	threshold    int
	window       time.Duration
	openUntil    time.Time
	openDuration time.Duration
	now          func() time.Time
}

// NewCircuitBreaker creates a configured circuit breaker.
func NewCircuitBreaker(threshold int, window, openDuration time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		threshold:    threshold,
		window:       window,
		openDuration: openDuration,
		failures:     make([]time.Time, 0, threshold),
		now:          time.Now,
	}
}

// RecordFailure records a failure and opens the breaker once the threshold is reached.
func (cb *CircuitBreaker) RecordFailure() {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	cutoff := now.Add(-cb.window)
	i := 0
	for ; i < len(cb.failures); i++ {
		if cb.failures[i].After(cutoff) {
			break
		}
	}
	if i > 0 {
		cb.failures = append([]time.Time{}, cb.failures[i:]...)
	}
	cb.failures = append(cb.failures, now)

	if len(cb.failures) >= cb.threshold {
		cb.openUntil = now.Add(cb.openDuration)
	}
}

// RecordSuccess resets failure history.
func (cb *CircuitBreaker) RecordSuccess() {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = cb.failures[:0]
	cb.openUntil = time.Time{}
}

// IsOpen reports whether calls should currently be refused.
func (cb *CircuitBreaker) IsOpen() bool {
	if cb == nil {
		return false
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.now().Before(cb.openUntil)
}

// OpenUntil returns the time the breaker closes again, or the zero time.
func (cb *CircuitBreaker) OpenUntil() time.Time {
	if cb == nil {
		return time.Time{}
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.openUntil
}

// hostBreakers keeps one breaker per schema host.
type hostBreakers struct {
	mu         sync.Mutex
	byHost     map[string]*CircuitBreaker
	newBreaker func() *CircuitBreaker
}

func newHostBreakers(threshold int, window, openDuration time.Duration) *hostBreakers {
	return &hostBreakers{
		byHost: make(map[string]*CircuitBreaker),
		newBreaker: func() *CircuitBreaker {
			return NewCircuitBreaker(threshold, window, openDuration)
		},
	}
}

func (h *hostBreakers) get(host string) *CircuitBreaker {
	h.mu.Lock()
	defer h.mu.Unlock()
	cb, ok := h.byHost[host]
	if !ok {
		cb = h.newBreaker()
		h.byHost[host] = cb
	}
	return cb
}
