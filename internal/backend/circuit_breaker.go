package backend

import (
	"errors"
	"sync"
	"time"
)

// BreakerState is the position of the circuit breaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrBreakerOpen is returned by Allow while calls are being shed.
var ErrBreakerOpen = errors.New("circuit breaker is open")

// outcome is what a guarded call reports back to the breaker.
type outcome int

const (
	// outcomeNeutral frees the call's slot without counting it, e.g. for a
	// 4xx or a caller that went away.
	outcomeNeutral outcome = iota
	outcomeSuccess
	outcomeFailure
)

// CircuitBreaker sheds backend calls after failureThreshold consecutive
// infrastructure failures. After timeout it lets up to successThreshold
// probe calls through at once; that many successes close it again and any
// probe failure reopens it. Every call admitted by Allow must be finished
// with Done, passing the ticket Allow returned. Outcomes carrying a ticket
// from before the last transition are ignored, so a slow request started
// while closed cannot reopen a breaker that already recovered.
type CircuitBreaker struct {
	failureThreshold int
	successThreshold int
	timeout          time.Duration
	now              func() time.Time

	mu         sync.Mutex
	state      BreakerState
	generation uint64
	failures   int
	successes  int
	probes     int // probes in flight while half-open
	openedAt   time.Time
	onChange   func(BreakerState)
}

// NewCircuitBreaker creates a closed breaker. Non-positive arguments fall
// back to 5 failures, 2 successes and 30s.
func NewCircuitBreaker(failureThreshold, successThreshold int, timeout time.Duration) *CircuitBreaker {
	if failureThreshold < 1 {
		failureThreshold = 5
	}
	if successThreshold < 1 {
		successThreshold = 2
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		timeout:          timeout,
		now:              time.Now,
	}
}

// OnStateChange registers fn for transitions. It runs without the lock held.
func (cb *CircuitBreaker) OnStateChange(fn func(BreakerState)) {
	cb.mu.Lock()
	cb.onChange = fn
	cb.mu.Unlock()
}

// Allow admits a call and returns its ticket, or ErrBreakerOpen.
func (cb *CircuitBreaker) Allow() (uint64, error) {
	cb.mu.Lock()
	moved := cb.expireLocked()
	var err error
	switch cb.state {
	case BreakerOpen:
		err = ErrBreakerOpen
	case BreakerHalfOpen:
		if cb.probes >= cb.successThreshold {
			err = ErrBreakerOpen
		} else {
			cb.probes++
		}
	}
	ticket := cb.generation
	cb.unlockAndNotify(moved)
	return ticket, err
}

// Done reports the outcome of a call admitted with ticket.
func (cb *CircuitBreaker) Done(ticket uint64, o outcome) {
	cb.mu.Lock()
	if ticket != cb.generation {
		cb.mu.Unlock()
		return
	}

	moved := false
	switch cb.state {
	case BreakerClosed:
		switch o {
		case outcomeSuccess:
			cb.failures = 0
		case outcomeFailure:
			cb.failures++
			if cb.failures >= cb.failureThreshold {
				moved = cb.moveLocked(BreakerOpen)
			}
		}
	case BreakerHalfOpen:
		cb.probes--
		switch o {
		case outcomeSuccess:
			cb.successes++
			if cb.successes >= cb.successThreshold {
				moved = cb.moveLocked(BreakerClosed)
			}
		case outcomeFailure:
			moved = cb.moveLocked(BreakerOpen)
		}
	}
	cb.unlockAndNotify(moved)
}

// State returns the current state, moving an expired open breaker to
// half-open first.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	moved := cb.expireLocked()
	s := cb.state
	cb.unlockAndNotify(moved)
	return s
}

// Counts returns the consecutive failures while closed and the successful
// probes while half-open.
func (cb *CircuitBreaker) Counts() (failures, successes int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures, cb.successes
}

func (cb *CircuitBreaker) expireLocked() bool {
	if cb.state == BreakerOpen && cb.now().Sub(cb.openedAt) >= cb.timeout {
		return cb.moveLocked(BreakerHalfOpen)
	}
	return false
}

func (cb *CircuitBreaker) moveLocked(to BreakerState) bool {
	cb.state = to
	cb.generation++
	cb.failures, cb.successes, cb.probes = 0, 0, 0
	if to == BreakerOpen {
		cb.openedAt = cb.now()
	}
	return true
}

func (cb *CircuitBreaker) unlockAndNotify(moved bool) {
	s, fn := cb.state, cb.onChange
	cb.mu.Unlock()
	if moved && fn != nil {
		fn(s)
	}
}
