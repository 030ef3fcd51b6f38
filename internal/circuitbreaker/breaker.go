// Package circuitbreaker stops republish attempts against a brand whose
// downstream action keeps failing, so a bad brand does not burn the whole run
// window retrying it.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

type brandState struct {
	state               state
	consecutiveFailures int
	openedAt            time.Time
}

// CircuitBreaker tracks consecutive republish failures per brand. After
// threshold failures the brand's circuit opens for cooldown; the first attempt
// after cooldown is a half-open probe.
type CircuitBreaker struct {
	mu        sync.Mutex
	states    map[uuid.UUID]*brandState
	threshold int
	cooldown  time.Duration
	clock     func() time.Time
}

func New(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		states:    make(map[uuid.UUID]*brandState),
		threshold: threshold,
		cooldown:  cooldown,
		clock:     time.Now,
	}
}

func (cb *CircuitBreaker) Allow(brandID uuid.UUID) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[brandID]
	if !ok {
		return nil
	}

	switch s.state {
	case stateClosed:
		return nil
	case stateOpen:
		if cb.clock().Sub(s.openedAt) >= cb.cooldown {
			s.state = stateHalfOpen
			return nil
		}
		return ErrCircuitOpen
	case stateHalfOpen:
		// One probe in flight is enough.
		return ErrCircuitOpen
	default:
		return nil
	}
}

func (cb *CircuitBreaker) RecordSuccess(brandID uuid.UUID) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[brandID]
	if !ok {
		return
	}
	s.state = stateClosed
	s.consecutiveFailures = 0
}

func (cb *CircuitBreaker) RecordFailure(brandID uuid.UUID) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[brandID]
	if !ok {
		s = &brandState{}
		cb.states[brandID] = s
	}

	s.consecutiveFailures++
	if s.consecutiveFailures >= cb.threshold {
		s.state = stateOpen
		s.openedAt = cb.clock()
	}
}
