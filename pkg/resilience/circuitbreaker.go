// Package resilience provides circuit breaker and rate limiter primitives
// for calls to external services.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/quantumvision/quantum-image-search/pkg/fn"
)

// State is the breaker's position.
type State int

const (
	StateClosed   State = iota // passing calls through
	StateOpen                  // rejecting calls
	StateHalfOpen              // allowing probe calls
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerOpts configures the circuit breaker.
type BreakerOpts struct {
	// FailThreshold is the consecutive-failure count that trips the breaker.
	FailThreshold int
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
	// HalfOpenMax caps concurrent probe calls while half-open.
	HalfOpenMax int
}

// DefaultBreakerOpts are the defaults applied for zero fields.
var DefaultBreakerOpts = BreakerOpts{
	FailThreshold: 5,
	Timeout:       30 * time.Second,
	HalfOpenMax:   1,
}

// Breaker is a closed/open/half-open circuit breaker.
type Breaker struct {
	mu       sync.Mutex
	opts     BreakerOpts
	state    State
	failures int
	openedAt time.Time
	probes   int
	now      func() time.Time
}

// NewBreaker creates a breaker, filling zero options from the defaults.
func NewBreaker(opts BreakerOpts) *Breaker {
	if opts.FailThreshold <= 0 {
		opts.FailThreshold = DefaultBreakerOpts.FailThreshold
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultBreakerOpts.Timeout
	}
	if opts.HalfOpenMax <= 0 {
		opts.HalfOpenMax = DefaultBreakerOpts.HalfOpenMax
	}
	return &Breaker{opts: opts, now: time.Now}
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState()
}

// currentState transitions open to half-open once the timeout has elapsed.
// Caller holds mu.
func (b *Breaker) currentState() State {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.opts.Timeout {
		b.state = StateHalfOpen
		b.probes = 0
	}
	return b.state
}

// admit decides whether a call may proceed. Caller holds mu.
func (b *Breaker) admit() error {
	switch b.currentState() {
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		if b.probes >= b.opts.HalfOpenMax {
			return ErrCircuitOpen
		}
		b.probes++
	}
	return nil
}

// settle records a call outcome. Caller holds mu.
func (b *Breaker) settle(failed bool) {
	if failed {
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.opts.FailThreshold {
			b.state = StateOpen
			b.openedAt = b.now()
			b.failures = 0
			b.probes = 0
		}
		return
	}
	if b.state == StateHalfOpen {
		b.state = StateClosed
	}
	b.failures = 0
}

// Call executes f through the breaker.
func (b *Breaker) Call(ctx context.Context, f func(context.Context) error) error {
	b.mu.Lock()
	if err := b.admit(); err != nil {
		b.mu.Unlock()
		return err
	}
	b.mu.Unlock()

	err := f(ctx)

	b.mu.Lock()
	b.settle(err != nil)
	b.mu.Unlock()
	return err
}

// CallResult is the fn.Result form of Call.
func CallResult[T any](b *Breaker, ctx context.Context, f func(context.Context) fn.Result[T]) fn.Result[T] {
	b.mu.Lock()
	if err := b.admit(); err != nil {
		b.mu.Unlock()
		return fn.Err[T](err)
	}
	b.mu.Unlock()

	result := f(ctx)

	b.mu.Lock()
	b.settle(result.IsErr())
	b.mu.Unlock()
	return result
}

// BreakerStage wraps a stage with circuit breaker protection.
func BreakerStage[In, Out any](b *Breaker, stage fn.Stage[In, Out]) fn.Stage[In, Out] {
	return func(ctx context.Context, in In) fn.Result[Out] {
		return CallResult(b, ctx, func(ctx context.Context) fn.Result[Out] {
			return stage(ctx, in)
		})
	}
}
