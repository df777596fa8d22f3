package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quantumvision/quantum-image-search/pkg/fn"
)

// clock is a controllable time source for limiter and breaker tests.
type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestLimiterBurstThenRefill(t *testing.T) {
	ck := &clock{t: time.Unix(1000, 0)}
	l := NewLimiter(LimiterOpts{Rate: 2, Burst: 3})
	l.now = ck.now

	for i := 0; i < 3; i++ {
		if !l.Allow() {
			t.Fatalf("burst request %d rejected", i)
		}
	}
	if l.Allow() {
		t.Fatal("empty bucket allowed a request")
	}

	ck.advance(time.Second) // 2 tokens back
	if !l.Allow() || !l.Allow() {
		t.Fatal("refilled tokens rejected")
	}
	if l.Allow() {
		t.Fatal("over-refill: bucket credited more than rate*elapsed")
	}
}

func TestLimiterBurstCap(t *testing.T) {
	ck := &clock{t: time.Unix(1000, 0)}
	l := NewLimiter(LimiterOpts{Rate: 100, Burst: 2})
	l.now = ck.now

	l.Allow()
	ck.advance(time.Hour)
	// Bucket refills to capacity, not rate*elapsed.
	if !l.Allow() || !l.Allow() {
		t.Fatal("expected a full bucket")
	}
	if l.Allow() {
		t.Fatal("bucket exceeded burst capacity")
	}
}

func TestLimiterCall(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 1, Burst: 1})
	called := 0
	f := func(context.Context) error { called++; return nil }

	if err := l.Call(context.Background(), f); err != nil {
		t.Fatal(err)
	}
	if err := l.Call(context.Background(), f); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if called != 1 {
		t.Fatalf("f called %d times", called)
	}
}

func TestLimiterWaitCancellation(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 0.001, Burst: 1})
	l.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}

func TestBreakerTripsAfterThreshold(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 3, Timeout: time.Minute})
	boom := errors.New("down")
	fail := func(context.Context) error { return boom }

	for i := 0; i < 3; i++ {
		if err := b.Call(context.Background(), fail); !errors.Is(err, boom) {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}
	if err := b.Call(context.Background(), fail); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("open breaker passed a call: %v", err)
	}
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 2, Timeout: time.Minute})
	boom := errors.New("down")

	b.Call(context.Background(), func(context.Context) error { return boom })
	b.Call(context.Background(), func(context.Context) error { return nil })
	b.Call(context.Background(), func(context.Context) error { return boom })

	if b.State() != StateClosed {
		t.Fatalf("non-consecutive failures tripped the breaker: %v", b.State())
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	ck := &clock{t: time.Unix(1000, 0)}
	b := NewBreaker(BreakerOpts{FailThreshold: 1, Timeout: 30 * time.Second})
	b.now = ck.now

	boom := errors.New("down")
	b.Call(context.Background(), func(context.Context) error { return boom })
	if b.State() != StateOpen {
		t.Fatal("breaker should be open")
	}

	ck.advance(31 * time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open", b.State())
	}
	if err := b.Call(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("successful probe did not close the breaker: %v", b.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	ck := &clock{t: time.Unix(1000, 0)}
	b := NewBreaker(BreakerOpts{FailThreshold: 1, Timeout: 30 * time.Second})
	b.now = ck.now

	boom := errors.New("down")
	b.Call(context.Background(), func(context.Context) error { return boom })
	ck.advance(31 * time.Second)
	b.Call(context.Background(), func(context.Context) error { return boom })
	if b.State() != StateOpen {
		t.Fatalf("failed probe did not reopen: %v", b.State())
	}
}

func TestBreakerStage(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 1, Timeout: time.Minute})
	stage := BreakerStage(b, func(_ context.Context, in int) fn.Result[int] {
		if in < 0 {
			return fn.Errf[int]("negative input")
		}
		return fn.Ok(in * 2)
	})

	if v, err := stage(context.Background(), 21).Unwrap(); err != nil || v != 42 {
		t.Fatalf("got %d, %v", v, err)
	}
	stage(context.Background(), -1)
	if _, err := stage(context.Background(), 1).Unwrap(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestLimiterStage(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 1, Burst: 1})
	stage := LimiterStage(l, func(_ context.Context, in string) fn.Result[string] {
		return fn.Ok(in)
	})

	if _, err := stage(context.Background(), "a").Unwrap(); err != nil {
		t.Fatal(err)
	}
	if _, err := stage(context.Background(), "b").Unwrap(); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestStateString(t *testing.T) {
	if StateClosed.String() != "closed" || StateOpen.String() != "open" ||
		StateHalfOpen.String() != "half-open" || State(9).String() != "unknown" {
		t.Fatal("state strings wrong")
	}
}
