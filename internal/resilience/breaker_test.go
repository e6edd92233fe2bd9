package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "autosniper/internal/errors"
)

func testBreaker(resetTimeout time.Duration) *Breaker {
	return NewBreaker("test", BreakerConfig{
		TripThreshold:    3,
		SuccessThreshold: 2,
		ResetTimeout:     resetTimeout,
	})
}

var errBoom = errors.New("boom")

func fail(ctx context.Context) error    { return errBoom }
func succeed(ctx context.Context) error { return nil }

func TestBreakerTripsAfterThreshold(t *testing.T) {
	b := testBreaker(time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if b.State() != StateClosed {
			t.Fatalf("breaker opened early after %d failures", i)
		}
		b.Do(ctx, fail)
	}
	if b.State() != StateOpen {
		t.Fatalf("expected open after 3 failures, got %s", b.State())
	}

	err := b.Do(ctx, succeed)
	if !apperrors.Is(err, apperrors.ErrCircuitOpen) {
		t.Fatalf("open breaker must reject with ErrCircuitOpen, got %v", err)
	}
	if got := b.Stats().TotalRejected; got != 1 {
		t.Fatalf("expected 1 rejected call, got %d", got)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := testBreaker(time.Minute)
	ctx := context.Background()

	b.Do(ctx, fail)
	b.Do(ctx, fail)
	b.Do(ctx, succeed)
	b.Do(ctx, fail)
	b.Do(ctx, fail)

	if b.State() != StateClosed {
		t.Fatal("non-consecutive failures must not trip the breaker")
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b := testBreaker(10 * time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		b.Do(ctx, fail)
	}
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	time.Sleep(20 * time.Millisecond)

	if err := b.Do(ctx, succeed); err != nil {
		t.Fatalf("probe call after reset timeout should run, got %v", err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half-open after first probe success, got %s", b.State())
	}
	if err := b.Do(ctx, succeed); err != nil {
		t.Fatalf("second probe should run, got %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed after success threshold, got %s", b.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := testBreaker(10 * time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		b.Do(ctx, fail)
	}
	time.Sleep(20 * time.Millisecond)

	b.Do(ctx, fail)
	if b.State() != StateOpen {
		t.Fatalf("half-open failure must reopen, got %s", b.State())
	}
}

func TestBreakerCallTimeout(t *testing.T) {
	b := NewBreaker("slow", BreakerConfig{
		TripThreshold:    3,
		SuccessThreshold: 1,
		ResetTimeout:     time.Minute,
		CallTimeout:      10 * time.Millisecond,
	})

	err := b.Do(context.Background(), func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})
	if err == nil {
		t.Fatal("slow call should time out")
	}
	if got := b.Stats().TotalTimeouts; got != 1 {
		t.Fatalf("expected 1 timeout recorded, got %d", got)
	}
}

func TestBreakerReset(t *testing.T) {
	b := testBreaker(time.Minute)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		b.Do(ctx, fail)
	}
	if b.Healthy() {
		t.Fatal("open breaker must report unhealthy")
	}
	b.Reset()
	if !b.Healthy() || b.State() != StateClosed {
		t.Fatal("reset must force the breaker closed")
	}
}

func TestCallGeneric(t *testing.T) {
	b := testBreaker(time.Minute)

	got, err := Call(b, context.Background(), func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if err != nil || got != 42 {
		t.Fatalf("expected 42, got %d err %v", got, err)
	}

	_, err = Call(b, context.Background(), func(ctx context.Context) (int, error) {
		return 0, errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
}
