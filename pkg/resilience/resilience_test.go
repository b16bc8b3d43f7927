package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCircuitBreakerOpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test", MaxFailures: 2, ResetTimeout: time.Hour})

	failing := func() error { return errors.New("boom") }

	_ = cb.Execute(failing)
	_ = cb.Execute(failing)

	if cb.State() != CircuitOpen {
		t.Fatalf("expected circuit to be open after %d failures, got %s", 2, cb.State())
	}

	if err := cb.Execute(func() error { return nil }); err == nil {
		t.Fatal("expected open circuit to reject calls")
	}
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test", MaxFailures: 1, ResetTimeout: 10 * time.Millisecond})

	_ = cb.Execute(func() error { return errors.New("boom") })
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	time.Sleep(20 * time.Millisecond)

	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected half-open probe to succeed: %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Fatalf("expected circuit to close after a successful probe, got %s", cb.State())
	}
}

func TestRetrySucceedsEventually(t *testing.T) {
	attempts := 0
	cfg := RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 1.5}

	err := Retry(context.Background(), cfg, func(attempt int) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 1.0}

	err := Retry(context.Background(), cfg, func(attempt int) error {
		return errors.New("always fails")
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
}

func TestRetryStopsOnNonRetryableError(t *testing.T) {
	attempts := 0
	cfg := RetryConfig{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		RetryableErr: func(err error) bool { return false },
	}
	err := Retry(context.Background(), cfg, func(attempt int) error {
		attempts++
		return errors.New("fatal")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Fatalf("expected a single attempt for a non-retryable error, got %d", attempts)
	}
}

func TestWithTimeoutExceeded(t *testing.T) {
	err := WithTimeout(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestWithTimeoutSucceeds(t *testing.T) {
	err := WithTimeout(context.Background(), time.Second, func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}
