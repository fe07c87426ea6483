package resilience

import (
	"errors"
	"testing"
	"time"
)

// twoBackendGroup builds a primary/secondary string chain with a breaker
// tolerating maxFailures consecutive failures.
func twoBackendGroup(maxFailures int, resetTimeout time.Duration) *FallbackGroup[string] {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{
			MaxFailures:  maxFailures,
			ResetTimeout: resetTimeout,
		},
	})
	fg.AddFallback("secondary", "secondary")
	return fg
}

func TestGroupPrefersPrimary(t *testing.T) {
	fg := twoBackendGroup(3, 0)

	var served string
	if err := fg.Execute(func(v string) error { served = v; return nil }); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if served != "primary" {
		t.Errorf("served by %q", served)
	}
}

func TestGroupFailsOver(t *testing.T) {
	fg := twoBackendGroup(3, 0)

	var served string
	err := fg.Execute(func(v string) error {
		if v == "primary" {
			return errBackend
		}
		served = v
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if served != "secondary" {
		t.Errorf("served by %q", served)
	}
}

func TestGroupExhausted(t *testing.T) {
	fg := twoBackendGroup(3, 0)
	err := fg.Execute(func(string) error { return errBackend })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("got %v, want ErrAllFailed", err)
	}
}

func TestGroupSkipsOpenBreaker(t *testing.T) {
	fg := twoBackendGroup(2, time.Hour)

	// Two failed calls trip the primary's breaker.
	for i := 0; i < 2; i++ {
		_ = fg.Execute(func(v string) error {
			if v == "primary" {
				return errBackend
			}
			return nil
		})
	}

	// Subsequent calls must go straight to the secondary.
	err := fg.Execute(func(v string) error {
		if v == "primary" {
			t.Error("primary called behind an open breaker")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
}

func TestExecuteWithResult(t *testing.T) {
	fg := NewFallbackGroup(10, "ten", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fg.AddFallback("twenty", 20)

	got, err := ExecuteWithResult(fg, func(v int) (string, error) {
		if v == 10 {
			return "from-ten", nil
		}
		return "from-twenty", nil
	})
	if err != nil || got != "from-ten" {
		t.Fatalf("primary path: %q, %v", got, err)
	}

	got, err = ExecuteWithResult(fg, func(v int) (string, error) {
		if v == 10 {
			return "", errBackend
		}
		return "from-twenty", nil
	})
	if err != nil || got != "from-twenty" {
		t.Fatalf("failover path: %q, %v", got, err)
	}

	_, err = ExecuteWithResult(fg, func(int) (string, error) { return "", errBackend })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("exhausted chain: got %v, want ErrAllFailed", err)
	}
}
