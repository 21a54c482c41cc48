package sidecar

import "testing"

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := &breaker{}

	for i := 0; i < failureThreshold-1; i++ {
		b.recordFailure()
		if err := b.allow(); err != nil {
			t.Fatalf("breaker opened early after %d failures", i+1)
		}
	}

	b.recordFailure()
	if err := b.allow(); err == nil {
		t.Fatal("expected breaker to be open after reaching the failure threshold")
	}
}

func TestBreakerHalfOpenClosesOnSuccess(t *testing.T) {
	b := &breaker{}
	for i := 0; i < failureThreshold; i++ {
		b.recordFailure()
	}
	b.state = stateHalfOpen

	if err := b.allow(); err != nil {
		t.Fatalf("half-open breaker should allow a trial request: %v", err)
	}

	b.recordSuccess()
	if b.state != stateClosed {
		t.Fatalf("expected closed after success, got %v", b.state)
	}
	if b.failures.Load() != 0 {
		t.Fatalf("expected failure counter reset, got %d", b.failures.Load())
	}
}

func TestBreakerHalfOpenReopensOnFailure(t *testing.T) {
	b := &breaker{state: stateHalfOpen}
	b.recordFailure()
	if b.state != stateOpen {
		t.Fatalf("expected a half-open failure to reopen the breaker, got %v", b.state)
	}
}
