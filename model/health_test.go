package model

import (
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestRegistry(clock *fakeClock) *Registry {
	r := NewDefaultRegistry()
	r.SetHealthConfig(HealthConfig{
		FailureThreshold: 2,
		RecoveryTimeout:  10 * time.Second,
		Now:              clock.Now,
	})
	return r
}

func TestEndpointHealthTracking(t *testing.T) {
	r := NewDefaultRegistry()

	if !r.IsEndpointAvailable("mistral-large") {
		t.Error("expected mistral-large to be available initially")
	}
	if r.GetEndpointHealth("mistral-large") != nil {
		t.Error("expected no health info before any requests")
	}

	r.MarkEndpointSuccess("mistral-large")

	health := r.GetEndpointHealth("mistral-large")
	if health == nil {
		t.Fatal("expected health info after success")
	}
	if !health.Available || health.FailureCount != 0 {
		t.Errorf("unexpected health after success: %+v", health)
	}
	if health.LastSuccess.IsZero() {
		t.Error("expected last success to be set")
	}
}

func TestCircuitBreakerOpens(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	r := newTestRegistry(clock)

	r.MarkEndpointFailure("mistral-large")
	if !r.IsEndpointAvailable("mistral-large") {
		t.Error("one failure should not open the circuit")
	}

	r.MarkEndpointFailure("mistral-large")
	if r.IsEndpointAvailable("mistral-large") {
		t.Error("expected circuit to be open after threshold")
	}
	if h := r.GetEndpointHealth("mistral-large"); h == nil || !h.CircuitOpen {
		t.Errorf("expected circuit open, got %+v", h)
	}
}

func TestCircuitBreakerHalfOpen(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	r := newTestRegistry(clock)

	r.MarkEndpointFailure("mistral-large")
	r.MarkEndpointFailure("mistral-large")

	clock.Advance(5 * time.Second)
	if r.IsEndpointAvailable("mistral-large") {
		t.Error("circuit should stay open before the recovery timeout")
	}

	clock.Advance(6 * time.Second)
	if !r.IsEndpointAvailable("mistral-large") {
		t.Error("expected a probe to be allowed after the recovery timeout")
	}

	r.MarkEndpointSuccess("mistral-large")
	if h := r.GetEndpointHealth("mistral-large"); h.CircuitOpen || h.FailureCount != 0 {
		t.Errorf("success should close the circuit, got %+v", h)
	}
}

func TestAvailableFallbackChain(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	r := newTestRegistry(clock)

	r.MarkEndpointFailure("mistral-large")
	r.MarkEndpointFailure("mistral-large")

	chain := r.GetAvailableFallbackChain(CapabilityStructuring)
	if len(chain) != 1 || chain[0] != "mistral-small" {
		t.Errorf("expected only mistral-small, got %v", chain)
	}

	r.MarkEndpointFailure("mistral-small")
	r.MarkEndpointFailure("mistral-small")

	chain = r.GetAvailableFallbackChain(CapabilityStructuring)
	if len(chain) != 2 {
		t.Errorf("all unavailable should return the full chain, got %v", chain)
	}
}

func TestResetEndpointHealth(t *testing.T) {
	r := NewDefaultRegistry()
	r.MarkEndpointFailure("mistral-small")
	r.ResetEndpointHealth("mistral-small")

	if r.GetEndpointHealth("mistral-small") != nil {
		t.Error("expected health to be cleared")
	}
}
