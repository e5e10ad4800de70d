package circuit

import (
	"context"
	"errors"
	"testing"
	"time"

	sferrors "github.com/soloforge/soloforge/pkg/errors"
)

var errTest = errors.New("test failure")

func testConfig() *Config {
	return &Config{
		MaxFailures:     3,
		SuccessRequired: 2,
		Timeout:         50 * time.Millisecond,
		ResetTimeout:    time.Second,
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.MaxFailures != 5 {
		t.Errorf("Expected MaxFailures 5, got %d", config.MaxFailures)
	}
	if config.SuccessRequired != 3 {
		t.Errorf("Expected SuccessRequired 3, got %d", config.SuccessRequired)
	}
	if config.Timeout != 30*time.Second {
		t.Errorf("Expected Timeout 30s, got %v", config.Timeout)
	}
	if config.ResetTimeout != 60*time.Second {
		t.Errorf("Expected ResetTimeout 60s, got %v", config.ResetTimeout)
	}
}

func TestNew_NilConfig(t *testing.T) {
	cb := New(nil)

	if cb.GetState() != StateClosed {
		t.Errorf("Expected new breaker to be closed, got %s", cb.GetState())
	}
	if cb.config.MaxFailures != 5 {
		t.Error("Expected nil config to fall back to defaults")
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("State %d: expected %q, got %q", tt.state, tt.expected, got)
		}
	}
}

func TestExecute_Success(t *testing.T) {
	cb := New(testConfig())

	err := cb.Execute(context.Background(), func() error { return nil })
	if err != nil {
		t.Errorf("Expected success, got %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("Expected closed state, got %s", cb.GetState())
	}
}

func TestExecute_OpensAfterMaxFailures(t *testing.T) {
	cb := New(testConfig())

	for i := 0; i < 3; i++ {
		if err := cb.Execute(context.Background(), func() error { return errTest }); err != errTest {
			t.Fatalf("Expected the function error passed through, got %v", err)
		}
	}

	if cb.GetState() != StateOpen {
		t.Fatalf("Expected open state after 3 failures, got %s", cb.GetState())
	}

	// Requests are rejected while open; the function must not run.
	called := false
	err := cb.Execute(context.Background(), func() error {
		called = true
		return nil
	})
	if err == nil {
		t.Fatal("Expected rejection while open")
	}
	if called {
		t.Error("Expected function not to run while open")
	}
	if !sferrors.IsType(err, sferrors.ErrorTypeInternal) {
		t.Errorf("Expected internal error type, got %v", err)
	}
}

func TestExecute_HalfOpenRecovery(t *testing.T) {
	cb := New(testConfig())

	for i := 0; i < 3; i++ {
		cb.Execute(context.Background(), func() error { return errTest })
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("Expected open state, got %s", cb.GetState())
	}

	time.Sleep(60 * time.Millisecond)

	// First request after the timeout probes in half-open.
	if err := cb.Execute(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("Expected probe to be allowed, got %v", err)
	}
	if cb.GetState() != StateHalfOpen {
		t.Fatalf("Expected half-open after one success, got %s", cb.GetState())
	}

	// Second success closes the circuit.
	if err := cb.Execute(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("Expected closed after required successes, got %s", cb.GetState())
	}
}

func TestExecute_HalfOpenFailureReopens(t *testing.T) {
	cb := New(testConfig())

	for i := 0; i < 3; i++ {
		cb.Execute(context.Background(), func() error { return errTest })
	}

	time.Sleep(60 * time.Millisecond)

	cb.Execute(context.Background(), func() error { return errTest })
	if cb.GetState() != StateOpen {
		t.Errorf("Expected a half-open failure to reopen, got %s", cb.GetState())
	}
}

func TestExecuteWithResult(t *testing.T) {
	cb := New(testConfig())

	result, err := ExecuteWithResult(context.Background(), cb, func() (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if result != 42 {
		t.Errorf("Expected 42, got %d", result)
	}

	for i := 0; i < 3; i++ {
		ExecuteWithResult(context.Background(), cb, func() (int, error) {
			return 0, errTest
		})
	}

	result, err = ExecuteWithResult(context.Background(), cb, func() (int, error) {
		return 42, nil
	})
	if err == nil {
		t.Fatal("Expected rejection while open")
	}
	if result != 0 {
		t.Errorf("Expected zero value on rejection, got %d", result)
	}
}

func TestGetStats(t *testing.T) {
	cb := New(testConfig())

	cb.Execute(context.Background(), func() error { return errTest })
	cb.Execute(context.Background(), func() error { return errTest })

	stats := cb.GetStats()
	if stats.State != StateClosed {
		t.Errorf("Expected closed state, got %s", stats.State)
	}
	if stats.Failures != 2 {
		t.Errorf("Expected 2 failures, got %d", stats.Failures)
	}
	if stats.LastFailTime.IsZero() {
		t.Error("Expected last failure time to be set")
	}
}

func TestReset(t *testing.T) {
	cb := New(testConfig())

	for i := 0; i < 3; i++ {
		cb.Execute(context.Background(), func() error { return errTest })
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("Expected open state, got %s", cb.GetState())
	}

	cb.Reset()

	if cb.GetState() != StateClosed {
		t.Errorf("Expected closed after reset, got %s", cb.GetState())
	}
	if err := cb.Execute(context.Background(), func() error { return nil }); err != nil {
		t.Errorf("Expected requests allowed after reset, got %v", err)
	}
}

func TestFailureCountResetsAfterQuietPeriod(t *testing.T) {
	config := testConfig()
	config.ResetTimeout = 30 * time.Millisecond
	cb := New(config)

	cb.Execute(context.Background(), func() error { return errTest })
	cb.Execute(context.Background(), func() error { return errTest })

	time.Sleep(40 * time.Millisecond)

	// The quiet period clears accumulated failures, so two more do not open.
	cb.Execute(context.Background(), func() error { return errTest })
	cb.Execute(context.Background(), func() error { return errTest })

	if cb.GetState() != StateClosed {
		t.Errorf("Expected closed state after quiet period reset, got %s", cb.GetState())
	}
}
