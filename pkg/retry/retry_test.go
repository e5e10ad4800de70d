package retry

import (
	"context"
	"testing"
	"time"

	sferrors "github.com/soloforge/soloforge/pkg/errors"
)

func retryableErr() error {
	return sferrors.New(sferrors.ErrorTypeNetwork, "op", "transient")
}

func permanentErr() error {
	return sferrors.New(sferrors.ErrorTypeValidation, "op", "permanent")
}

func fastConfig() *Config {
	return &Config{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Multiplier:  2.0,
		Jitter:      false,
	}
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		return nil
	})

	if err != nil {
		t.Errorf("Expected success, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
}

func TestDo_RetriesTransientErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		if calls < 3 {
			return retryableErr()
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected eventual success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		return permanentErr()
	})

	if err == nil {
		t.Fatal("Expected error")
	}
	if calls != 1 {
		t.Errorf("Expected no retries for a permanent error, got %d calls", calls)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		return retryableErr()
	})

	if err == nil {
		t.Fatal("Expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls)
	}

	ctx := sferrors.GetContext(err)
	if ctx["max_attempts"] != 3 {
		t.Errorf("Expected max_attempts context, got %v", ctx["max_attempts"])
	}
}

func TestDo_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	config := &Config{
		MaxAttempts: 10,
		BaseDelay:   time.Hour, // only cancellation can end the wait
		MaxDelay:    time.Hour,
		Multiplier:  1.0,
	}

	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, config, func() error {
			calls++
			return retryableErr()
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}

func TestDo_NilConfigUsesDefault(t *testing.T) {
	if err := Do(context.Background(), nil, func() error { return nil }); err != nil {
		t.Errorf("Expected success with nil config, got %v", err)
	}
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	result, err := DoWithResult(context.Background(), fastConfig(), func() (string, error) {
		calls++
		if calls < 2 {
			return "", retryableErr()
		}
		return "done", nil
	})

	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if result != "done" {
		t.Errorf("Expected result done, got %q", result)
	}
}

func TestDoWithResult_PermanentError(t *testing.T) {
	result, err := DoWithResult(context.Background(), fastConfig(), func() (int, error) {
		return 42, permanentErr()
	})

	if err == nil {
		t.Fatal("Expected error")
	}
	if result != 0 {
		t.Errorf("Expected zero value on failure, got %d", result)
	}
}

func TestCalculateDelay(t *testing.T) {
	config := &Config{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   time.Second,
		Multiplier: 2.0,
		Jitter:     false,
	}

	if got := config.calculateDelay(0); got != 100*time.Millisecond {
		t.Errorf("Attempt 0: expected 100ms, got %v", got)
	}
	if got := config.calculateDelay(1); got != 200*time.Millisecond {
		t.Errorf("Attempt 1: expected 200ms, got %v", got)
	}
	if got := config.calculateDelay(10); got != time.Second {
		t.Errorf("Attempt 10: expected cap at 1s, got %v", got)
	}
}

func TestCalculateDelay_Jitter(t *testing.T) {
	config := &Config{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}

	delay := config.calculateDelay(0)
	if delay < 100*time.Millisecond || delay > 110*time.Millisecond {
		t.Errorf("Expected jittered delay in [100ms, 110ms], got %v", delay)
	}
}

func TestPresetConfigs(t *testing.T) {
	if cfg := DefaultConfig(); cfg.MaxAttempts != 3 {
		t.Errorf("Expected default MaxAttempts 3, got %d", cfg.MaxAttempts)
	}
	if cfg := NetworkConfig(); cfg.MaxAttempts != 5 {
		t.Errorf("Expected network MaxAttempts 5, got %d", cfg.MaxAttempts)
	}
	if cfg := TelemetryConfig(); cfg.BaseDelay != 200*time.Millisecond {
		t.Errorf("Expected telemetry BaseDelay 200ms, got %v", cfg.BaseDelay)
	}
}
