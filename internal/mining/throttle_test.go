package mining

import (
	"context"
	"testing"
	"time"
)

func TestNewThrottleController_Disabled(t *testing.T) {
	tc := NewThrottleController(0, 128)
	if tc.Active() {
		t.Error("Expected zero pause to disable throttling")
	}

	tc = NewThrottleController(-time.Millisecond, 128)
	if tc.Active() {
		t.Error("Expected negative pause to disable throttling")
	}
}

func TestNewThrottleController_Enabled(t *testing.T) {
	tc := NewThrottleController(time.Millisecond, 128)
	if !tc.Active() {
		t.Error("Expected throttling to be active")
	}
	if tc.mask != 127 {
		t.Errorf("Expected mask 127, got %d", tc.mask)
	}
}

func TestNewThrottleController_StrideRounding(t *testing.T) {
	tests := []struct {
		stride   uint64
		expected uint64 // mask
	}{
		{1, 0},
		{2, 1},
		{127, 63},
		{128, 127},
		{200, 127},
		{0, defaultThrottleStride - 1},
	}

	for _, tt := range tests {
		tc := NewThrottleController(time.Millisecond, tt.stride)
		if tc.mask != tt.expected {
			t.Errorf("Stride %d: expected mask %d, got %d", tt.stride, tt.expected, tc.mask)
		}
	}
}

func TestThrottleController_MaybePause(t *testing.T) {
	tc := NewThrottleController(20*time.Millisecond, 4)

	// Off-boundary counts return immediately.
	start := time.Now()
	tc.MaybePause(1)
	tc.MaybePause(2)
	tc.MaybePause(3)
	if elapsed := time.Since(start); elapsed > 10*time.Millisecond {
		t.Errorf("Off-boundary counts paused for %v", elapsed)
	}

	// A boundary count pauses.
	start = time.Now()
	tc.MaybePause(4)
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Errorf("Boundary count paused only %v", elapsed)
	}
}

func TestThrottleController_DisabledNeverPauses(t *testing.T) {
	tc := NewThrottleController(0, 4)

	start := time.Now()
	for i := uint64(0); i < 100; i++ {
		tc.MaybePause(i)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Millisecond {
		t.Errorf("Disabled controller paused for %v", elapsed)
	}
}

func TestThrottle_ReducesPoolHashRate(t *testing.T) {
	const window = 150 * time.Millisecond

	measure := func(throttle ThrottleController) uint64 {
		node := newMockNode()
		node.setTemplate(hardTemplate("tpl-throttle", 100))

		metrics := NewMetrics()
		events := NewEventLog(100)
		templates := NewTemplateManager(node, "addr", testPollInterval, testLogger(), events)
		pipeline := NewSubmissionPipeline(node, metrics, events, testLogger())
		pool := NewWorkerPool(1, templates, pipeline, metrics, events, throttle, testLogger())

		ctx := context.Background()
		templates.Start(ctx)
		pipeline.Start(ctx)
		pool.Start()
		time.Sleep(window)
		pool.Stop()
		templates.Stop()
		pipeline.Stop()

		return metrics.Snapshot().HashesTried
	}

	unthrottled := measure(NewThrottleController(0, 0))
	throttled := measure(NewThrottleController(5*time.Millisecond, defaultThrottleStride))

	if unthrottled == 0 {
		t.Fatal("Unthrottled pool made no progress")
	}
	if throttled == 0 {
		t.Fatal("Expected the throttled pool to keep making progress")
	}
	if throttled >= unthrottled/2 {
		t.Errorf("Expected throttling to reduce the sustained hash rate: throttled=%d unthrottled=%d over %v",
			throttled, unthrottled, window)
	}
}

func TestPow2Floor(t *testing.T) {
	tests := []struct {
		in, out uint64
	}{
		{1, 1},
		{2, 2},
		{3, 2},
		{4, 4},
		{1000, 512},
		{1024, 1024},
	}

	for _, tt := range tests {
		if got := pow2Floor(tt.in); got != tt.out {
			t.Errorf("pow2Floor(%d) = %d, want %d", tt.in, got, tt.out)
		}
	}
}
