package mining

import (
	"context"
	"errors"
	"testing"
	"time"

	sferrors "github.com/soloforge/soloforge/pkg/errors"
)

func newTestEngine(node *mockNode) *Engine {
	dial := func(_ context.Context, _ string) (NodeLink, error) {
		return node, nil
	}
	okValidator := func(addr string) error {
		if addr == "" || addr == "bad" {
			return errors.New("invalid address")
		}
		return nil
	}
	return NewEngine(dial, okValidator, testPollInterval, testLogger())
}

func TestEngine_InitialState(t *testing.T) {
	e := newTestEngine(newMockNode())

	if e.State() != StateIdle {
		t.Errorf("Expected idle state, got %s", e.State())
	}

	// Metrics succeed before any session, all zeros.
	snap := e.Metrics()
	if snap.HashesTried != 0 || snap.BlocksSubmitted != 0 || snap.BlocksAccepted != 0 {
		t.Errorf("Expected zeroed metrics before first session, got %+v", snap)
	}
}

func TestEngine_Connect(t *testing.T) {
	e := newTestEngine(newMockNode())

	desc, err := e.Connect(context.Background(), "localhost:8332")
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if desc.NodeAddr != "localhost:8332" {
		t.Errorf("Expected node addr in description, got %q", desc.NodeAddr)
	}
	if e.State() != StateConnected {
		t.Errorf("Expected connected state, got %s", e.State())
	}
}

func TestEngine_ConnectTwiceFails(t *testing.T) {
	e := newTestEngine(newMockNode())

	if _, err := e.Connect(context.Background(), "localhost:8332"); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	_, err := e.Connect(context.Background(), "localhost:8332")
	if err == nil {
		t.Fatal("Expected error connecting while already connected")
	}
	if !sferrors.IsType(err, sferrors.ErrorTypeConnection) {
		t.Errorf("Expected connection error type, got %v", err)
	}
}

func TestEngine_ConnectDialFailure(t *testing.T) {
	dial := func(_ context.Context, _ string) (NodeLink, error) {
		return nil, errMock
	}
	e := NewEngine(dial, func(string) error { return nil }, testPollInterval, testLogger())

	if _, err := e.Connect(context.Background(), "localhost:8332"); err == nil {
		t.Fatal("Expected dial failure to propagate")
	}
	if e.State() != StateIdle {
		t.Errorf("Expected idle state after failed connect, got %s", e.State())
	}
}

func TestEngine_ConnectPingFailure(t *testing.T) {
	node := newMockNode()
	node.PingErr = errMock
	e := newTestEngine(node)

	if _, err := e.Connect(context.Background(), "localhost:8332"); err == nil {
		t.Fatal("Expected ping failure to propagate")
	}
	if !node.Closed {
		t.Error("Expected link closed after failed connectivity check")
	}
	if e.State() != StateIdle {
		t.Errorf("Expected idle state, got %s", e.State())
	}
}

func TestEngine_StartMiningRequiresConnection(t *testing.T) {
	e := newTestEngine(newMockNode())

	_, err := e.StartMining(context.Background(), "addr", 1, 0)
	if err == nil {
		t.Fatal("Expected error starting while idle")
	}
	if !sferrors.IsType(err, sferrors.ErrorTypeMining) {
		t.Errorf("Expected mining error type, got %v", err)
	}
}

func TestEngine_StartMiningValidation(t *testing.T) {
	tests := []struct {
		name     string
		address  string
		threads  int
		throttle time.Duration
	}{
		{"zero threads", "addr", 0, 0},
		{"negative threads", "addr", -1, 0},
		{"negative throttle", "addr", 1, -time.Second},
		{"bad address", "bad", 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(newMockNode())
			if _, err := e.Connect(context.Background(), "localhost:8332"); err != nil {
				t.Fatalf("Connect() error: %v", err)
			}

			if _, err := e.StartMining(context.Background(), tt.address, tt.threads, tt.throttle); err == nil {
				t.Error("Expected parameter validation to fail")
			}
			if e.State() != StateConnected {
				t.Errorf("Expected state to stay connected, got %s", e.State())
			}
		})
	}
}

func TestEngine_StartStopMining(t *testing.T) {
	e := newTestEngine(newMockNode())

	if _, err := e.Connect(context.Background(), "localhost:8332"); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	start, err := e.StartMining(context.Background(), "addr", 2, 0)
	if err != nil {
		t.Fatalf("StartMining() error: %v", err)
	}
	if start.Threads != 2 {
		t.Errorf("Expected 2 threads in description, got %d", start.Threads)
	}
	if e.State() != StateMining {
		t.Errorf("Expected mining state, got %s", e.State())
	}

	// The easy mock target guarantees accepted blocks almost immediately.
	if !waitFor(t, 2*time.Second, func() bool {
		return e.Metrics().BlocksAccepted >= 1
	}) {
		t.Fatal("Session produced no accepted blocks")
	}

	stop, err := e.StopMining(context.Background())
	if err != nil {
		t.Fatalf("StopMining() error: %v", err)
	}
	if stop.Final.BlocksAccepted < 1 {
		t.Errorf("Expected final counters to show accepted blocks, got %+v", stop.Final)
	}
	if e.State() != StateConnected {
		t.Errorf("Expected connected state after stop, got %s", e.State())
	}
}

func TestEngine_StartWhileMiningFails(t *testing.T) {
	e := newTestEngine(newMockNode())

	if _, err := e.Connect(context.Background(), "localhost:8332"); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if _, err := e.StartMining(context.Background(), "addr", 1, 0); err != nil {
		t.Fatalf("StartMining() error: %v", err)
	}
	defer e.StopMining(context.Background())

	if _, err := e.StartMining(context.Background(), "addr", 1, 0); err == nil {
		t.Error("Expected error starting while already mining")
	}
}

func TestEngine_StopMiningIdempotent(t *testing.T) {
	e := newTestEngine(newMockNode())

	// Stop while idle succeeds and reports zeros.
	stop, err := e.StopMining(context.Background())
	if err != nil {
		t.Fatalf("StopMining() while idle error: %v", err)
	}
	if stop.Final.HashesTried != 0 {
		t.Errorf("Expected zero counters, got %+v", stop.Final)
	}

	if _, err := e.Connect(context.Background(), "localhost:8332"); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if _, err := e.StartMining(context.Background(), "addr", 1, 0); err != nil {
		t.Fatalf("StartMining() error: %v", err)
	}

	if _, err := e.StopMining(context.Background()); err != nil {
		t.Fatalf("StopMining() error: %v", err)
	}
	// Second stop is a no-op, not an error.
	if _, err := e.StopMining(context.Background()); err != nil {
		t.Fatalf("Second StopMining() error: %v", err)
	}
}

func TestEngine_MetricsResetOnStart(t *testing.T) {
	node := newMockNode()
	e := newTestEngine(node)

	if _, err := e.Connect(context.Background(), "localhost:8332"); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if _, err := e.StartMining(context.Background(), "addr", 1, 0); err != nil {
		t.Fatalf("StartMining() error: %v", err)
	}
	if !waitFor(t, 2*time.Second, func() bool { return e.Metrics().HashesTried > 0 }) {
		t.Fatal("No hashing happened")
	}
	if _, err := e.StopMining(context.Background()); err != nil {
		t.Fatalf("StopMining() error: %v", err)
	}

	// Counters persist after stop.
	if e.Metrics().HashesTried == 0 {
		t.Error("Expected counters to persist after stop")
	}

	// Starve the second session of work: with no template, the reset
	// counters stay at zero, proving the reset happened at start.
	node.setTemplateErr(errMock)

	if _, err := e.StartMining(context.Background(), "addr", 1, 0); err != nil {
		t.Fatalf("Restart error: %v", err)
	}
	defer e.StopMining(context.Background())

	if got := e.Metrics().HashesTried; got != 0 {
		t.Errorf("Expected counters reset at session start, got %d hashes", got)
	}
}

func TestEngine_DisconnectStopsMining(t *testing.T) {
	node := newMockNode()
	e := newTestEngine(node)

	if _, err := e.Connect(context.Background(), "localhost:8332"); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if _, err := e.StartMining(context.Background(), "addr", 1, 0); err != nil {
		t.Fatalf("StartMining() error: %v", err)
	}

	if err := e.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect() error: %v", err)
	}
	if e.State() != StateIdle {
		t.Errorf("Expected idle state after disconnect, got %s", e.State())
	}
	if !node.Closed {
		t.Error("Expected node link to be closed")
	}
}

func TestEngine_DisconnectWhileIdle(t *testing.T) {
	e := newTestEngine(newMockNode())

	if err := e.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect() while idle error: %v", err)
	}
	if e.State() != StateIdle {
		t.Errorf("Expected idle state, got %s", e.State())
	}
}

func TestEngine_FatalErrorStopsSession(t *testing.T) {
	node := newMockNode()
	broken := easyTemplate("tpl-broken", 100)
	broken.Target = nil
	node.setTemplate(broken)
	e := newTestEngine(node)

	if _, err := e.Connect(context.Background(), "localhost:8332"); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if _, err := e.StartMining(context.Background(), "addr", 1, 0); err != nil {
		t.Fatalf("StartMining() error: %v", err)
	}

	// Repeated header failures must end the session without explicit stop.
	if !waitFor(t, 5*time.Second, func() bool {
		return e.State() == StateConnected
	}) {
		t.Fatalf("Expected session to end on fatal mining error, state is %s", e.State())
	}
}

func TestEngine_TemplateRefreshNoSession(t *testing.T) {
	e := newTestEngine(newMockNode())
	// Must be a no-op, not a panic.
	e.TemplateRefresh()
}

func TestSessionState_String(t *testing.T) {
	tests := []struct {
		state    SessionState
		expected string
	}{
		{StateIdle, "idle"},
		{StateConnected, "connected"},
		{StateMining, "mining"},
		{SessionState(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("State %d: expected %q, got %q", tt.state, tt.expected, got)
		}
	}
}
