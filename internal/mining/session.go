package mining

import (
	"context"
	"sync"
	"time"

	"github.com/soloforge/soloforge/pkg/errors"
	"github.com/soloforge/soloforge/pkg/log"
)

// SessionState is the engine lifecycle state.
type SessionState int

const (
	// StateIdle - no node connection
	StateIdle SessionState = iota
	// StateConnected - node link established, not mining
	StateConnected
	// StateMining - an active mining session is running
	StateMining
)

// String returns string representation of the state
func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnected:
		return "connected"
	case StateMining:
		return "mining"
	default:
		return "unknown"
	}
}

// Dialer establishes a NodeLink to the given node address.
type Dialer func(ctx context.Context, nodeAddr string) (NodeLink, error)

// AddressValidator checks a payout address against the configured network.
type AddressValidator func(address string) error

// ConnectionDescription describes an established node connection.
type ConnectionDescription struct {
	NodeAddr string
}

// StartDescription describes a started mining session.
type StartDescription struct {
	MiningAddress string
	Threads       int
	Throttle      time.Duration
}

// StopDescription describes a stopped session.
type StopDescription struct {
	Final MetricsSnapshot
}

// session bundles the moving parts of one Mining run. Created at start,
// discarded at stop; exactly one exists at a time.
type session struct {
	templates *TemplateManager
	pipeline  *SubmissionPipeline
	workers   *WorkerPool
	cancel    context.CancelFunc
	watchDone chan struct{}
}

// Engine is the command surface the driving application talks to: connect,
// disconnect, start and stop mining, snapshot metrics, subscribe to events.
// All methods are safe for concurrent use.
type Engine struct {
	dial         Dialer
	validateAddr AddressValidator
	pollInterval time.Duration
	logger       *log.Logger
	sinks        []OutcomeSink

	metrics *Metrics
	events  *EventLog

	mu       sync.Mutex
	state    SessionState
	node     NodeLink
	nodeAddr string
	sess     *session
}

// NewEngine creates an idle engine. The dialer and address validator carry
// the node transport and network-prefix rules, keeping the engine itself
// independent of wire encoding.
func NewEngine(dial Dialer, validateAddr AddressValidator, pollInterval time.Duration, logger *log.Logger, sinks ...OutcomeSink) *Engine {
	return &Engine{
		dial:         dial,
		validateAddr: validateAddr,
		pollInterval: pollInterval,
		logger:       logger.WithComponent("engine"),
		sinks:        sinks,
		metrics:      NewMetrics(),
		events:       NewEventLog(DefaultEventLogCapacity),
	}
}

// AddOutcomeSink registers an additional submission outcome sink. Must be
// called before StartMining; sinks registered later are picked up by the next
// session.
func (e *Engine) AddOutcomeSink(sink OutcomeSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinks = append(e.sinks, sink)
}

// State returns the current lifecycle state.
func (e *Engine) State() SessionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Metrics returns a counter snapshot. Always succeeds; zeros before the
// first session starts.
func (e *Engine) Metrics() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// Events returns the engine's activity log for snapshots and subscriptions.
func (e *Engine) Events() *EventLog {
	return e.events
}

// Connect establishes the node link. Calling it while already connected is
// an error; disconnect first.
func (e *Engine) Connect(ctx context.Context, nodeAddr string) (*ConnectionDescription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateIdle {
		return nil, errors.New(errors.ErrorTypeConnection, "connect",
			"already connected").
			WithContext("state", e.state.String())
	}

	node, err := e.dial(ctx, nodeAddr)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "connect",
			"failed to establish node link").
			WithContext("node_addr", nodeAddr)
	}

	if err := node.Ping(ctx); err != nil {
		node.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "connect",
			"node connectivity check failed").
			WithContext("node_addr", nodeAddr)
	}

	e.node = node
	e.nodeAddr = nodeAddr
	e.state = StateConnected

	e.logger.LogConnection("connected", nodeAddr)
	e.events.Append("info", "connected to node %s", nodeAddr)
	return &ConnectionDescription{NodeAddr: nodeAddr}, nil
}

// Disconnect tears down an active mining session first, then the node link.
// Safe from any state.
func (e *Engine) Disconnect(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateMining {
		e.stopSessionLocked()
	}

	if e.node != nil {
		e.node.Close()
		e.node = nil
		e.logger.LogConnection("disconnected", e.nodeAddr)
		e.events.Append("info", "disconnected from node %s", e.nodeAddr)
		e.nodeAddr = ""
	}

	e.state = StateIdle
	return nil
}

// StartMining validates parameters, resets metrics, and spawns the session:
// template polling, worker pool, and submission consumer. Rejected while a
// session is already running.
func (e *Engine) StartMining(ctx context.Context, miningAddress string, threads int, throttle time.Duration) (*StartDescription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateIdle:
		return nil, errors.New(errors.ErrorTypeMining, "start_mining",
			"not connected to a node")
	case StateMining:
		return nil, errors.New(errors.ErrorTypeMining, "start_mining",
			"mining session already active")
	}

	if threads < 1 {
		return nil, errors.New(errors.ErrorTypeMining, "start_mining",
			"thread count must be at least 1").
			WithContext("threads", threads)
	}
	if throttle < 0 {
		return nil, errors.New(errors.ErrorTypeMining, "start_mining",
			"throttle interval cannot be negative")
	}
	if err := e.validateAddr(miningAddress); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeMining, "start_mining",
			"invalid mining address").
			WithContext("mining_address", miningAddress)
	}

	// Counters reset exactly once, at the Connected to Mining transition.
	e.metrics.Reset()

	sessCtx, cancel := context.WithCancel(context.Background())

	templates := NewTemplateManager(e.node, miningAddress, e.pollInterval, e.logger, e.events)
	pipeline := NewSubmissionPipeline(e.node, e.metrics, e.events, e.logger, e.sinks...)
	workers := NewWorkerPool(threads, templates, pipeline, e.metrics, e.events,
		NewThrottleController(throttle, defaultThrottleStride), e.logger)

	templates.Start(sessCtx)
	pipeline.Start(sessCtx)
	workers.Start()

	sess := &session{
		templates: templates,
		pipeline:  pipeline,
		workers:   workers,
		cancel:    cancel,
		watchDone: make(chan struct{}),
	}
	e.sess = sess
	e.state = StateMining

	go e.watchFatal(sess)

	e.logger.Info("mining started",
		"mining_address", miningAddress,
		"threads", threads,
		"throttle", throttle.String(),
	)
	e.events.Append("info", "mining started: %d threads", threads)

	return &StartDescription{
		MiningAddress: miningAddress,
		Threads:       threads,
		Throttle:      throttle,
	}, nil
}

// StopMining ends the active session. Idempotent: stopping while not mining
// succeeds and returns the current counters.
func (e *Engine) StopMining(_ context.Context) (*StopDescription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateMining {
		e.stopSessionLocked()
	}

	return &StopDescription{Final: e.metrics.Snapshot()}, nil
}

// TemplateRefresh forces an immediate template poll on the active session,
// wired to external tip notifications. No-op when not mining.
func (e *Engine) TemplateRefresh() {
	e.mu.Lock()
	sess := e.sess
	e.mu.Unlock()

	if sess != nil {
		sess.templates.Refresh()
	}
}

// stopSessionLocked tears down the session: stop flag, worker join, polling
// and submission shutdown. Caller holds e.mu.
func (e *Engine) stopSessionLocked() {
	sess := e.sess
	if sess == nil {
		return
	}

	sess.workers.Stop()
	sess.templates.Stop()
	sess.pipeline.Stop()
	sess.cancel()
	close(sess.watchDone)

	e.sess = nil
	if e.state == StateMining {
		e.state = StateConnected
	}

	snap := e.metrics.Snapshot()
	e.logger.Info("mining stopped",
		"hashes_tried", snap.HashesTried,
		"blocks_submitted", snap.BlocksSubmitted,
		"blocks_accepted", snap.BlocksAccepted,
	)
	e.events.Append("info", "mining stopped (%d hashes tried, %d blocks accepted)",
		snap.HashesTried, snap.BlocksAccepted)
}

// watchFatal ends the session if the worker pool raises an unrecoverable
// mining error. Only explicit stop or disconnect otherwise terminates it.
func (e *Engine) watchFatal(sess *session) {
	select {
	case <-sess.watchDone:
		return
	case err := <-sess.workers.Fatal():
		e.logger.WithError(err).Error("fatal mining error, stopping session")
		e.events.Append("error", "mining stopped: %v", err)

		e.mu.Lock()
		if e.sess == sess {
			e.stopSessionLocked()
		}
		e.mu.Unlock()
	}
}
