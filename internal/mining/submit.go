package mining

import (
	"context"
	"sync"
	"time"

	"github.com/soloforge/soloforge/pkg/log"
)

// submissionQueueSize bounds the candidate queue. Overflow drops the oldest
// candidate: with sub-second block intervals a queued-up candidate is almost
// certainly stale already.
const submissionQueueSize = 64

// submitTimeout bounds a single SubmitBlock call.
const submitTimeout = 10 * time.Second

// SubmissionOutcome describes what happened to one candidate, for telemetry.
type SubmissionOutcome struct {
	Candidate *Candidate
	Status    string // "accepted", "rejected", "error"
	Detail    string
	Latency   time.Duration
	At        time.Time
}

// OutcomeSink receives submission outcomes off the mining path. Sinks must
// not block for long; they run on the single submission consumer goroutine.
type OutcomeSink interface {
	RecordOutcome(ctx context.Context, outcome *SubmissionOutcome)
}

// SubmissionPipeline moves winning candidates from workers to the node.
// Producers enqueue without blocking; a single consumer submits serially so
// the engine never races against itself at the node.
type SubmissionPipeline struct {
	node    NodeLink
	metrics *Metrics
	events  *EventLog
	logger  *log.Logger
	sinks   []OutcomeSink

	mu    sync.Mutex // guards the drop-oldest pop+push sequence
	queue chan *Candidate
	done  chan struct{}
	wg    sync.WaitGroup
}

// NewSubmissionPipeline creates a pipeline submitting through node.
func NewSubmissionPipeline(node NodeLink, metrics *Metrics, events *EventLog, logger *log.Logger, sinks ...OutcomeSink) *SubmissionPipeline {
	return &SubmissionPipeline{
		node:    node,
		metrics: metrics,
		events:  events,
		logger:  logger.WithComponent("submit"),
		sinks:   sinks,
		queue:   make(chan *Candidate, submissionQueueSize),
		done:    make(chan struct{}),
	}
}

// Start launches the single submission consumer.
func (sp *SubmissionPipeline) Start(ctx context.Context) {
	sp.wg.Add(1)
	go sp.consume(ctx)
}

// Stop halts the consumer. Queued candidates are discarded; they are stale by
// definition once the session ends.
func (sp *SubmissionPipeline) Stop() {
	close(sp.done)
	sp.wg.Wait()
}

// Enqueue hands a candidate to the pipeline without ever blocking the
// producer. When the queue is full the oldest candidate is dropped to make
// room, since the newest one is the most likely to still be valid.
func (sp *SubmissionPipeline) Enqueue(c *Candidate) {
	select {
	case sp.queue <- c:
		return
	default:
	}

	sp.mu.Lock()
	defer sp.mu.Unlock()
	for {
		select {
		case sp.queue <- c:
			return
		default:
		}
		select {
		case dropped := <-sp.queue:
			sp.logger.Warn("submission queue full, dropped oldest candidate",
				"dropped_nonce", dropped.Nonce,
				"dropped_generation", dropped.Generation,
			)
		default:
		}
	}
}

// QueueLen returns the number of queued candidates.
func (sp *SubmissionPipeline) QueueLen() int {
	return len(sp.queue)
}

func (sp *SubmissionPipeline) consume(ctx context.Context) {
	defer sp.wg.Done()

	for {
		select {
		case <-sp.done:
			return
		case <-ctx.Done():
			return
		case c := <-sp.queue:
			sp.submit(ctx, c)
		}
	}
}

// submit performs one serial submission and records the node's verdict as-is,
// even for candidates whose generation is already stale: the node's semantics
// govern acceptance, not the engine's guess.
func (sp *SubmissionPipeline) submit(ctx context.Context, c *Candidate) {
	submitCtx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()

	start := time.Now()
	result, err := sp.node.SubmitBlock(submitCtx, c.Template, c.Nonce)
	latency := time.Since(start)

	// Submitted counts every attempt, accepted or not.
	sp.metrics.IncSubmitted()

	outcome := &SubmissionOutcome{
		Candidate: c,
		Latency:   latency,
		At:        time.Now(),
	}

	switch {
	case err != nil:
		// Transport failure: logged, never retried, mining continues.
		outcome.Status = "error"
		outcome.Detail = err.Error()
		sp.logger.WithError(err).Error("block submission failed", "nonce", c.Nonce, "generation", c.Generation)
		sp.events.Append("error", "submission of nonce %d failed: %v", c.Nonce, err)

	case result.Status == StatusAccepted:
		outcome.Status = "accepted"
		sp.metrics.IncAccepted()
		sp.logger.LogSubmissionOutcome(c.Nonce, "accepted", float64(latency.Nanoseconds())/1e6)
		sp.events.Append("info", "block accepted by node (nonce %d, height %d)", c.Nonce, c.Template.Height)

	default:
		outcome.Status = "rejected"
		outcome.Detail = result.Detail
		sp.logger.LogSubmissionOutcome(c.Nonce, "rejected", float64(latency.Nanoseconds())/1e6)
		sp.events.Append("warn", "block rejected by node (nonce %d): %s", c.Nonce, result.Detail)
	}

	for _, sink := range sp.sinks {
		sink.RecordOutcome(ctx, outcome)
	}
}
