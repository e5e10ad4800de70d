package mining

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/soloforge/soloforge/pkg/errors"
	"github.com/soloforge/soloforge/pkg/log"
)

const (
	// hashBatchSize is how many local hashes a worker accumulates before
	// adding the delta to the shared counter in one atomic operation.
	hashBatchSize = 1000

	// staleCheckInterval is how many hashes pass between reads of the
	// published generation and the stop flag. It bounds both the staleness
	// window and the worst-case shutdown latency.
	staleCheckInterval = 200

	// maxConsecutiveHashFailures bounds how many epochs in a row may fail
	// header encoding before the pool reports a fatal mining error.
	maxConsecutiveHashFailures = 5

	// idleWait is how long a worker sleeps when no template is published yet.
	idleWait = 20 * time.Millisecond
)

// WorkerPool runs a fixed set of independent search goroutines. Each worker
// owns a disjoint nonce residue class and runs the hot loop: hash, compare,
// branch, batch-report.
type WorkerPool struct {
	templates *TemplateManager
	pipeline  *SubmissionPipeline
	metrics   *Metrics
	events    *EventLog
	logger    *log.Logger
	throttle  ThrottleController
	threads   int

	stop         atomic.Bool
	hashFailures atomic.Uint32
	fatal        chan error
	wg           sync.WaitGroup
}

// NewWorkerPool creates a pool of threads workers. threads must be >= 1,
// validated upstream at session start.
func NewWorkerPool(threads int, templates *TemplateManager, pipeline *SubmissionPipeline, metrics *Metrics, events *EventLog, throttle ThrottleController, logger *log.Logger) *WorkerPool {
	return &WorkerPool{
		templates: templates,
		pipeline:  pipeline,
		metrics:   metrics,
		events:    events,
		logger:    logger.WithComponent("workers"),
		throttle:  throttle,
		threads:   threads,
		fatal:     make(chan error, 1),
	}
}

// Start launches the workers.
func (wp *WorkerPool) Start() {
	for i := 0; i < wp.threads; i++ {
		wp.wg.Add(1)
		go wp.run(i)
	}
	wp.logger.Info("worker pool started", "threads", wp.threads, "throttled", wp.throttle.Active())
}

// Stop raises the shared stop flag and joins all workers. Shutdown latency is
// bounded by the staleness-check cadence.
func (wp *WorkerPool) Stop() {
	wp.stop.Store(true)
	wp.wg.Wait()
	wp.logger.Info("worker pool stopped")
}

// Fatal delivers at most one unrecoverable mining error, raised when every
// fetched template fails header encoding a bounded number of times in a row.
func (wp *WorkerPool) Fatal() <-chan error {
	return wp.fatal
}

// run is the per-worker outer loop: read the published pair once per epoch,
// mine it until it goes stale, repeat until stopped.
func (wp *WorkerPool) run(workerID int) {
	defer wp.wg.Done()

	assign := WorkAssignment{
		Residue: uint64(workerID),
		Step:    uint64(wp.threads),
	}

	for !wp.stop.Load() {
		gen, tmpl := wp.templates.Current()
		if tmpl == nil {
			time.Sleep(idleWait)
			continue
		}
		wp.mineEpoch(workerID, assign, gen, tmpl)
	}
}

// mineEpoch searches one template until it is superseded, the pool stops, or
// the header proves unusable. The inner loop is the hot path: no locks, no
// allocation, one atomic add per hashBatchSize hashes and one atomic load per
// staleCheckInterval hashes.
func (wp *WorkerPool) mineEpoch(workerID int, assign WorkAssignment, gen uint64, tmpl *BlockTemplate) {
	hdr, err := tmpl.HeaderBytes()
	if err != nil {
		wp.reportHashFailure(workerID, gen, err)
		time.Sleep(idleWait)
		return
	}
	wp.hashFailures.Store(0)

	nonce := assign.Residue
	var localHashes uint64
	var sinceCheck uint64

	for {
		PutNonce(hdr, nonce)
		digest := chainhash.DoubleHashH(hdr)
		localHashes++
		sinceCheck++

		if HashToBig(&digest).Cmp(tmpl.Target) <= 0 {
			// Flush the batch before handing off so metrics never trail a
			// submission, then keep searching the same template.
			wp.metrics.AddHashes(localHashes)
			localHashes = 0

			wp.logger.WithWorker(workerID).LogBlockFound(gen, nonce, digest.String(), tmpl.Height)
			wp.pipeline.Enqueue(&Candidate{
				Generation: gen,
				Nonce:      nonce,
				Digest:     digest,
				Template:   tmpl,
			})
		}

		nonce += assign.Step

		if localHashes >= hashBatchSize {
			wp.metrics.AddHashes(hashBatchSize)
			localHashes -= hashBatchSize
		}

		wp.throttle.MaybePause(sinceCheck)

		if sinceCheck >= staleCheckInterval {
			if wp.stop.Load() {
				wp.metrics.AddHashes(localHashes)
				return
			}
			if wp.templates.Generation() != gen {
				// Stale work: abandon the epoch and restart from the residue
				// under the new template.
				wp.metrics.AddHashes(localHashes)
				return
			}
			sinceCheck = 0
		}
	}
}

// reportHashFailure logs an epoch-fatal hash failure and raises a mining
// error once the consecutive-failure bound is hit.
func (wp *WorkerPool) reportHashFailure(workerID int, gen uint64, err error) {
	n := wp.hashFailures.Add(1)
	wp.logger.WithWorker(workerID).WithError(err).Warn("epoch abandoned", "generation", gen)
	wp.events.Append("warn", "worker %d abandoned generation %d: %v", workerID, gen, err)

	if n >= maxConsecutiveHashFailures {
		fatal := errors.Wrap(err, errors.ErrorTypeMining, "mine_epoch",
			"header hashing failed for every fetched template").
			WithContext("consecutive_failures", n)
		select {
		case wp.fatal <- fatal:
		default:
		}
	}
}
