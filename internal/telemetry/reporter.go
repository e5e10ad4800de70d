// Package telemetry bridges the mining engine to the external backends: it
// samples the engine's counters on an interval, derives hashrate, and fans
// submission outcomes out to the storage and messaging layers.
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/soloforge/soloforge/internal/database"
	"github.com/soloforge/soloforge/internal/database/postgres"
	"github.com/soloforge/soloforge/internal/messaging"
	"github.com/soloforge/soloforge/internal/mining"
	"github.com/soloforge/soloforge/pkg/log"
)

// DefaultStatsInterval is how often counters are sampled and reported.
const DefaultStatsInterval = 10 * time.Second

// Reporter samples engine metrics periodically and records submission
// outcomes. Both the database manager and the Kafka client are optional; the
// reporter skips whatever is not configured. It implements
// mining.OutcomeSink so the submission pipeline can hand outcomes straight
// to it.
type Reporter struct {
	snapshot      func() mining.MetricsSnapshot
	db            *database.Manager
	kafka         *messaging.KafkaClient
	logger        *log.Logger
	miningAddress string
	threads       int
	interval      time.Duration

	mu       sync.Mutex
	lastSnap mining.MetricsSnapshot
	lastAt   time.Time

	done chan struct{}
	wg   sync.WaitGroup
}

var _ mining.OutcomeSink = (*Reporter)(nil)

// NewReporter creates a reporter sampling the given snapshot function.
func NewReporter(snapshot func() mining.MetricsSnapshot, db *database.Manager, kafka *messaging.KafkaClient, miningAddress string, threads int, interval time.Duration, logger *log.Logger) *Reporter {
	if interval <= 0 {
		interval = DefaultStatsInterval
	}
	return &Reporter{
		snapshot:      snapshot,
		db:            db,
		kafka:         kafka,
		logger:        logger.WithComponent("telemetry"),
		miningAddress: miningAddress,
		threads:       threads,
		interval:      interval,
		done:          make(chan struct{}),
	}
}

// Start begins interval sampling.
func (r *Reporter) Start(ctx context.Context) {
	r.mu.Lock()
	r.lastSnap = r.snapshot()
	r.lastAt = time.Now()
	r.mu.Unlock()

	r.wg.Add(1)
	go r.run(ctx)
}

// Stop halts sampling. A final sample is taken so the last partial interval
// is not lost.
func (r *Reporter) Stop() {
	close(r.done)
	r.wg.Wait()
	r.report(context.Background())
	if r.db != nil {
		r.db.ClearSessionSnapshot(context.Background(), r.miningAddress)
	}
}

func (r *Reporter) run(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.report(ctx)
		}
	}
}

// report samples the counters, derives hashrate over the elapsed interval,
// and pushes the sample to every configured backend.
func (r *Reporter) report(ctx context.Context) {
	snap := r.snapshot()
	now := time.Now()

	r.mu.Lock()
	elapsed := now.Sub(r.lastAt).Seconds()
	var hashrate float64
	if elapsed > 0 && snap.HashesTried >= r.lastSnap.HashesTried {
		hashrate = float64(snap.HashesTried-r.lastSnap.HashesTried) / elapsed
	}
	r.lastSnap = snap
	r.lastAt = now
	r.mu.Unlock()

	r.logger.LogHashrate(snap.HashesTried, hashrate, r.threads)

	if r.db != nil {
		r.db.RecordHashrate(ctx, r.miningAddress, r.threads, hashrate, snap.HashesTried)
		r.db.RecordSessionStats(snap.HashesTried, snap.BlocksSubmitted, snap.BlocksAccepted, r.threads)
		r.db.StoreSessionSnapshot(ctx, r.miningAddress, &messaging.SessionStatsMessage{
			MiningAddress:   r.miningAddress,
			Threads:         r.threads,
			HashesTried:     snap.HashesTried,
			BlocksSubmitted: snap.BlocksSubmitted,
			BlocksAccepted:  snap.BlocksAccepted,
			Hashrate:        hashrate,
			SampledAt:       now,
		})
	}

	if r.kafka != nil {
		msg := &messaging.SessionStatsMessage{
			MiningAddress:   r.miningAddress,
			Threads:         r.threads,
			HashesTried:     snap.HashesTried,
			BlocksSubmitted: snap.BlocksSubmitted,
			BlocksAccepted:  snap.BlocksAccepted,
			Hashrate:        hashrate,
			SampledAt:       now,
		}
		if err := r.kafka.PublishJSON(ctx, messaging.TopicStats, r.miningAddress, msg); err != nil {
			r.logger.WithError(err).Warn("failed to publish stats event")
		}
	}
}

// RecordOutcome persists one submission outcome to the ledger and publishes
// it. Runs on the submission consumer goroutine, so failures are logged and
// swallowed rather than propagated into the mining path.
func (r *Reporter) RecordOutcome(ctx context.Context, outcome *mining.SubmissionOutcome) {
	c := outcome.Candidate
	latencyMs := float64(outcome.Latency.Nanoseconds()) / 1e6

	if r.db != nil {
		row := &postgres.FoundBlock{
			Height:        c.Template.Height,
			Nonce:         int64(c.Nonce),
			Digest:        c.Digest.String(),
			PrevHash:      c.Template.PrevHash.String(),
			MiningAddress: r.miningAddress,
			Generation:    int64(c.Generation),
			Status:        outcome.Status,
			Detail:        outcome.Detail,
			LatencyMs:     latencyMs,
			FoundAt:       outcome.At,
		}
		if err := r.db.RecordFoundBlock(ctx, row); err != nil {
			r.logger.WithError(err).Error("failed to record found block")
		}
	}

	if r.kafka != nil {
		msg := &messaging.BlockFoundMessage{
			Height:        c.Template.Height,
			Nonce:         c.Nonce,
			Digest:        c.Digest.String(),
			PrevHash:      c.Template.PrevHash.String(),
			MiningAddress: r.miningAddress,
			Generation:    c.Generation,
			Status:        outcome.Status,
			Detail:        outcome.Detail,
			LatencyMs:     latencyMs,
			FoundAt:       outcome.At,
		}
		if err := r.kafka.PublishJSON(ctx, messaging.TopicBlocks, r.miningAddress, msg); err != nil {
			r.logger.WithError(err).Warn("failed to publish block event")
		}
	}
}

// PublishLifecycle emits a session lifecycle event when Kafka is configured.
func (r *Reporter) PublishLifecycle(ctx context.Context, event, nodeAddr string) {
	if r.kafka == nil {
		return
	}
	msg := &messaging.LifecycleMessage{
		Event:         event,
		NodeAddr:      nodeAddr,
		MiningAddress: r.miningAddress,
		Threads:       r.threads,
		At:            time.Now(),
	}
	if err := r.kafka.PublishJSON(ctx, messaging.TopicEvents, r.miningAddress, msg); err != nil {
		r.logger.WithError(err).Warn("failed to publish lifecycle event")
	}
}
