package mining

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soloforge/soloforge/pkg/log"
)

// DefaultPollInterval is how often the template manager asks the node for
// work. 50 ms keeps the staleness window tight on fast block intervals.
const DefaultPollInterval = 50 * time.Millisecond

// templatePollTimeout bounds a single GetTemplate call so a hung node cannot
// wedge the polling goroutine past a tick.
const templatePollTimeout = 5 * time.Second

// published pairs a template with its work generation. The pair is swapped
// atomically as a whole so readers never observe a generation that does not
// match its template.
type published struct {
	generation uint64
	template   *BlockTemplate
}

// TemplateManager owns the current work. A dedicated goroutine polls the node
// on a fixed interval, and publishes a new (generation, template) pair when
// the node's reported template identity changes. Workers read the pair with a
// single atomic load.
type TemplateManager struct {
	node          NodeLink
	miningAddress string
	pollInterval  time.Duration
	logger        *log.Logger
	events        *EventLog

	current  atomic.Pointer[published]
	failures atomic.Uint64 // consecutive poll failures, reset on success

	refresh chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewTemplateManager creates a manager polling node for work bound to the
// given mining address.
func NewTemplateManager(node NodeLink, miningAddress string, pollInterval time.Duration, logger *log.Logger, events *EventLog) *TemplateManager {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &TemplateManager{
		node:          node,
		miningAddress: miningAddress,
		pollInterval:  pollInterval,
		logger:        logger.WithComponent("templates"),
		events:        events,
		refresh:       make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
}

// Start fetches work once synchronously, then begins interval polling.
// A failed initial fetch is not fatal: workers idle until the first
// successful poll, matching the recover-and-retry contract.
func (tm *TemplateManager) Start(ctx context.Context) {
	tm.poll(ctx)

	tm.wg.Add(1)
	go tm.run(ctx)
}

// Stop halts polling. Safe to call once; the published pair stays readable.
func (tm *TemplateManager) Stop() {
	close(tm.done)
	tm.wg.Wait()
}

// Current returns the published (generation, template) pair. Generation 0
// with a nil template means no work has been fetched yet.
func (tm *TemplateManager) Current() (uint64, *BlockTemplate) {
	p := tm.current.Load()
	if p == nil {
		return 0, nil
	}
	return p.generation, p.template
}

// Generation returns only the published generation, the cheap staleness check
// workers run every few hundred hashes.
func (tm *TemplateManager) Generation() uint64 {
	p := tm.current.Load()
	if p == nil {
		return 0
	}
	return p.generation
}

// Refresh forces a poll ahead of the next tick, used by the ZMQ tip notifier.
// Never blocks; overlapping requests collapse into one.
func (tm *TemplateManager) Refresh() {
	select {
	case tm.refresh <- struct{}{}:
	default:
	}
}

// ConsecutiveFailures reports how many polls in a row have failed.
func (tm *TemplateManager) ConsecutiveFailures() uint64 {
	return tm.failures.Load()
}

func (tm *TemplateManager) run(ctx context.Context) {
	defer tm.wg.Done()

	ticker := time.NewTicker(tm.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-tm.done:
			return
		case <-ctx.Done():
			return
		case <-tm.refresh:
			tm.poll(ctx)
		case <-ticker.C:
			tm.poll(ctx)
		}
	}
}

// poll fetches a template and publishes it if its identity differs from the
// current one. Transient failures are logged and swallowed: the last known
// template stays in force and polling continues on the next tick.
func (tm *TemplateManager) poll(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, templatePollTimeout)
	defer cancel()

	tmpl, err := tm.node.GetTemplate(fetchCtx, tm.miningAddress)
	if err != nil {
		n := tm.failures.Add(1)
		tm.logger.WithError(err).Warn("template poll failed", "consecutive_failures", n)
		if n == 1 || n%20 == 0 {
			tm.events.Append("warn", "template fetch failed (%d consecutive): %v", n, err)
		}
		return
	}

	if recovered := tm.failures.Swap(0); recovered > 0 {
		tm.events.Append("info", "template fetch recovered after %d failures", recovered)
	}

	cur := tm.current.Load()
	if cur != nil && cur.template.Identity == tmpl.Identity {
		return
	}

	var next published
	if cur == nil {
		next = published{generation: 1, template: tmpl}
	} else {
		next = published{generation: cur.generation + 1, template: tmpl}
	}
	tm.current.Store(&next)

	tm.logger.LogTemplateSwitch(next.generation, tmpl.Height, tmpl.PrevHash.String())
	tm.events.Append("info", "new work: generation %d height %d", next.generation, tmpl.Height)
}
