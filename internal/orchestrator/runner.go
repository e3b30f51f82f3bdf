package orchestrator

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/ignite/event-stream-engine/internal/domain"
)

// Runner is the worker pool that drains the message queue. Workers claim
// batches of due QUEUED messages and run each through the pipeline. Stop
// drains in-flight work up to the grace window; unclaimed messages stay
// QUEUED and resume on the next start.
type Runner struct {
	orch *Orchestrator

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRunner creates a runner over the orchestrator's worker config.
func NewRunner(orch *Orchestrator) *Runner {
	return &Runner{orch: orch}
}

// Start launches the worker pool. A second call is a no-op.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.running = true

	for i := 0; i < r.orch.cfg.Workers; i++ {
		r.wg.Add(1)
		go func(id int) {
			defer r.wg.Done()
			r.workerLoop(ctx, id)
		}(i)
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.reapLoop(ctx)
	}()
	log.Printf("[orchestrator.Runner] started %d workers", r.orch.cfg.Workers)
}

// Stop signals the workers and waits for in-flight messages up to grace.
func (r *Runner) Stop(grace time.Duration) {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Printf("[orchestrator.Runner] drained")
	case <-time.After(grace):
		log.Printf("[orchestrator.Runner] grace window expired with workers in flight")
	}
}

// workerLoop claims and processes batches until cancelled. An empty claim
// backs off for the poll interval.
func (r *Runner) workerLoop(ctx context.Context, id int) {
	o := r.orch
	for {
		if ctx.Err() != nil {
			return
		}
		batch, err := o.messages.ClaimBatch(ctx, o.cfg.BatchSize, o.cfg.ClaimLease)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[orchestrator.Runner] worker %d claim: %v", id, err)
			sleepCtx(ctx, o.cfg.PollInterval)
			continue
		}
		if len(batch) == 0 {
			sleepCtx(ctx, o.cfg.PollInterval)
			continue
		}

		seen := map[int64]*domain.Campaign{}
		for i := range batch {
			m := &batch[i]
			c := seen[m.CampaignID]
			if c == nil {
				c, err = o.campaigns.Get(ctx, m.CampaignID)
				if err != nil {
					log.Printf("[orchestrator.Runner] worker %d campaign %d: %v", id, m.CampaignID, err)
					continue
				}
				seen[m.CampaignID] = c
			}
			if c.Status != domain.CampaignRunning {
				// Paused or closed since the claim; the lease expires and
				// the message waits.
				continue
			}
			o.processMessage(ctx, c, m)

			if ctx.Err() != nil {
				// Shutdown mid-batch: finish nothing further; leased
				// messages resurface after the lease.
				return
			}
		}

		for campaignID := range seen {
			o.checkCompletion(ctx, campaignID)
		}
	}
}

// reapLoop periodically returns lease-expired SENDING rows to QUEUED. A
// worker killed between the SENDING move and the provider verdict would
// otherwise strand the row and hold its campaign open forever.
func (r *Runner) reapLoop(ctx context.Context) {
	o := r.orch
	t := time.NewTicker(o.cfg.ClaimLease)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := o.messages.ReapStuck(ctx)
			if err != nil {
				log.Printf("[orchestrator.Runner] reap: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("[orchestrator.Runner] requeued %d lease-expired messages", n)
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
