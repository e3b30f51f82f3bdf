// Package scheduler promotes scheduled campaigns when their start time
// arrives. Message-level delays need no poller of their own: deferred
// messages carry a future scheduled_at and the orchestrator's claim query
// skips them until due.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/ignite/event-stream-engine/internal/domain"
)

// CampaignSource lists READY campaigns whose schedule_time has passed.
type CampaignSource interface {
	DueScheduled(ctx context.Context) ([]domain.Campaign, error)
}

// TriggerFunc starts one campaign run. Triggering is idempotent, so firing
// for an already-running campaign is harmless.
type TriggerFunc func(ctx context.Context, campaignID int64) error

// CampaignPoller periodically scans for due campaigns and triggers them.
type CampaignPoller struct {
	source   CampaignSource
	trigger  TriggerFunc
	interval time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewCampaignPoller creates a poller. A non-positive interval defaults to
// ten seconds.
func NewCampaignPoller(source CampaignSource, trigger TriggerFunc, interval time.Duration) *CampaignPoller {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &CampaignPoller{source: source, trigger: trigger, interval: interval}
}

// Start launches the poll loop. Safe to call once; a second call is a no-op.
func (p *CampaignPoller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.running = true

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.poll(ctx)
			}
		}
	}()
	log.Printf("[scheduler.CampaignPoller] started (interval %s)", p.interval)
}

// Stop halts the poll loop and waits for the in-flight scan.
func (p *CampaignPoller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	log.Printf("[scheduler.CampaignPoller] stopped")
}

func (p *CampaignPoller) poll(ctx context.Context) {
	due, err := p.source.DueScheduled(ctx)
	if err != nil {
		log.Printf("[scheduler.CampaignPoller] scan: %v", err)
		return
	}
	for _, c := range due {
		if err := p.trigger(ctx, c.ID); err != nil {
			log.Printf("[scheduler.CampaignPoller] trigger campaign %d: %v", c.ID, err)
		}
	}
}
