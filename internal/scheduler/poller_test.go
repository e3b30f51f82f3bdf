package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ignite/event-stream-engine/internal/domain"
)

type fakeSource struct {
	mu  sync.Mutex
	due []domain.Campaign
}

func (f *fakeSource) DueScheduled(context.Context) ([]domain.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.due
	f.due = nil
	return out, nil
}

func TestPollerTriggersDueCampaigns(t *testing.T) {
	source := &fakeSource{due: []domain.Campaign{{ID: 1}, {ID: 2}}}

	var mu sync.Mutex
	var triggered []int64
	trigger := func(_ context.Context, id int64) error {
		mu.Lock()
		defer mu.Unlock()
		triggered = append(triggered, id)
		return nil
	}

	p := NewCampaignPoller(source, trigger, 10*time.Millisecond)
	p.Start()
	defer p.Stop()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(triggered) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.ElementsMatch(t, []int64{1, 2}, triggered)
	mu.Unlock()
}

func TestPollerStartStopIdempotent(t *testing.T) {
	p := NewCampaignPoller(&fakeSource{}, func(context.Context, int64) error { return nil }, time.Millisecond)
	p.Start()
	p.Start()
	p.Stop()
	p.Stop()
}
