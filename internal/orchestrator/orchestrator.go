// Package orchestrator drives campaigns: it materializes messages from
// segment evaluation and pushes every queued message through the six-stage
// compliance pipeline (consent, quiet hours, rate limit, content, dispatch,
// audit).
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ignite/event-stream-engine/internal/domain"
	"github.com/ignite/event-stream-engine/internal/pkg/clock"
	"github.com/ignite/event-stream-engine/internal/pkg/distlock"
	"github.com/ignite/event-stream-engine/internal/ratelimit"
	"github.com/ignite/event-stream-engine/internal/segment"
	"github.com/ignite/event-stream-engine/internal/store"
	"github.com/ignite/event-stream-engine/internal/template"
)

// cursorDone marks a campaign whose materialization has drained. The zero
// cursor "" means not started; any E.164 value means resumable progress.
// Real cursors always start with "+", so the marker cannot collide.
const cursorDone = "done"

// CampaignStore is the campaign persistence the orchestrator needs.
type CampaignStore interface {
	Get(ctx context.Context, id int64) (*domain.Campaign, error)
	TransitionStatus(ctx context.Context, id int64, from, to domain.CampaignStatus) error
	SetCursor(ctx context.Context, id int64, cursor string) error
}

// MessageStore is the message persistence the orchestrator needs.
type MessageStore interface {
	Create(ctx context.Context, m *domain.Message) (bool, error)
	Transition(ctx context.Context, id string, from, to domain.MessageStatus, u store.TransitionUpdate) error
	Requeue(ctx context.Context, id string, notBefore time.Time, errorCode *int) error
	Delay(ctx context.Context, id string, notBefore time.Time) error
	ClaimBatch(ctx context.Context, limit int, lease time.Duration) ([]domain.Message, error)
	ReapStuck(ctx context.Context) (int64, error)
	CountPending(ctx context.Context, campaignID int64) (int, error)
}

// TemplateStore resolves campaign templates.
type TemplateStore interface {
	Get(ctx context.Context, id int64) (*domain.Template, error)
}

// SegmentStore resolves stored segment definitions.
type SegmentStore interface {
	Get(ctx context.Context, id int64) (*domain.Segment, error)
}

// RecipientStore resolves recipients for quiet-hour timezone lookup.
type RecipientStore interface {
	Get(ctx context.Context, phone string) (*domain.Recipient, error)
}

// AuditSink appends to the compliance audit trail.
type AuditSink interface {
	Insert(ctx context.Context, e *domain.AuditEntry) (string, error)
}

// ConsentChecker computes recipient eligibility.
type ConsentChecker interface {
	IsEligible(ctx context.Context, phone string) (bool, string, error)
}

// Evaluator pages recipients matching a segment rule tree.
type Evaluator interface {
	Page(ctx context.Context, tree *segment.Node, cursor string) ([]domain.Recipient, string, error)
}

// ProviderClient is the outbound delivery capability.
type ProviderClient interface {
	Send(ctx context.Context, to, body string) (string, error)
}

// LockFactory builds the per-campaign run lock.
type LockFactory func(campaignID int64) distlock.DistLock

// Config tunes the orchestrator.
type Config struct {
	Workers         int
	BatchSize       int
	ClaimLease      time.Duration
	PollInterval    time.Duration
	ProviderTimeout time.Duration
	LockTTL         time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.ClaimLease <= 0 {
		c.ClaimLease = time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = 10 * time.Second
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 5 * time.Minute
	}
	return c
}

// Orchestrator owns campaign runs. One Trigger per campaign is active at a
// time, enforced by the distributed run lock.
type Orchestrator struct {
	campaigns  CampaignStore
	messages   MessageStore
	templates  TemplateStore
	segments   SegmentStore
	recipients RecipientStore
	audit      AuditSink
	consent    ConsentChecker
	evaluator  Evaluator
	limiter    ratelimit.Limiter
	provider   ProviderClient
	clk        clock.Clock
	locks      LockFactory
	cfg        Config
}

// New wires an orchestrator.
func New(
	campaigns CampaignStore, messages MessageStore, templates TemplateStore,
	segments SegmentStore, recipients RecipientStore, audit AuditSink,
	consent ConsentChecker, evaluator Evaluator, limiter ratelimit.Limiter,
	provider ProviderClient, clk clock.Clock, locks LockFactory, cfg Config,
) *Orchestrator {
	return &Orchestrator{
		campaigns: campaigns, messages: messages, templates: templates,
		segments: segments, recipients: recipients, audit: audit,
		consent: consent, evaluator: evaluator, limiter: limiter,
		provider: provider, clk: clk, locks: locks, cfg: cfg.withDefaults(),
	}
}

// TriggerResult reports the campaign state after a trigger call.
type TriggerResult struct {
	Status domain.CampaignStatus `json:"status"`
	TaskID string                `json:"taskId"`
}

// Trigger starts (or resumes) a campaign run. Concurrent triggers are
// idempotent: the second caller fails to take the run lock and observes the
// already-running campaign. A RUNNING campaign re-trigger resumes
// materialization from the persisted cursor.
func (o *Orchestrator) Trigger(ctx context.Context, campaignID int64) (*TriggerResult, error) {
	c, err := o.campaigns.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	taskID := fmt.Sprintf("run-%d", campaignID)

	switch c.Status {
	case domain.CampaignCompleted, domain.CampaignFailed, domain.CampaignPaused:
		return &TriggerResult{Status: c.Status, TaskID: taskID}, nil
	}

	lock := o.locks(campaignID)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !acquired {
		// Another runner owns this campaign; report its current state.
		return &TriggerResult{Status: c.Status, TaskID: taskID}, nil
	}

	if c.Status == domain.CampaignDraft {
		if err := o.campaigns.TransitionStatus(ctx, campaignID, domain.CampaignDraft, domain.CampaignReady); err != nil {
			lock.Release(ctx)
			return nil, err
		}
		c.Status = domain.CampaignReady
	}
	if c.Status == domain.CampaignReady {
		if err := o.campaigns.TransitionStatus(ctx, campaignID, domain.CampaignReady, domain.CampaignRunning); err != nil {
			lock.Release(ctx)
			return nil, err
		}
		c.Status = domain.CampaignRunning
	}

	go func() {
		defer lock.Release(context.Background())
		mctx := context.Background()
		if err := o.materialize(mctx, c); err != nil {
			log.Printf("[orchestrator] campaign %d materialization: %v", campaignID, err)
			o.failCampaign(mctx, campaignID)
			return
		}
		o.checkCompletion(mctx, campaignID)
	}()

	return &TriggerResult{Status: domain.CampaignRunning, TaskID: taskID}, nil
}

// Pause stops scheduling new pipeline stages. In-flight dispatches finish;
// queued messages stay QUEUED and resume on Resume.
func (o *Orchestrator) Pause(ctx context.Context, campaignID int64) error {
	return o.campaigns.TransitionStatus(ctx, campaignID, domain.CampaignRunning, domain.CampaignPaused)
}

// Resume restarts a paused campaign.
func (o *Orchestrator) Resume(ctx context.Context, campaignID int64) error {
	return o.campaigns.TransitionStatus(ctx, campaignID, domain.CampaignPaused, domain.CampaignRunning)
}

// materialize streams the campaign segment and creates one QUEUED message
// per eligible recipient. The cursor is committed after every page so a
// crashed run resumes instead of restarting; duplicate creates collapse on
// the (campaign, recipient) unique key.
func (o *Orchestrator) materialize(ctx context.Context, c *domain.Campaign) error {
	if c.MaterializeCursor == cursorDone {
		return nil
	}

	tmpl, err := o.templates.Get(ctx, c.TemplateID)
	if err != nil {
		return fmt.Errorf("resolve template %d: %w", c.TemplateID, err)
	}

	tree, err := o.resolveTree(ctx, c)
	if err != nil {
		return err
	}

	cursor := c.MaterializeCursor
	created := 0
	for {
		recipients, next, err := o.evaluator.Page(ctx, tree, cursor)
		if err != nil {
			return fmt.Errorf("evaluate segment: %w", err)
		}
		for _, rec := range recipients {
			rendered, err := template.Render(tmpl.Content, rec.Attributes)
			if err != nil {
				var missing *template.MissingVarsError
				if errors.As(err, &missing) {
					o.auditEntry(ctx, &domain.AuditEntry{
						Kind:       domain.AuditRenderSkipped,
						CampaignID: &c.ID,
						PhoneE164:  rec.PhoneE164,
						Reason:     domain.ReasonContentInvalid,
						Detail:     map[string]any{"missing": missing.Missing},
					})
					continue
				}
				return fmt.Errorf("render for %s: %w", domain.MaskPhone(rec.PhoneE164), err)
			}
			inserted, err := o.messages.Create(ctx, &domain.Message{
				CampaignID:      c.ID,
				RecipientPhone:  rec.PhoneE164,
				RenderedContent: rendered,
				Channel:         tmpl.Channel,
			})
			if err != nil {
				return fmt.Errorf("create message for %s: %w", domain.MaskPhone(rec.PhoneE164), err)
			}
			if inserted {
				created++
			}
		}
		if next == "" {
			break
		}
		cursor = next
		if err := o.campaigns.SetCursor(ctx, c.ID, cursor); err != nil {
			return fmt.Errorf("commit cursor: %w", err)
		}
	}

	if err := o.campaigns.SetCursor(ctx, c.ID, cursorDone); err != nil {
		return fmt.Errorf("commit final cursor: %w", err)
	}
	log.Printf("[orchestrator] campaign %d materialized %d messages", c.ID, created)
	return nil
}

// resolveTree loads the campaign's segment definition. A campaign without a
// segment targets every opted-in recipient.
func (o *Orchestrator) resolveTree(ctx context.Context, c *domain.Campaign) (*segment.Node, error) {
	if c.SegmentID == nil {
		return segment.Parse([]byte(`{"attribute":"consent_state","operator":"equals","value":"OPT_IN"}`))
	}
	seg, err := o.segments.Get(ctx, *c.SegmentID)
	if err != nil {
		return nil, fmt.Errorf("resolve segment %d: %w", *c.SegmentID, err)
	}
	tree, err := segment.Parse(seg.Definition)
	if err != nil {
		return nil, fmt.Errorf("segment %d definition: %w", *c.SegmentID, err)
	}
	return tree, nil
}

// checkCompletion closes a drained campaign: materialization finished and
// every message is terminal. Losing the CAS to a concurrent pause or
// completion is fine.
func (o *Orchestrator) checkCompletion(ctx context.Context, campaignID int64) {
	c, err := o.campaigns.Get(ctx, campaignID)
	if err != nil || c.Status != domain.CampaignRunning || c.MaterializeCursor != cursorDone {
		return
	}
	pending, err := o.messages.CountPending(ctx, campaignID)
	if err != nil || pending > 0 {
		return
	}
	err = o.campaigns.TransitionStatus(ctx, campaignID, domain.CampaignRunning, domain.CampaignCompleted)
	if err == nil {
		log.Printf("[orchestrator] campaign %d completed", campaignID)
	}
}

func (o *Orchestrator) failCampaign(ctx context.Context, campaignID int64) {
	if err := o.campaigns.TransitionStatus(ctx, campaignID, domain.CampaignRunning, domain.CampaignFailed); err != nil {
		log.Printf("[orchestrator] campaign %d fail transition: %v", campaignID, err)
	}
}

func (o *Orchestrator) auditEntry(ctx context.Context, e *domain.AuditEntry) {
	if _, err := o.audit.Insert(ctx, e); err != nil {
		log.Printf("[orchestrator] audit %s: %v", e.Kind, err)
	}
}
