package orchestrator

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"time"

	"github.com/ignite/event-stream-engine/internal/domain"
	"github.com/ignite/event-stream-engine/internal/provider"
	"github.com/ignite/event-stream-engine/internal/store"
	"github.com/ignite/event-stream-engine/internal/template"
)

// pipelineOutcome is the stage-6 audit summary of one pass over a message.
type pipelineOutcome struct {
	stage  string
	result string
	reason string
	detail map[string]any
}

// processMessage drives one claimed QUEUED message through the compliance
// pipeline. Deferrals (quiet hours, rate limit) reschedule without a state
// change; the dispatch stage owns QUEUED->SENDING. Stage 6 (audit) runs on
// every path.
func (o *Orchestrator) processMessage(ctx context.Context, c *domain.Campaign, m *domain.Message) {
	outcome := o.runStages(ctx, c, m)

	o.auditEntry(ctx, &domain.AuditEntry{
		Kind:       domain.AuditPipelineOutcome,
		CampaignID: &m.CampaignID,
		MessageID:  &m.ID,
		PhoneE164:  m.RecipientPhone,
		Reason:     outcome.reason,
		Detail: mergeDetail(outcome.detail, map[string]any{
			"stage":  outcome.stage,
			"result": outcome.result,
		}),
	})
}

func (o *Orchestrator) runStages(ctx context.Context, c *domain.Campaign, m *domain.Message) pipelineOutcome {
	now := o.clk.Now()

	// Stage 1: consent.
	eligible, reason, err := o.consent.IsEligible(ctx, m.RecipientPhone)
	if err != nil {
		return o.deferMessage(ctx, m, now.Add(o.cfg.ClaimLease), "consent", "error", err)
	}
	if !eligible {
		o.transitionFailed(ctx, m, domain.MessageQueued, nil)
		return pipelineOutcome{stage: "consent", result: "failed",
			reason: domain.ReasonConsentBlocked, detail: map[string]any{"consent": reason}}
	}

	// Stage 2: quiet hours, in the recipient's zone when set.
	window, err := o.quietWindow(ctx, c, m.RecipientPhone)
	if err != nil {
		log.Printf("[orchestrator] message %s quiet window: %v", m.ID, err)
	}
	if window != nil && window.Contains(now) {
		next := window.NextAllowed(now)
		if err := o.messages.Delay(ctx, m.ID, next); err != nil && !errors.Is(err, store.ErrConflict) {
			log.Printf("[orchestrator] message %s delay: %v", m.ID, err)
		}
		return pipelineOutcome{stage: "quiet_hours", result: "deferred",
			reason: domain.ReasonQuietHours, detail: map[string]any{"next_allowed": next.Format(time.RFC3339)}}
	}

	// Stage 3: rate limit. Deferrals here never consume the retry budget.
	res, err := o.limiter.TryAcquire(ctx, m.CampaignID, c.RateLimitPerSecond, now)
	if err != nil {
		return o.deferMessage(ctx, m, now.Add(time.Second), "rate_limit", "error", err)
	}
	if !res.Admitted {
		if err := o.messages.Delay(ctx, m.ID, now.Add(res.RetryAfter)); err != nil && !errors.Is(err, store.ErrConflict) {
			log.Printf("[orchestrator] message %s delay: %v", m.ID, err)
		}
		return pipelineOutcome{stage: "rate_limit", result: "deferred",
			reason: domain.ReasonRateLimited, detail: map[string]any{"retry_after_ms": res.RetryAfter.Milliseconds()}}
	}

	// Stage 4: content validation.
	if why := validateContent(m.RenderedContent); why != "" {
		o.transitionFailed(ctx, m, domain.MessageQueued, nil)
		return pipelineOutcome{stage: "content", result: "failed",
			reason: domain.ReasonContentInvalid, detail: map[string]any{"violation": why}}
	}

	// Stage 5: dispatch.
	return o.dispatch(ctx, m)
}

// dispatch performs the QUEUED->SENDING move, the provider call, and the
// resulting transition. A lost CAS on the first move means another worker
// owns the message.
func (o *Orchestrator) dispatch(ctx context.Context, m *domain.Message) pipelineOutcome {
	err := o.messages.Transition(ctx, m.ID, domain.MessageQueued, domain.MessageSending, store.TransitionUpdate{})
	if errors.Is(err, store.ErrConflict) {
		return pipelineOutcome{stage: "dispatch", result: "skipped", reason: "claimed_elsewhere"}
	}
	if err != nil {
		log.Printf("[orchestrator] message %s to sending: %v", m.ID, err)
		return pipelineOutcome{stage: "dispatch", result: "error", reason: err.Error()}
	}

	o.auditEntry(ctx, &domain.AuditEntry{
		Kind:       domain.AuditDispatchAttempt,
		CampaignID: &m.CampaignID,
		MessageID:  &m.ID,
		PhoneE164:  m.RecipientPhone,
		Detail:     map[string]any{"attempt": m.RetryCount + 1},
	})

	to := m.RecipientPhone
	if m.Channel != "" && m.Channel != domain.ChannelSMS {
		to = m.Channel + ":" + m.RecipientPhone
	}

	sendCtx, cancel := context.WithTimeout(ctx, o.cfg.ProviderTimeout)
	sid, err := o.provider.Send(sendCtx, to, m.RenderedContent)
	cancel()

	if err == nil {
		now := o.clk.Now()
		terr := o.messages.Transition(ctx, m.ID, domain.MessageSending, domain.MessageSent,
			store.TransitionUpdate{ProviderSid: &sid, SentAt: &now})
		if terr != nil && !errors.Is(terr, store.ErrConflict) {
			log.Printf("[orchestrator] message %s to sent: %v", m.ID, terr)
		}
		return pipelineOutcome{stage: "dispatch", result: "sent", detail: map[string]any{"provider_sid": sid}}
	}

	var perr *provider.Error
	if !errors.As(err, &perr) {
		// No provider verdict: the send was cut off before an answer, most
		// commonly by shutdown cancelling the worker context. Return the
		// message to the queue with the retry budget untouched; scheduled_at
		// still carries the claim lease, so it resurfaces on the next run.
		// The write uses a detached context so shutdown cannot strand the row.
		rctx := context.WithoutCancel(ctx)
		terr := o.messages.Transition(rctx, m.ID, domain.MessageSending, domain.MessageQueued, store.TransitionUpdate{})
		if terr != nil && !errors.Is(terr, store.ErrConflict) {
			log.Printf("[orchestrator] message %s back to queued: %v", m.ID, terr)
		}
		return pipelineOutcome{stage: "dispatch", result: "returned",
			reason: domain.ReasonProviderTransient, detail: map[string]any{"error": err.Error()}}
	}

	if perr.Kind == provider.KindTransient {
		attempt := m.RetryCount + 1
		if attempt > domain.MaxTransientRetries {
			o.transitionFailed(ctx, m, domain.MessageSending, codePtr(perr))
			return pipelineOutcome{stage: "dispatch", result: "failed",
				reason: domain.ReasonRetriesExhausted, detail: map[string]any{"code": perr.Code}}
		}
		notBefore := o.clk.Now().Add(backoff(attempt))
		if rerr := o.messages.Requeue(ctx, m.ID, notBefore, codePtr(perr)); rerr != nil && !errors.Is(rerr, store.ErrConflict) {
			log.Printf("[orchestrator] message %s requeue: %v", m.ID, rerr)
		}
		return pipelineOutcome{stage: "dispatch", result: "retried",
			reason: domain.ReasonProviderTransient, detail: map[string]any{"code": perr.Code, "attempt": attempt}}
	}

	// Permanent provider rejection: terminal, never retried.
	o.transitionFailed(ctx, m, domain.MessageSending, codePtr(perr))
	return pipelineOutcome{stage: "dispatch", result: "failed",
		reason: domain.ReasonProviderPermanent, detail: map[string]any{"code": perr.Code}}
}

// deferMessage pushes a message out after an infrastructure error so the
// claim loop retries it later without burning the retry budget.
func (o *Orchestrator) deferMessage(ctx context.Context, m *domain.Message, notBefore time.Time, stage, result string, cause error) pipelineOutcome {
	if err := o.messages.Delay(ctx, m.ID, notBefore); err != nil && !errors.Is(err, store.ErrConflict) {
		log.Printf("[orchestrator] message %s defer: %v", m.ID, err)
	}
	return pipelineOutcome{stage: stage, result: result, reason: cause.Error()}
}

func (o *Orchestrator) transitionFailed(ctx context.Context, m *domain.Message, from domain.MessageStatus, code *int) {
	err := o.messages.Transition(ctx, m.ID, from, domain.MessageFailed, store.TransitionUpdate{ErrorCode: code})
	if err != nil && !errors.Is(err, store.ErrConflict) {
		log.Printf("[orchestrator] message %s to failed: %v", m.ID, err)
	}
}

// quietWindow resolves the effective quiet window: campaign quiet hours in
// the recipient's attributes.timezone when present, else the campaign zone.
func (o *Orchestrator) quietWindow(ctx context.Context, c *domain.Campaign, phone string) (*domain.QuietWindow, error) {
	if c.QuietHoursStart == "" || c.QuietHoursEnd == "" {
		return nil, nil
	}
	zone := c.Timezone
	rec, err := o.recipients.Get(ctx, phone)
	if err == nil {
		if tz, ok := rec.Attributes["timezone"].(string); ok && tz != "" {
			zone = tz
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	w, werr := domain.ParseQuietWindow(c.QuietHoursStart, c.QuietHoursEnd, zone)
	if werr != nil && zone != c.Timezone {
		// Bad recipient zone: fall back to the campaign default.
		return domain.ParseQuietWindow(c.QuietHoursStart, c.QuietHoursEnd, c.Timezone)
	}
	return w, werr
}

// validateContent re-checks rendered content just before dispatch. Returns
// an empty string when valid.
func validateContent(content string) string {
	if content == "" {
		return "empty"
	}
	if len(content) > domain.MaxContentLength {
		return "too_long"
	}
	if names := template.Placeholders(content); len(names) > 0 {
		return "unsubstituted_placeholders"
	}
	return ""
}

// backoff returns the delay before transient retry k (1-based):
// min(60*2^(k-1), 3600) seconds with 20% jitter in both directions.
func backoff(k int) time.Duration {
	secs := 60 * (1 << (k - 1))
	if secs > 3600 {
		secs = 3600
	}
	base := time.Duration(secs) * time.Second
	jitter := time.Duration(rand.Int63n(int64(base) * 2 / 5))
	return base - base/5 + jitter
}

func codePtr(e *provider.Error) *int {
	c := e.Code
	return &c
}

func mergeDetail(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
