// Package ingest normalizes provider webhooks. Raw payloads are persisted
// before any other side-effect; once the raw row exists, downstream failures
// are logged and swallowed so the provider never retries on our account.
package ingest

import (
	"context"
	"errors"
	"log"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ignite/event-stream-engine/internal/domain"
	"github.com/ignite/event-stream-engine/internal/store"
)

// EventSink persists the append-only raw capture rows.
type EventSink interface {
	InsertInbound(ctx context.Context, e *domain.InboundEvent) (string, error)
	MarkInboundProcessed(ctx context.Context, id string) error
	InsertReceipt(ctx context.Context, d *domain.DeliveryReceipt) (string, error)
}

// RecipientSink upserts recipients observed on inbound traffic.
type RecipientSink interface {
	Upsert(ctx context.Context, phone string, attrs map[string]any, consent domain.ConsentState) error
}

// MessageStore correlates status callbacks with messages.
type MessageStore interface {
	FindByProviderSid(ctx context.Context, sid string) (*domain.Message, error)
	Transition(ctx context.Context, id string, from, to domain.MessageStatus, u store.TransitionUpdate) error
}

// ConsentApplier applies keyword-driven consent transitions.
type ConsentApplier interface {
	ApplyInboundKeyword(ctx context.Context, phone, body string) error
}

// Ingestor is the webhook entry point behind the HTTP handlers.
type Ingestor struct {
	events     EventSink
	recipients RecipientSink
	messages   MessageStore
	consent    ConsentApplier
	now        func() time.Time
}

// NewIngestor wires the ingestor. now is injectable for tests; nil uses the
// system clock.
func NewIngestor(events EventSink, recipients RecipientSink, messages MessageStore, consent ConsentApplier, now func() time.Time) *Ingestor {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Ingestor{events: events, recipients: recipients, messages: messages, consent: consent, now: now}
}

// Inbound processes one inbound message webhook. The raw row insert is the
// only operation that can fail the request; everything after it degrades to
// a log line.
func (i *Ingestor) Inbound(ctx context.Context, form url.Values, raw []byte) error {
	channel, phone := domain.ExtractChannelAndPhone(form.Get("From"))

	event := &domain.InboundEvent{
		RawPayload:        raw,
		FromPhone:         phone,
		ChannelType:       channel,
		NormalizedBody:    form.Get("Body"),
		ProviderMessageID: form.Get("MessageSid"),
	}
	eventID, err := i.events.InsertInbound(ctx, event)
	if err != nil {
		return err
	}

	if phone == "" {
		// Unparseable sender: keep the raw row, skip normalization.
		log.Printf("[ingest.Ingestor] inbound %s: unparseable From %q", eventID, form.Get("From"))
		return nil
	}

	attrs := map[string]any{
		"last_inbound_at": i.now().Format(time.RFC3339),
		"channel":         channel,
	}
	if name := form.Get("ProfileName"); name != "" {
		attrs["profile_name"] = name
	}
	if waID := form.Get("WaId"); waID != "" {
		attrs["wa_id"] = waID
	}

	if err := i.recipients.Upsert(ctx, phone, attrs, domain.ConsentOptIn); err != nil {
		log.Printf("[ingest.Ingestor] inbound %s: upsert %s: %v", eventID, domain.MaskPhone(phone), err)
		return nil
	}
	if err := i.consent.ApplyInboundKeyword(ctx, phone, form.Get("Body")); err != nil {
		log.Printf("[ingest.Ingestor] inbound %s: consent %s: %v", eventID, domain.MaskPhone(phone), err)
		return nil
	}
	if err := i.events.MarkInboundProcessed(ctx, eventID); err != nil {
		log.Printf("[ingest.Ingestor] inbound %s: mark processed: %v", eventID, err)
	}
	return nil
}

// Status processes one delivery status callback. Replays and out-of-order
// callbacks collapse to no-ops through the transition DAG and the CAS guard.
func (i *Ingestor) Status(ctx context.Context, form url.Values, raw []byte) error {
	sid := form.Get("MessageSid")
	wireStatus := form.Get("MessageStatus")

	receipt := &domain.DeliveryReceipt{
		RawPayload:    raw,
		ProviderSid:   sid,
		MessageStatus: wireStatus,
	}
	if code, ok := parseErrorCode(form.Get("ErrorCode")); ok {
		receipt.ErrorCode = &code
	}
	if _, err := i.events.InsertReceipt(ctx, receipt); err != nil {
		return err
	}

	callback, ok := domain.CallbackStatus(wireStatus)
	if !ok || sid == "" {
		return nil
	}

	if err := i.applyCallback(ctx, sid, callback, receipt.ErrorCode); err != nil {
		log.Printf("[ingest.Ingestor] status %s -> %s: %v", sid, callback, err)
	}
	return nil
}

// applyCallback resolves the message and applies the DAG-guarded transition.
// A lost CAS means a concurrent writer moved the row; re-read and retry
// against the new state.
func (i *Ingestor) applyCallback(ctx context.Context, sid string, callback domain.MessageStatus, errorCode *int) error {
	for attempt := 0; attempt < 3; attempt++ {
		msg, err := i.messages.FindByProviderSid(ctx, sid)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		target, apply := domain.ApplyCallback(msg.Status, callback)
		if !apply {
			return nil
		}

		u := store.TransitionUpdate{ErrorCode: errorCode}
		now := i.now()
		switch target {
		case domain.MessageSent:
			u.SentAt = &now
		case domain.MessageDelivered:
			u.DeliveredAt = &now
		}

		err = i.messages.Transition(ctx, msg.ID, msg.Status, target, u)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return err
		}
	}
	return nil
}

func parseErrorCode(s string) (int, bool) {
	code, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return code, true
}
